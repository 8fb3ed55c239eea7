package ui

// UI receives narrative updates from the runner.
type UI interface {
	UpdateStatus(status string)
	UpdateScene(index int)
	Log(msg string)
}

type SilentUI struct{}

func (s SilentUI) UpdateStatus(status string) {}
func (s SilentUI) UpdateScene(index int)      {}
func (s SilentUI) Log(msg string)             {}
