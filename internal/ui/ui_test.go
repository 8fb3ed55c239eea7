package ui

import (
	"testing"
)

func TestSilentUI_UpdateStatus(t *testing.T) {
	ui := SilentUI{}
	// Should not panic
	ui.UpdateStatus("test status")
}

func TestSilentUI_UpdateScene(t *testing.T) {
	ui := SilentUI{}
	// Should not panic
	ui.UpdateScene(1)
	ui.UpdateScene(100)
	ui.UpdateScene(0)
}

func TestSilentUI_Log(t *testing.T) {
	ui := SilentUI{}
	// Should not panic
	ui.Log("test message")
	ui.Log("")
}

func TestSilentUI_ImplementsInterface(t *testing.T) {
	// Verify SilentUI implements UI interface
	var _ UI = SilentUI{}
	var _ UI = &SilentUI{}
}

// MockUI implements UI interface for testing
type MockUI struct {
	StatusUpdates []string
	SceneUpdates  []int
	LogMessages   []string
}

func (m *MockUI) UpdateStatus(status string) {
	m.StatusUpdates = append(m.StatusUpdates, status)
}

func (m *MockUI) UpdateScene(index int) {
	m.SceneUpdates = append(m.SceneUpdates, index)
}

func (m *MockUI) Log(msg string) {
	m.LogMessages = append(m.LogMessages, msg)
}

func TestMockUI_UpdateStatus(t *testing.T) {
	ui := &MockUI{}

	ui.UpdateStatus("status1")
	ui.UpdateStatus("status2")

	if len(ui.StatusUpdates) != 2 {
		t.Errorf("expected 2 status updates, got %d", len(ui.StatusUpdates))
	}
	if ui.StatusUpdates[0] != "status1" {
		t.Errorf("expected 'status1', got %q", ui.StatusUpdates[0])
	}
	if ui.StatusUpdates[1] != "status2" {
		t.Errorf("expected 'status2', got %q", ui.StatusUpdates[1])
	}
}

func TestMockUI_UpdateScene(t *testing.T) {
	ui := &MockUI{}

	ui.UpdateScene(1)
	ui.UpdateScene(2)
	ui.UpdateScene(3)

	if len(ui.SceneUpdates) != 3 {
		t.Errorf("expected 3 scene updates, got %d", len(ui.SceneUpdates))
	}
	for i, expected := range []int{1, 2, 3} {
		if ui.SceneUpdates[i] != expected {
			t.Errorf("expected scene %d, got %d", expected, ui.SceneUpdates[i])
		}
	}
}

func TestMockUI_Log(t *testing.T) {
	ui := &MockUI{}

	ui.Log("message1")
	ui.Log("message2")

	if len(ui.LogMessages) != 2 {
		t.Errorf("expected 2 log messages, got %d", len(ui.LogMessages))
	}
	if ui.LogMessages[0] != "message1" {
		t.Errorf("expected 'message1', got %q", ui.LogMessages[0])
	}
}

func TestMockUI_ImplementsInterface(t *testing.T) {
	// Verify MockUI implements UI interface
	var _ UI = &MockUI{}
}

func TestUI_InterfaceMethods(t *testing.T) {
	// Test that the UI interface can be used polymorphically
	uis := []UI{
		SilentUI{},
		&MockUI{},
	}

	for _, ui := range uis {
		// These should all work without panic
		ui.UpdateStatus("test")
		ui.UpdateScene(1)
		ui.Log("test")
	}
}
