package cli

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/spf13/cobra"

	"github.com/felixgeelhaar/keepsake/internal/media"
	"github.com/felixgeelhaar/keepsake/internal/store"
	"github.com/felixgeelhaar/keepsake/internal/ui/tui"
)

var (
	configPath string
	dataDir    string
	verbose    bool
	jsonLogs   bool
)

// RootCmd represents the base command when called without any subcommands
var RootCmd = &cobra.Command{
	Use:   "keepsake",
	Short: "A small interactive story for one person",
	Long: `Keepsake walks through six short scenes: two apologies, a riddle, a cake
to cut, a photo gallery and a closing note, over an ambient track that fades
into a final song.

Upload the media once with 'keepsake upload', then run 'keepsake play'.`,
	SilenceUsage:  true,
	SilenceErrors: true,
}

var playCmd = &cobra.Command{
	Use:   "play",
	Short: "Play the story in the terminal",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		return runPlay(cmd.Context())
	},
}

func Execute() {
	if err := RootCmd.Execute(); err != nil {
		fmt.Println(err)
		os.Exit(1)
	}
}

func init() {
	RootCmd.AddCommand(playCmd)
	RootCmd.PersistentFlags().StringVarP(&configPath, "config", "c", "", "Config file (default ~/.keepsake/config.yaml)")
	RootCmd.PersistentFlags().StringVar(&dataDir, "data-dir", "", "Directory for the asset database and logs")
	RootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "Enable verbose logging")
	RootCmd.PersistentFlags().BoolVar(&jsonLogs, "json", false, "Write logs as JSON")
}

func runPlay(ctx context.Context) error {
	if ctx == nil {
		ctx = context.Background()
	}
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	res := cfg.Validate()
	if !res.Valid {
		return fmt.Errorf("invalid configuration: %s", strings.Join(res.Errors, "; "))
	}

	// the TUI owns the terminal, so logs go to a file
	if err := os.MkdirAll(cfg.DataDir, 0750); err != nil {
		return fmt.Errorf("failed to create data dir: %w", err)
	}
	logFile, err := os.OpenFile(filepath.Join(cfg.DataDir, "keepsake.log"), os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0600)
	if err != nil {
		return fmt.Errorf("failed to open log file: %w", err)
	}
	defer logFile.Close()

	obs := newObserver(logFile)
	defer obs.Close()
	for _, w := range res.Warnings {
		obs.Log().Warn().Msg(w)
	}

	var s store.AssetStore
	if cfg.Backend == media.BackendStored {
		sq, err := getStore(cfg.DataDir)
		if err != nil {
			return err
		}
		defer sq.Close()
		s = sq
	}

	session, err := NewRunner(obs, cfg, s, nil).Build(ctx)
	if err != nil {
		obs.Log().Error().Err(err).Msg("Failed to build session")
		return err
	}
	defer func() {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		_ = session.Close(shutdownCtx)
	}()

	model := tui.NewModel("keepsake", session.Controller)
	program := tea.NewProgram(model, tea.WithAltScreen(), tea.WithMouseCellMotion())
	session.Attach(tui.NewTUI(program))

	if _, err := program.Run(); err != nil {
		return fmt.Errorf("alas, there's been an error: %w", err)
	}
	return nil
}
