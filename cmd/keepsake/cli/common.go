package cli

import (
	"fmt"
	"io"
	"os"
	"path/filepath"

	"github.com/felixgeelhaar/keepsake/internal/config"
	"github.com/felixgeelhaar/keepsake/internal/observe"
	"github.com/felixgeelhaar/keepsake/internal/store"
)

const dbName = "keepsake.db"

func getStore(dir string) (*store.SQLiteStore, error) {
	s, err := store.NewSQLiteStore(filepath.Join(dir, dbName))
	if err != nil {
		return nil, fmt.Errorf("failed to init store: %w", err)
	}
	return s, nil
}

func newObserver(out io.Writer) *observe.Observer {
	if jsonLogs {
		return observe.NewJSON(out, verbose)
	}
	return observe.New(out, verbose)
}

// loadConfig layers the config file, values saved with `config set` and the
// environment. --data-dir beats all of them.
func loadConfig() (*config.Config, error) {
	path := configPath
	if path == "" {
		if _, err := os.Stat(config.DefaultPath()); err == nil {
			path = config.DefaultPath()
		}
	}
	cfg, err := config.Load(path)
	if err != nil {
		return nil, err
	}
	if dataDir != "" {
		cfg.DataDir = dataDir
	}

	s, err := getStore(cfg.DataDir)
	if err != nil {
		return nil, err
	}
	defer s.Close()
	if err := cfg.ApplyOverrides(s); err != nil {
		return nil, err
	}
	if err := cfg.ApplyEnv(); err != nil {
		return nil, err
	}
	if dataDir != "" {
		cfg.DataDir = dataDir
	}
	return cfg, nil
}
