package cli

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/felixgeelhaar/keepsake/internal/media"
)

var statusCmd = &cobra.Command{
	Use:   "status",
	Short: "Show the media backend and whether it is ready to play",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := loadConfig()
		if err != nil {
			return err
		}
		out := cmd.OutOrStdout()
		fmt.Fprintf(out, "backend:  %s\n", cfg.Backend)

		if cfg.Backend == media.BackendConfigured {
			m := cfg.Media
			fmt.Fprintln(out, "ready:    yes")
			for _, p := range []struct{ name, path string }{
				{"ambientTrack", m.AmbientTrack},
				{"terminalTrack", m.TerminalTrack},
				{"singlePhoto", m.SinglePhoto},
			} {
				fmt.Fprintf(out, "  %-14s %s\n", p.name, orNotSet(p.path))
			}
			fmt.Fprintf(out, "  %-14s %d photos\n", "galleryPhotos", len(m.GalleryPhotos))
			return nil
		}

		s, err := getStore(cfg.DataDir)
		if err != nil {
			return err
		}
		defer s.Close()

		ctx := cmd.Context()
		ready, err := s.IsReady(ctx)
		if err != nil {
			return err
		}
		keys, err := s.Keys(ctx)
		if err != nil {
			return err
		}

		fmt.Fprintf(out, "data dir: %s\n", cfg.DataDir)
		if ready {
			fmt.Fprintln(out, "ready:    yes")
		} else {
			fmt.Fprintln(out, "ready:    no (run 'keepsake upload')")
		}
		for _, k := range keys {
			if k.IsCollection() {
				recs, err := s.GetCollection(ctx, k)
				if err != nil {
					return err
				}
				fmt.Fprintf(out, "  %-14s %d photos\n", k, len(recs))
				continue
			}
			fmt.Fprintf(out, "  %s\n", k)
		}
		return nil
	},
}

func orNotSet(v string) string {
	if v == "" {
		return "(not set)"
	}
	return v
}

func init() {
	RootCmd.AddCommand(statusCmd)
}
