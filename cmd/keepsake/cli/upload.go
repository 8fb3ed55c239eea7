package cli

import (
	"errors"
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/felixgeelhaar/keepsake/internal/guard"
	"github.com/felixgeelhaar/keepsake/internal/media"
	"github.com/felixgeelhaar/keepsake/internal/upload"
)

var (
	uploadAmbient  string
	uploadTerminal string
	uploadPhoto    string
	uploadGallery  []string
)

var uploadCmd = &cobra.Command{
	Use:   "upload",
	Short: "Store the story's media",
	Long: `Stores the ambient track, the final track, the riddle photo and the
gallery in the local asset store. Gallery arguments may be globs such as
'photos/**/*.jpg'.`,
	Args: cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := loadConfig()
		if err != nil {
			return err
		}
		out := cmd.OutOrStdout()
		if cfg.Backend != media.BackendStored {
			fmt.Fprintf(out, "Note: backend is %q; uploaded media is only played with the stored backend.\n", cfg.Backend)
		}

		gallery, err := upload.ExpandGallery(uploadGallery)
		if err != nil {
			return err
		}

		s, err := getStore(cfg.DataDir)
		if err != nil {
			return err
		}
		defer s.Close()

		obs := newObserver(os.Stderr)
		defer obs.Close()

		u := upload.New(s, guard.New(cfg.Policy), obs)
		err = u.Upload(cmd.Context(), upload.Bundle{
			Ambient:  uploadAmbient,
			Terminal: uploadTerminal,
			Photo:    uploadPhoto,
			Gallery:  gallery,
		})
		if errors.Is(err, upload.ErrUploadFailed) {
			fmt.Fprintln(cmd.ErrOrStderr(), upload.UserMessage)
			return err
		}
		if err != nil {
			return err
		}

		kept := min(len(gallery), cfg.Policy.MaxGalleryPhotos)
		if cfg.Policy.MaxGalleryPhotos <= 0 {
			kept = len(gallery)
		}
		fmt.Fprintf(out, "Uploaded 3 files and %d gallery photos. Run 'keepsake play' to start.\n", kept)
		return nil
	},
}

func init() {
	RootCmd.AddCommand(uploadCmd)
	uploadCmd.Flags().StringVar(&uploadAmbient, "ambient", "", "Ambient track played under every scene")
	uploadCmd.Flags().StringVar(&uploadTerminal, "terminal", "", "Track played on the closing scene")
	uploadCmd.Flags().StringVar(&uploadPhoto, "photo", "", "Photo revealed after the riddle")
	uploadCmd.Flags().StringSliceVar(&uploadGallery, "gallery", nil, "Gallery photos or globs (repeatable)")
}
