package cmd

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/BioHazard786/huddle/internal/fileapi"
	"github.com/BioHazard786/huddle/internal/transfer"
	"github.com/BioHazard786/huddle/internal/ui"
	"github.com/BioHazard786/huddle/internal/utils"
	"github.com/spf13/cobra"
)

var flagOutDir string

var downloadCmd = &cobra.Command{
	Use:     "download <file-id>",
	Aliases: []string{"dl"},
	Short:   "Download a shared file by id",
	Long: `Download a file shared in a room. File ids are listed by "huddle files".
An existing file with the same name is never overwritten.

Examples:
  huddle download 3f1c2a9e-7b7d-4c55-9d8e-0c8d6f0e2b11
  huddle download 3f1c2a9e-7b7d-4c55-9d8e-0c8d6f0e2b11 -o ~/Downloads`,
	Args: cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := loadConfig()
		if err != nil {
			return err
		}
		fileID := args[0]

		tmp, err := os.CreateTemp(flagOutDir, ".huddle-*")
		if err != nil {
			return transfer.NewError("download", err)
		}
		defer os.Remove(tmp.Name())

		spinner := ui.NewConnectionSpinner("Downloading...")
		spinner.Start()
		n, name, err := fileapi.New(cfg.API, nil).Download(cmd.Context(), fileID, tmp)
		if cerr := tmp.Close(); err == nil {
			err = cerr
		}
		if err != nil {
			spinner.Error("Download failed")
			return transfer.NewFileError("download", fileID, err)
		}
		spinner.Stop()

		name = filepath.Base(name)
		if name == "." || name == string(filepath.Separator) || name == "" {
			name = fileID
		}
		dest := utils.GetUniqueFilename(filepath.Join(flagOutDir, name))
		if err := os.Rename(tmp.Name(), dest); err != nil {
			return transfer.NewFileError("download", name, err)
		}

		ui.PrintSuccess(fmt.Sprintf("Saved %s (%s)", dest, utils.FormatSize(n)))
		return nil
	},
}

func init() {
	downloadCmd.Flags().StringVarP(&flagOutDir, "output", "o", ".", "directory to save into")
	rootCmd.AddCommand(downloadCmd)
}
