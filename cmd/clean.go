package cmd

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/nchapman/modelfetch/internal/download"
	"github.com/nchapman/modelfetch/internal/lock"
	"github.com/nchapman/modelfetch/internal/ui"
	"github.com/spf13/cobra"
)

var (
	cleanDir string
	cleanYes bool
)

var cleanCmd = &cobra.Command{
	Use:     "clean",
	Short:   "Remove partial downloads and unused lock files",
	GroupID: "model",
	Long: `Remove interrupted downloads (.partial files) and lock files nobody holds.

Partial files are what resumed downloads continue from, so only clean when
no pull is running and you do not want to resume.`,
	Args: cobra.NoArgs,
	Run: func(cmd *cobra.Command, args []string) {
		dir := cleanDir
		if dir == "" {
			dir = appConfig.ModelsDirectory()
		}

		partials, err := download.FindPartialFiles(dir)
		if err != nil {
			ui.Fatal("Failed to scan %s: %v", dir, err)
		}

		if len(partials) > 0 {
			fmt.Println(partialTable(partials).Render())
			if !cleanYes && !ui.Confirm(os.Stdin, os.Stdout, fmt.Sprintf("Remove %d partial download(s)?", len(partials)), false) {
				fmt.Println(ui.Muted("Nothing removed"))
				return
			}
		}

		removed, err := download.CleanupPartialFiles(dir)
		if err != nil {
			ui.PrintError("Failed to remove partial files: %v", err)
		}
		locks, err := lock.CleanUnheld(dir)
		if err != nil {
			ui.PrintError("Failed to remove lock files: %v", err)
		}

		fmt.Println(ui.Check(fmt.Sprintf("Removed %d partial download(s) and %d lock file(s)", removed, locks)))
	},
}

func partialTable(paths []string) *ui.Table {
	tbl := ui.NewTable().
		AddColumn("FILE", 0, ui.AlignLeft).
		AddColumn("SIZE", 10, ui.AlignRight)
	for _, p := range paths {
		size := "-"
		if info, err := os.Stat(p); err == nil {
			size = ui.FormatBytes(info.Size())
		}
		tbl.AddRow(filepath.Base(p), size)
	}
	return tbl
}

func init() {
	cleanCmd.Flags().StringVar(&cleanDir, "dir", "", "Clean this directory instead of the models directory")
	cleanCmd.Flags().BoolVarP(&cleanYes, "yes", "y", false, "Do not ask for confirmation")
	rootCmd.AddCommand(cleanCmd)
}
