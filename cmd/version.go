package cmd

import (
	"fmt"
	"runtime"

	"github.com/nchapman/modelfetch/internal/config"
	"github.com/nchapman/modelfetch/internal/ui"
	"github.com/nchapman/modelfetch/internal/version"
	"github.com/spf13/cobra"
)

var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "Show modelfetch version information",
	Run: func(cmd *cobra.Command, args []string) {
		fmt.Println(ui.Bold(fmt.Sprintf("modelfetch %s (%s/%s)", version.Version, runtime.GOOS, runtime.GOARCH)))

		fmt.Println()
		fmt.Println(ui.Bold("Registry:"))
		fmt.Printf("  Endpoint: %s\n", ui.Muted(appConfig.Endpoint()))
		if appConfig.Token() != "" {
			fmt.Printf("  Token:    %s\n", ui.Success("configured"))
		} else {
			fmt.Printf("  Token:    %s\n", ui.Muted("none"))
		}

		fmt.Println()
		fmt.Println(ui.Bold("Paths:"))
		fmt.Printf("  Config: %s\n", ui.Muted(config.ConfigPath()))
		fmt.Printf("  Models: %s\n", ui.Muted(appConfig.ModelsDirectory()))
		fmt.Printf("  Logs:   %s\n", ui.Muted(config.LogsPath()))
	},
}

func init() {
	rootCmd.AddCommand(versionCmd)
}
