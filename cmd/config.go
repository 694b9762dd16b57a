package cmd

import (
	"fmt"
	"os"
	"os/exec"

	"github.com/nchapman/modelfetch/internal/config"
	"github.com/nchapman/modelfetch/internal/ui"
	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"
)

var (
	showPath    bool
	showConfig  bool
	resetConfig bool
)

var configCmd = &cobra.Command{
	Use:   "config",
	Short: "Open or display configuration",
	Long: `Open the configuration file in your default editor, or display config information.

Examples:
  modelfetch config           # Open config in $EDITOR
  modelfetch config --path    # Print config file path
  modelfetch config --show    # Print the effective configuration
  modelfetch config --reset   # Reset config to defaults`,
	Args: cobra.NoArgs,
	Run: func(cmd *cobra.Command, args []string) {
		configPath := config.ConfigPath()

		switch {
		case showPath:
			fmt.Println(configPath)
		case showConfig:
			data, err := yaml.Marshal(appConfig)
			if err != nil {
				ui.Fatal("Failed to format config: %v", err)
			}
			fmt.Print(string(data))
		case resetConfig:
			if err := config.Save(config.DefaultConfig()); err != nil {
				ui.Fatal("Failed to reset config: %v", err)
			}
			fmt.Println(ui.Check("Config reset to defaults at " + ui.Muted(configPath)))
		default:
			openInEditor(configPath)
		}
	},
}

func openInEditor(path string) {
	if _, err := os.Stat(path); os.IsNotExist(err) {
		if err := config.Save(config.DefaultConfig()); err != nil {
			ui.Fatal("Failed to create config file: %v", err)
		}
		fmt.Printf("Created default config at %s\n\n", ui.Muted(path))
	}

	editor := getEditor()
	if editor == "" {
		ui.PrintError("No editor found. Set $EDITOR or $VISUAL environment variable.")
		fmt.Printf("\nConfig file location: %s\n", ui.Muted(path))
		os.Exit(1)
	}

	cmd := exec.Command(editor, path)
	cmd.Stdin = os.Stdin
	cmd.Stdout = os.Stdout
	cmd.Stderr = os.Stderr

	if err := cmd.Run(); err != nil {
		ui.Fatal("Failed to open editor: %v", err)
	}
}

func getEditor() string {
	if editor := os.Getenv("VISUAL"); editor != "" {
		return editor
	}
	if editor := os.Getenv("EDITOR"); editor != "" {
		return editor
	}

	for _, editor := range []string{"nano", "vim", "vi"} {
		if path, err := exec.LookPath(editor); err == nil {
			return path
		}
	}
	return ""
}

func init() {
	rootCmd.AddCommand(configCmd)

	configCmd.Flags().BoolVar(&showPath, "path", false, "Print config file path")
	configCmd.Flags().BoolVar(&showConfig, "show", false, "Print the effective configuration")
	configCmd.Flags().BoolVar(&resetConfig, "reset", false, "Reset config to defaults")
}
