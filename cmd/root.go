package cmd

import (
	"io"
	"os"

	"github.com/nchapman/modelfetch/internal/config"
	"github.com/nchapman/modelfetch/internal/logs"
	"github.com/nchapman/modelfetch/internal/ui"
	"github.com/spf13/cobra"
)

var (
	verbose   bool
	appConfig *config.Config
	logFile   *logs.RotatingWriter
)

var rootCmd = &cobra.Command{
	Use:   "modelfetch",
	Short: "Fetch GGUF models from Hugging Face",
	Long: `modelfetch resolves Hugging Face model references such as
hf:owner/model:Q4_K_M to concrete GGUF files and downloads them into a
local models directory. Downloads resume after interruption, split models
are fetched part by part, and concurrent pulls of the same model wait for
each other.`,
	SilenceUsage: true,
	PersistentPreRun: func(cmd *cobra.Command, args []string) {
		cfg, err := config.Load()
		if err != nil {
			ui.Fatal("Failed to load config: %v", err)
		}
		appConfig = cfg

		if err := config.EnsureDirectories(); err != nil {
			ui.Fatal("Failed to create directories: %v", err)
		}

		initLogging(os.Stderr)
	},
	PersistentPostRun: func(cmd *cobra.Command, args []string) {
		closeLogFile()
	},
}

// initLogging sends logs to console and, when configured, to the log file.
func initLogging(console io.Writer) {
	closeLogFile()

	w := console
	if appConfig != nil && appConfig.Logging.File != "" {
		f, err := logs.NewRotatingWriter(appConfig.Logging.File)
		if err != nil {
			ui.PrintError("Failed to open log file: %v", err)
		} else {
			logFile = f
			if console == nil {
				w = f
			} else {
				w = io.MultiWriter(console, f)
			}
		}
	}
	if w == nil {
		w = io.Discard
	}
	logs.InitLogger(w, verbose)
}

func closeLogFile() {
	if logFile != nil {
		logFile.Close()
		logFile = nil
	}
}

func Execute() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

func init() {
	rootCmd.AddGroup(&cobra.Group{ID: "model", Title: "Model Commands:"})
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "Enable verbose output")
}
