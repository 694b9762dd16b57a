package cmd

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"

	"github.com/nchapman/modelfetch/internal/acquire"
	"github.com/nchapman/modelfetch/internal/download"
	"github.com/nchapman/modelfetch/internal/logs"
	"github.com/nchapman/modelfetch/internal/modeluri"
	"github.com/nchapman/modelfetch/internal/ui"
	"github.com/spf13/cobra"
)

var (
	pullDir       string
	pullAllowURLs bool
	pullFallback  string
	pullValidate  bool
)

var pullCmd = &cobra.Command{
	Use:     "pull <uri>",
	Short:   "Download a model from Hugging Face",
	GroupID: "model",
	Long: `Download a model into the models directory and print the paths of its files.

Examples:
  modelfetch pull hf:mradermacher/Meta-Llama-3.1-8B-Instruct-GGUF          # Default quant
  modelfetch pull hf:bartowski/Meta-Llama-3.1-70B-Instruct-GGUF:Q5_K_M     # Split model
  modelfetch pull https://huggingface.co/owner/repo/resolve/main/model.gguf --allow-urls
  modelfetch pull hf:owner/repo-GGUF:Q4_0_4_8 --fallback hf:owner/repo-GGUF:Q4_K_M`,
	Args: cobra.ExactArgs(1),
	Run: func(cmd *cobra.Command, args []string) {
		input := args[0]

		if session := startPullLog(input); session != nil {
			defer session.Close()
		}

		ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
		defer stop()

		orch := acquire.NewFromConfig(appConfig)
		opts := acquire.Options{
			AllowDirectURLs: pullAllowURLs,
			Dir:             pullDir,
			Observer:        progressObserver(os.Stderr),
			ValidateGGUF:    pullValidate,
		}

		result, err := orch.AcquireWithFallback(ctx, input, pullFallback, opts)
		if err != nil {
			if errors.Is(err, context.Canceled) {
				ui.Fatal("Download interrupted, run the command again to resume")
			}
			ui.Fatal("%v", err)
		}

		if result.Input != input {
			fmt.Fprintf(os.Stderr, "%s %s %s\n", ui.Warning(input+" is not available"), ui.IconArrow, ui.Keyword(result.Input))
		}
		if !result.Downloaded {
			fmt.Fprintln(os.Stderr, ui.Muted("Already up to date"))
		}

		printPaths(os.Stdout, result.Paths)
	},
}

// progressObserver draws one progress display per acquisition on w.
func progressObserver(w io.Writer) func(*modeluri.Resolved) download.Observer {
	return func(ref *modeluri.Resolved) download.Observer {
		var size int64
		if !ref.IsSplit() {
			size = ref.Size
		}
		return ui.NewDownloadProgress(w, ref.FullFilename, size)
	}
}

// startPullLog moves logging into the per-model pull log so log lines do
// not tear the progress bar. Verbose runs keep logging to the console.
func startPullLog(input string) io.Closer {
	if verbose {
		return nil
	}

	w, err := logs.NewRotatingWriter(logs.PullLogPath(input))
	if err != nil {
		logs.Debug("Failed to open pull log", "error", err)
		return nil
	}

	var out io.Writer = w
	if logFile != nil {
		out = io.MultiWriter(w, logFile)
	}
	logs.InitLogger(out, false)
	return w
}

func printPaths(w io.Writer, paths []string) {
	for _, p := range paths {
		if abs, err := filepath.Abs(p); err == nil {
			p = abs
		}
		fmt.Fprintln(w, p)
	}
}

func init() {
	pullCmd.Flags().StringVar(&pullDir, "dir", "", "Download into this directory instead of the models directory")
	pullCmd.Flags().BoolVar(&pullAllowURLs, "allow-urls", false, "Accept direct file URLs")
	pullCmd.Flags().StringVar(&pullFallback, "fallback", "", "Model to pull when the requested one does not exist")
	pullCmd.Flags().BoolVar(&pullValidate, "validate", false, "Check that downloaded .gguf files have a GGUF header")
	rootCmd.AddCommand(pullCmd)
}
