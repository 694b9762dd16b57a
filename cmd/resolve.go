package cmd

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/nchapman/modelfetch/internal/acquire"
	"github.com/nchapman/modelfetch/internal/modeluri"
	"github.com/nchapman/modelfetch/internal/ui"
	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"
)

var (
	resolveAllowURLs bool
	resolveOffline   bool
	resolveOutput    string
)

var resolveCmd = &cobra.Command{
	Use:     "resolve <uri>",
	Short:   "Show which file a model URI refers to",
	GroupID: "model",
	Long: `Resolve a model URI against the registry without downloading it.

With --offline the URI is only parsed and the candidate filenames are shown.

Examples:
  modelfetch resolve hf:mradermacher/Meta-Llama-3.1-8B-Instruct-GGUF:Q4_K_M
  modelfetch resolve hf:bartowski/Meta-Llama-3.1-70B-Instruct-GGUF:Q5_K_M -o json
  modelfetch resolve https://huggingface.co/owner/repo-GGUF --offline`,
	Args: cobra.ExactArgs(1),
	Run: func(cmd *cobra.Command, args []string) {
		input := args[0]
		orch := acquire.NewFromConfig(appConfig)

		var ref modeluri.Reference
		var err error
		if resolveOffline {
			ref, err = orch.Parse(input, resolveAllowURLs)
		} else {
			err = ui.WithSpinner(os.Stderr, "Resolving "+input, func() error {
				resolved, rerr := orch.Resolve(context.Background(), input, resolveAllowURLs)
				if rerr == nil {
					ref = resolved
				}
				return rerr
			})
		}
		if err != nil {
			ui.Fatal("%v", err)
		}

		view := newReferenceView(ref, appConfig.ModelsDirectory())
		if err := writeReference(os.Stdout, view, resolveOutput); err != nil {
			ui.Fatal("%v", err)
		}
	},
}

func writeReference(w io.Writer, view ReferenceView, format string) error {
	switch strings.ToLower(format) {
	case "json":
		data, err := json.MarshalIndent(view, "", "  ")
		if err != nil {
			return err
		}
		_, err = fmt.Fprintln(w, string(data))
		return err
	case "yaml":
		enc := yaml.NewEncoder(w)
		enc.SetIndent(2)
		if err := enc.Encode(view); err != nil {
			return err
		}
		return enc.Close()
	case "", "text":
		_, err := io.WriteString(w, referenceTable(view).Render())
		return err
	default:
		return fmt.Errorf("unknown output format %q (want text, yaml or json)", format)
	}
}

func referenceTable(view ReferenceView) *ui.Table {
	tbl := ui.NewTable().Indent(0).HideHeader().
		AddColumn("", 0, ui.AlignLeft).
		AddColumn("", 0, ui.AlignLeft)

	add := func(key, value string) {
		if value != "" {
			tbl.AddRow(ui.Bold(key), value)
		}
	}

	add("URI", view.URI)
	add("Kind", view.Kind)
	add("Owner", view.Owner)
	add("Model", view.Model)
	add("Tag", view.Tag)
	for i, c := range view.Candidates {
		add(fmt.Sprintf("Candidate %d", i+1), c)
	}
	add("Filename", view.Filename)
	add("URL", view.URL)
	if view.Size > 0 {
		add("Size", ui.FormatBytes(view.Size))
	}
	add("SHA256", view.SHA256)
	for i, p := range view.Paths {
		key := "Path"
		if len(view.Paths) > 1 {
			key = fmt.Sprintf("Part %d", i+1)
		}
		add(key, p)
	}
	return tbl
}

func init() {
	resolveCmd.Flags().BoolVar(&resolveAllowURLs, "allow-urls", false, "Accept direct file URLs")
	resolveCmd.Flags().BoolVar(&resolveOffline, "offline", false, "Only parse the URI, do not contact the registry")
	resolveCmd.Flags().StringVarP(&resolveOutput, "output", "o", "text", "Output format: text, yaml or json")
	rootCmd.AddCommand(resolveCmd)
}
