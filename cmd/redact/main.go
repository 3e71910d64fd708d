// Command redact is the offline front end of the redactor: it redacts a
// single file, labels a piece of text, or lists the pattern library, using
// the same configuration and detectors as the server.
//
// Usage:
//
//	redact file contract.pdf --forbid PERSON,EMAIL --out ./redacted
//	redact file scan.png --entity "Isaac=PERSON" --forbid PERSON --mode blur
//	redact label "Contact: jean.dupont@example.com"
//	redact patterns
package main

import (
	"context"
	"fmt"
	"io"
	"os"
	"os/signal"
	"sort"
	"strings"
	"syscall"

	"github.com/fatih/color"
	"github.com/spf13/cobra"

	"doc-redactor/internal/app"
	"doc-redactor/internal/config"
	"doc-redactor/internal/detect"
	"doc-redactor/internal/pipeline"
	"doc-redactor/internal/resolve"
)

var (
	colorRed    = color.New(color.FgRed, color.Bold)
	colorGreen  = color.New(color.FgGreen, color.Bold)
	colorYellow = color.New(color.FgYellow)
	colorCyan   = color.New(color.FgCyan)
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := newRootCmd(config.Load()).ExecuteContext(ctx); err != nil {
		colorRed.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

func newRootCmd(cfg *config.Config) *cobra.Command {
	root := &cobra.Command{
		Use:           "redact",
		Short:         "Detect and redact sensitive information in documents",
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	root.PersistentFlags().StringVar(&cfg.LogLevel, "log-level", cfg.LogLevel, "debug, info, warn or error")
	root.AddCommand(newFileCmd(cfg), newLabelCmd(cfg), newPatternsCmd(cfg))
	return root
}

func newFileCmd(cfg *config.Config) *cobra.Command {
	var (
		forbid   []string
		entities []string
	)
	cmd := &cobra.Command{
		Use:   "file <path>",
		Short: "Redact a PDF or image and write <name>_redacted<ext>",
		Long: `Redact a PDF or image.

Without --entity every detector runs; with it, only the given literals are
located (every occurrence, on every page). --forbid names the labels that
are redacted. With --entity and no --forbid nothing is redacted; with
detection and no --forbid the configured DETECT_LABELS apply, every
detected label when that is unset.`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			literals, err := parseEntities(entities)
			if err != nil {
				return err
			}
			a, err := app.Build(cfg)
			if err != nil {
				return err
			}
			defer a.Close()

			res, err := a.Pipeline.Anonymize(cmd.Context(), pipeline.Request{
				FilePath:        args[0],
				Entities:        literals,
				ForbiddenLabels: forbid,
			})
			if err != nil {
				return err
			}
			printResult(cmd.OutOrStdout(), res)
			return nil
		},
	}
	cmd.Flags().StringSliceVar(&forbid, "forbid", nil, "labels to redact, e.g. PERSON,EMAIL (default: none with --entity, DETECT_LABELS otherwise)")
	cmd.Flags().StringArrayVar(&entities, "entity", nil, `literal to redact as "text=LABEL" (repeatable)`)
	cmd.Flags().StringVar(&cfg.OutputDir, "out", cfg.OutputDir, "output directory")
	cmd.Flags().StringVar(&cfg.ImageRedaction, "mode", cfg.ImageRedaction, "image redaction: fill or blur")
	return cmd
}

func newLabelCmd(cfg *config.Config) *cobra.Command {
	return &cobra.Command{
		Use:   "label <text>",
		Short: "Print the entities detected in text",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := app.Build(cfg)
			if err != nil {
				return err
			}
			defer a.Close()

			text := strings.Join(args, " ")
			ents, err := a.Pipeline.Label(cmd.Context(), text)
			if err != nil {
				return err
			}
			w := cmd.OutOrStdout()
			if len(ents) == 0 {
				colorYellow.Fprintln(w, "no entities found")
				return nil
			}
			for _, e := range ents {
				colorCyan.Fprintf(w, "%-12s", e.Label)
				fmt.Fprintf(w, " %-32q [%d,%d) %s\n", e.Text, e.Start, e.End, e.Source)
			}
			colorGreen.Fprintln(w, resolve.Mask(text, ents))
			return nil
		},
	}
}

func newPatternsCmd(cfg *config.Config) *cobra.Command {
	return &cobra.Command{
		Use:   "patterns",
		Short: "List the built-in and custom patterns",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			w := cmd.OutOrStdout()
			colorCyan.Fprintln(w, "built-in:")
			for _, p := range detect.BuiltinPatterns() {
				fmt.Fprintf(w, "  %-12s %-12s priority %d\n", p.Name, p.Label, p.Priority)
			}
			custom := detect.NewPatternRegistry(cfg.PatternsFile, nil).Custom()
			colorCyan.Fprintf(w, "custom (%s):\n", cfg.PatternsFile)
			if len(custom) == 0 {
				fmt.Fprintln(w, "  (none)")
			}
			for _, p := range custom {
				fmt.Fprintf(w, "  %-12s %-12s priority %d  %s\n", p.Name, p.Label, p.Priority, p.Expr)
			}
			return nil
		},
	}
}

// parseEntities reads "text=LABEL" pairs. The last '=' separates the label
// so literals may contain one.
func parseEntities(raw []string) ([]pipeline.Literal, error) {
	out := make([]pipeline.Literal, 0, len(raw))
	for _, r := range raw {
		i := strings.LastIndex(r, "=")
		if i <= 0 || i == len(r)-1 {
			return nil, fmt.Errorf("invalid --entity %q: want text=LABEL", r)
		}
		out = append(out, pipeline.Literal{Text: r[:i], Label: r[i+1:]})
	}
	return out, nil
}

func printResult(w io.Writer, res pipeline.Result) {
	if res.Regions == 0 {
		colorYellow.Fprintf(w, "nothing to redact in %d page(s)\n", res.Pages)
	} else {
		colorGreen.Fprintf(w, "redacted %d region(s) in %d page(s)\n", res.Regions, res.Pages)
	}
	labels := make([]string, 0, len(res.Labels))
	for l := range res.Labels {
		labels = append(labels, string(l))
	}
	sort.Strings(labels)
	for _, l := range labels {
		fmt.Fprintf(w, "  %-12s %d\n", l, res.Labels[detect.Label(l)])
	}
	for _, wn := range res.Warnings {
		what := "failed"
		if wn.Timeout {
			what = "timed out"
		}
		colorRed.Fprintf(w, "  warning: %s %s on page %d\n", wn.Detector, what, wn.Page+1)
	}
	if res.FormatNote != "" {
		colorYellow.Fprintf(w, "  note: %s\n", res.FormatNote)
	}
	fmt.Fprintf(w, "output: %s (%dms)\n", res.OutputFile, res.Duration.Milliseconds())
}
