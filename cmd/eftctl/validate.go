package main

import (
	"errors"
	"fmt"
	"io"
	"path/filepath"

	"github.com/spf13/cobra"

	"github.com/bentedesco/eft-fingerprint-viewer/internal/pipeline"
	"github.com/bentedesco/eft-fingerprint-viewer/internal/report"
)

var errIncomplete = errors.New("transaction is incomplete")

type validateOptions struct {
	jsonOut string
	pdfOut  string
	codec   string
	strict  bool
}

func newValidateCmd(g *globalOptions) *cobra.Command {
	o := &validateOptions{}
	cmd := &cobra.Command{
		Use:   "validate <file>",
		Short: "Check a transaction against its requirement policy",
		Long: `Decodes the transaction, checks fingerprint positions and required
demographics against the policy for its type of transaction, and prints the
verdict. Reports can be written as JSON and PDF.`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runValidate(cmd, g, o, args[0])
		},
	}
	cmd.Flags().StringVar(&o.jsonOut, "json", "", "write the JSON report to this path")
	cmd.Flags().StringVar(&o.pdfOut, "pdf", "", "write the PDF report to this path")
	cmd.Flags().StringVar(&o.codec, "codec", "auto", "image codec used to check payloads (auto, std, exec, none)")
	cmd.Flags().BoolVar(&o.strict, "strict", false, "exit non-zero when the transaction is incomplete")
	return cmd
}

func runValidate(cmd *cobra.Command, g *globalOptions, o *validateOptions, path string) error {
	engine, err := g.engine()
	if err != nil {
		return err
	}
	codec, err := g.codec(o.codec)
	if err != nil {
		return err
	}
	res, err := pipeline.ProcessFile(cmd.Context(), path, pipeline.Options{Engine: engine, Codec: codec})
	if err != nil {
		return err
	}
	printReport(cmd.OutOrStdout(), filepath.Base(path), res)

	doc := report.FromResult(filepath.Base(path), res)
	if o.jsonOut != "" {
		if err := report.SaveJSON(doc, o.jsonOut); err != nil {
			return fmt.Errorf("write json report: %w", err)
		}
	}
	if o.pdfOut != "" {
		if err := report.SavePDF(doc, o.pdfOut); err != nil {
			return fmt.Errorf("write pdf report: %w", err)
		}
	}
	if o.strict && !res.Validation.IsValid {
		return errIncomplete
	}
	return nil
}

func printReport(w io.Writer, name string, res *pipeline.Result) {
	v := res.Validation
	fmt.Fprintf(w, "%s: %s (%s)\n", name, v.Verdict(), v.TransactionType)
	if pos := res.Metadata.Positions(); len(pos) > 0 {
		fmt.Fprintf(w, "  positions %v\n", pos)
	}
	for _, m := range v.Messages {
		fmt.Fprintf(w, "  %s\n", m)
	}
	for _, fp := range v.FingerprintsMissing {
		fmt.Fprintf(w, "  missing %2d %s\n", fp.Position, fp.Name)
	}
	for _, d := range v.DemographicsMissing {
		fmt.Fprintf(w, "  missing demographic %s\n", d)
	}
	for _, warn := range v.Warnings {
		fmt.Fprintf(w, "  warning: %s\n", warn)
	}
	if n := res.DecodeFailures(); n > 0 {
		fmt.Fprintf(w, "  %d of %d images could not be decoded\n", n, len(res.Images))
	}
}
