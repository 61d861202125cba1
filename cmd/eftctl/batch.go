package main

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"runtime"
	"strings"
	"sync"
	"time"

	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"github.com/bentedesco/eft-fingerprint-viewer/internal/an2k"
	"github.com/bentedesco/eft-fingerprint-viewer/internal/common"
	"github.com/bentedesco/eft-fingerprint-viewer/internal/images"
	"github.com/bentedesco/eft-fingerprint-viewer/internal/manifest"
	"github.com/bentedesco/eft-fingerprint-viewer/internal/pipeline"
	"github.com/bentedesco/eft-fingerprint-viewer/internal/report"
)

const manifestName = "manifest.json"

type batchOptions struct {
	outDir      string
	concurrency int
	progress    bool
	codec       string
}

type batchOutcome struct {
	path  string
	valid bool
	err   error
}

func newBatchCmd(g *globalOptions) *cobra.Command {
	o := &batchOptions{}
	cmd := &cobra.Command{
		Use:   "batch <dir>",
		Short: "Validate every transaction file under a directory",
		Long: `Walks dir for .eft, .ebts, .an2, .an2k and .nist files, validates them
concurrently and writes one JSON report per file plus a SHA-256 manifest of
inputs and reports to the output directory.`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runBatch(cmd, g, o, args[0])
		},
	}
	cmd.Flags().StringVar(&o.outDir, "out-dir", "out", "results directory")
	cmd.Flags().IntVarP(&o.concurrency, "concurrency", "j", runtime.NumCPU(), "files processed at once")
	cmd.Flags().BoolVar(&o.progress, "progress", false, "print a progress line to stderr")
	cmd.Flags().StringVar(&o.codec, "codec", "none", "image codec used to check payloads (auto, std, exec, none)")
	return cmd
}

func findTransactions(dir string) ([]string, int64, error) {
	var paths []string
	var total int64
	err := filepath.WalkDir(dir, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if d.IsDir() || !manifest.IsTransaction(path) {
			return nil
		}
		info, err := d.Info()
		if err != nil {
			return err
		}
		paths = append(paths, path)
		total += info.Size()
		return nil
	})
	return paths, total, err
}

// reportName flattens the input path relative to dir into a unique report
// file name.
func reportName(dir, path string) string {
	rel, err := filepath.Rel(dir, path)
	if err != nil {
		rel = filepath.Base(path)
	}
	rel = strings.TrimSuffix(rel, filepath.Ext(rel))
	return strings.ReplaceAll(filepath.ToSlash(rel), "/", "_") + ".report.json"
}

func runBatch(cmd *cobra.Command, g *globalOptions, o *batchOptions, dir string) error {
	engine, err := g.engine()
	if err != nil {
		return err
	}
	codec, err := g.codec(o.codec)
	if err != nil {
		return err
	}
	paths, total, err := findTransactions(dir)
	if err != nil {
		return err
	}
	if len(paths) == 0 {
		return fmt.Errorf("no transaction files under %s", dir)
	}
	if err := os.MkdirAll(o.outDir, 0o755); err != nil {
		return err
	}

	metrics := common.NewMetrics()
	metrics.AddTotalBytes(total)
	metrics.Start()
	stop := func() {}
	if o.progress {
		stop = common.StartProgressPrinter(cmd.ErrOrStderr(), metrics, 500*time.Millisecond)
	}

	opts := pipeline.Options{
		Engine:  engine,
		Codec:   codec,
		Metrics: metrics,
		Decode:  images.DecodeOptions{Pool: images.NewPool(runtime.NumCPU())},
	}
	outcomes := make([]batchOutcome, len(paths))
	var (
		mu      sync.Mutex
		reports []string
	)
	eg, ctx := errgroup.WithContext(cmd.Context())
	eg.SetLimit(max(o.concurrency, 1))
	for i, path := range paths {
		eg.Go(func() error {
			outcomes[i] = batchOutcome{path: path}
			res, err := pipeline.ProcessFile(ctx, path, opts)
			if err != nil {
				if !errors.Is(err, an2k.ErrFormat) {
					metrics.IncFailure()
				}
				outcomes[i].err = err
				common.Warnf("batch: %v", err)
				return nil
			}
			outcomes[i].valid = res.Validation.IsValid
			out := filepath.Join(o.outDir, reportName(dir, path))
			if err := report.SaveJSON(report.FromResult(filepath.Base(path), res), out); err != nil {
				return fmt.Errorf("write report for %s: %w", path, err)
			}
			mu.Lock()
			reports = append(reports, out)
			mu.Unlock()
			return nil
		})
	}
	runErr := eg.Wait()
	metrics.Stop()
	stop()
	if runErr != nil {
		return runErr
	}

	m, err := manifest.Build(append(append([]string(nil), paths...), reports...))
	if err != nil {
		return fmt.Errorf("build manifest: %w", err)
	}
	var valid, invalid, failed int
	for _, oc := range outcomes {
		switch {
		case oc.err != nil:
			failed++
		case oc.valid:
			valid++
		default:
			invalid++
		}
		if oc.err == nil {
			m.MarkValidity(oc.path, oc.valid)
		}
	}
	if err := manifest.Save(m, filepath.Join(o.outDir, manifestName)); err != nil {
		return fmt.Errorf("write manifest: %w", err)
	}

	snap := metrics.Snapshot()
	out := cmd.OutOrStdout()
	fmt.Fprintf(out, "%d files: %d valid, %d incomplete, %d failed (%s in %s)\n",
		len(paths), valid, invalid, failed, common.FormatBytes(snap.Bytes), snap.Duration.Round(time.Millisecond))
	for _, oc := range outcomes {
		if oc.err != nil {
			fmt.Fprintf(out, "  FAILED %v\n", oc.err)
		}
	}
	if failed > 0 {
		return fmt.Errorf("%d of %d files could not be read", failed, len(paths))
	}
	return nil
}
