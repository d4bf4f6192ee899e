package main

import (
	"context"
	"fmt"
	"io"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/dustin/go-humanize"
	"gopkg.in/yaml.v3"

	"github.com/RyanBlaney/sonido-chroma/configs"
	"github.com/RyanBlaney/sonido-chroma/features"
	"github.com/RyanBlaney/sonido-chroma/ledger"
	"github.com/RyanBlaney/sonido-chroma/logging"
	"github.com/RyanBlaney/sonido-chroma/transcode"
)

// RunReport is the YAML report written after a batch.
type RunReport struct {
	RunID     string       `yaml:"run_id"`
	Command   string       `yaml:"command"`
	ModelID   string       `yaml:"model_id,omitempty"`
	Mode      string       `yaml:"mode"`
	Started   time.Time    `yaml:"started"`
	ElapsedS  float64      `yaml:"elapsed_s"`
	Processed int          `yaml:"processed"`
	Skipped   int          `yaml:"skipped"`
	Failed    int          `yaml:"failed"`
	Failures  []FailedItem `yaml:"failures,omitempty"`
}

// FailedItem names one failed input.
type FailedItem struct {
	Input string `yaml:"input"`
	Error string `yaml:"error"`
}

func newReport(runID, command, modelID string, mode features.Mode, started time.Time, s *features.Summary) *RunReport {
	r := &RunReport{
		RunID:     runID,
		Command:   command,
		ModelID:   modelID,
		Mode:      string(mode),
		Started:   started,
		ElapsedS:  s.Elapsed.Seconds(),
		Processed: s.Processed,
		Skipped:   s.Skipped,
		Failed:    s.Failed,
	}
	for _, res := range s.Results {
		if res.Err != nil {
			r.Failures = append(r.Failures, FailedItem{Input: res.Input, Error: res.Err.Error()})
		}
	}
	return r
}

func writeReport(path string, r *RunReport) error {
	data, err := yaml.Marshal(r)
	if err != nil {
		return fmt.Errorf("failed to encode report: %w", err)
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return err
	}
	return os.WriteFile(path, data, 0o644)
}

func printSummary(w io.Writer, r *RunReport) {
	fmt.Fprintf(w, "\nRun %s (%s, %s)\n", r.RunID, r.Command, r.Mode)
	fmt.Fprintf(w, "  Started:   %s\n", humanize.Time(r.Started))
	fmt.Fprintf(w, "  Elapsed:   %s\n", time.Duration(r.ElapsedS*float64(time.Second)).Round(time.Millisecond))
	fmt.Fprintf(w, "  Processed: %s\n", humanize.Comma(int64(r.Processed)))
	fmt.Fprintf(w, "  Skipped:   %s\n", humanize.Comma(int64(r.Skipped)))
	fmt.Fprintf(w, "  Failed:    %s\n", humanize.Comma(int64(r.Failed)))
	for _, f := range r.Failures {
		fmt.Fprintf(w, "    %s: %s\n", f.Input, f.Error)
	}
}

// batchSpec describes one batch command run.
type batchSpec struct {
	command   string
	modelID   string
	outDir    string
	loader    *transcode.AutoLoader
	extractor *features.Extractor
	opts      []features.BatchOption
}

// runBatch resolves inputs, runs the batch with a ledger and progress
// output, and reports the result. A non-nil error means the batch could not
// start or was interrupted; per-input failures only appear in the report.
func runBatch(cfg *configs.Config, spec batchSpec, args []string) error {
	logger := logging.WithFields(logging.Fields{
		"component": "cli",
		"command":   spec.command,
	})

	inputs := args
	if len(inputs) == 0 {
		var err error
		inputs, err = features.FindInputs(cfg.InputDir, cfg.Pattern)
		if err != nil {
			return err
		}
	}
	if len(inputs) == 0 {
		logger.Warn("No inputs found", logging.Fields{
			"input_dir": cfg.InputDir,
			"pattern":   cfg.Pattern,
		})
		return nil
	}
	jobs := features.PlanJobs(inputs, spec.outDir)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if spec.loader != nil {
		if err := spec.loader.Preflight(ctx, inputs); err != nil {
			return err
		}
	}

	l, err := ledger.Open(cfg.LedgerPath)
	if err != nil {
		return err
	}
	defer l.Close()

	mode := cfg.BatchMode()
	run, err := l.StartRun(ctx, spec.command, string(mode), spec.modelID, len(jobs))
	if err != nil {
		return err
	}

	opts := []features.BatchOption{
		features.WithWorkers(cfg.Workers),
		features.WithMode(mode),
		features.WithOverwrite(cfg.Overwrite),
		features.WithRecorder(l),
		features.WithProgress(func(done, total int, r features.Result) {
			status := "ok"
			switch {
			case r.Err != nil:
				status = "FAILED"
			case r.Skipped:
				status = "skipped"
			}
			fmt.Fprintf(os.Stderr, "[%d/%d] %s %s\n", done, total, status, filepath.Base(r.Input))
		}),
	}
	if cfg.SkipCompleted {
		opts = append(opts, features.WithCompleted(l))
	}
	opts = append(opts, spec.opts...)

	summary, runErr := features.NewBatch(spec.extractor, cfg.FeatureRate, opts...).Run(ctx, jobs)
	if err := l.FinishRun(ctx, summary); err != nil {
		logger.Error(err, "Failed to finish ledger run")
	}

	report := newReport(run.ID, spec.command, spec.modelID, mode, run.StartedAt, summary)
	printSummary(os.Stdout, report)
	if cfg.ReportPath != "" {
		if err := writeReport(cfg.ReportPath, report); err != nil {
			logger.Error(err, "Failed to write report", logging.Fields{"path": cfg.ReportPath})
		}
	}
	return runErr
}
