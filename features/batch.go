package features

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/RyanBlaney/sonido-chroma/logging"
)

// Mode selects how much of a batch runs.
type Mode string

const (
	// ModeDevelop processes only the first input.
	ModeDevelop Mode = "DEVELOP"
	// ModeProduction processes every input.
	ModeProduction Mode = "PRODUCTION"
)

// ParseMode accepts either mode name, case-insensitively.
func ParseMode(s string) (Mode, error) {
	switch Mode(strings.ToUpper(strings.TrimSpace(s))) {
	case ModeDevelop:
		return ModeDevelop, nil
	case ModeProduction, "":
		return ModeProduction, nil
	default:
		return "", fmt.Errorf("unknown mode %q (want DEVELOP or PRODUCTION)", s)
	}
}

// DefaultWorkers is the default batch pool size.
const DefaultWorkers = 16

// Job is one input file and the archive it produces.
type Job struct {
	Input  string
	Output string
}

// Result reports what happened to one job.
type Result struct {
	Job
	Skipped bool
	Frames  int
	Elapsed time.Duration
	Err     error
}

// Recorder persists batch results, for example to a run ledger.
type Recorder interface {
	Record(ctx context.Context, r Result) error
}

// Summary aggregates a batch run.
type Summary struct {
	Results   []Result
	Processed int
	Skipped   int
	Failed    int
	Elapsed   time.Duration
}

// Errors returns the per-input failures in job order.
func (s *Summary) Errors() []error {
	var errs []error
	for _, r := range s.Results {
		if r.Err != nil {
			errs = append(errs, r.Err)
		}
	}
	return errs
}

// FindInputs returns the files in dir matching pattern, sorted.
func FindInputs(dir, pattern string) ([]string, error) {
	info, err := os.Stat(dir)
	if err != nil {
		return nil, fmt.Errorf("input directory: %w", err)
	}
	if !info.IsDir() {
		return nil, fmt.Errorf("input path %s is not a directory", dir)
	}

	matches, err := filepath.Glob(filepath.Join(dir, pattern))
	if err != nil {
		return nil, fmt.Errorf("bad input pattern %q: %w", pattern, err)
	}
	sort.Strings(matches)
	return matches, nil
}

// PlanJobs maps every input to <outDir>/<basename>.npz.
func PlanJobs(inputs []string, outDir string) []Job {
	jobs := make([]Job, len(inputs))
	for i, in := range inputs {
		base := strings.TrimSuffix(filepath.Base(in), filepath.Ext(in))
		jobs[i] = Job{Input: in, Output: filepath.Join(outDir, base+".npz")}
	}
	return jobs
}

// BatchOption configures a Batch.
type BatchOption func(*Batch)

// WithWorkers sets the pool size. Values below one are ignored.
func WithWorkers(n int) BatchOption {
	return func(b *Batch) {
		if n > 0 {
			b.workers = n
		}
	}
}

// WithMode sets the run mode.
func WithMode(mode Mode) BatchOption {
	return func(b *Batch) {
		b.mode = mode
	}
}

// WithRecorder records every result.
func WithRecorder(r Recorder) BatchOption {
	return func(b *Batch) {
		b.recorder = r
	}
}

// WithProgress is called once per finished job, from worker goroutines,
// serialised.
func WithProgress(fn func(done, total int, r Result)) BatchOption {
	return func(b *Batch) {
		b.progress = fn
	}
}

// WithOverwrite recomputes jobs whose output already exists.
func WithOverwrite(overwrite bool) BatchOption {
	return func(b *Batch) {
		b.overwrite = overwrite
	}
}

// CompletionChecker reports whether a job finished in an earlier run.
type CompletionChecker interface {
	Completed(ctx context.Context, job Job) (bool, error)
}

// WithCompleted skips jobs that c reports as finished, even when their
// output is gone. Overwrite takes precedence.
func WithCompleted(c CompletionChecker) BatchOption {
	return func(b *Batch) {
		b.completed = c
	}
}

// Task processes one job and reports how many frames it produced.
type Task func(ctx context.Context, job Job) (int, error)

// WithTask replaces feature extraction with another per-job task, such as
// scoring.
func WithTask(task Task) BatchOption {
	return func(b *Batch) {
		b.task = task
	}
}

// Batch runs a task for many inputs on a bounded worker pool. By default the
// task extracts and saves features. A failing input is logged and reported
// in its Result; it never stops the other jobs.
type Batch struct {
	task      Task
	workers   int
	mode      Mode
	overwrite bool
	recorder  Recorder
	completed CompletionChecker
	progress  func(done, total int, r Result)
	logger    logging.Logger
}

// NewBatch creates a batch runner producing features at rate.
// extractor may be nil when WithTask is given.
func NewBatch(extractor *Extractor, rate float64, opts ...BatchOption) *Batch {
	b := &Batch{
		task: func(ctx context.Context, job Job) (int, error) {
			f, err := extractor.ComputeAndSave(ctx, job.Input, job.Output, rate)
			if err != nil {
				return 0, err
			}
			return f.NFrames(), nil
		},
		workers: DefaultWorkers,
		mode:    ModeProduction,
		logger: logging.WithFields(logging.Fields{
			"component": "batch",
		}),
	}
	for _, opt := range opts {
		opt(b)
	}
	return b
}

// Run processes jobs. It returns a non-nil error only when ctx is cancelled;
// per-input failures are in the summary. Cancellation stops dispatching and
// lets running jobs finish.
func (b *Batch) Run(ctx context.Context, jobs []Job) (*Summary, error) {
	if b.mode == ModeDevelop && len(jobs) > 1 {
		jobs = jobs[:1]
	}

	b.logger.Info("Starting batch", logging.Fields{
		"jobs":    len(jobs),
		"workers": b.workers,
		"mode":    string(b.mode),
	})

	start := time.Now()
	results := make([]Result, len(jobs))
	dispatched := make([]bool, len(jobs))

	var mu sync.Mutex
	done := 0

	var g errgroup.Group
	g.SetLimit(b.workers)
	for i, job := range jobs {
		if ctx.Err() != nil {
			break
		}
		dispatched[i] = true
		g.Go(func() error {
			r := b.process(ctx, job)
			results[i] = r

			if b.recorder != nil {
				if err := b.recorder.Record(ctx, r); err != nil {
					b.logger.Warn("Failed to record result", logging.Fields{
						"input": job.Input,
						"error": err.Error(),
					})
				}
			}

			mu.Lock()
			done++
			if b.progress != nil {
				b.progress(done, len(jobs), r)
			}
			mu.Unlock()
			return nil
		})
	}
	_ = g.Wait()

	summary := &Summary{Elapsed: time.Since(start)}
	for i, r := range results {
		if !dispatched[i] {
			continue
		}
		summary.Results = append(summary.Results, r)
		switch {
		case r.Err != nil:
			summary.Failed++
		case r.Skipped:
			summary.Skipped++
		default:
			summary.Processed++
		}
	}

	b.logger.Info("Batch finished", logging.Fields{
		"processed": summary.Processed,
		"skipped":   summary.Skipped,
		"failed":    summary.Failed,
		"elapsed_s": summary.Elapsed.Seconds(),
	})

	if err := ctx.Err(); err != nil {
		return summary, fmt.Errorf("batch interrupted: %w", err)
	}
	return summary, nil
}

func (b *Batch) process(ctx context.Context, job Job) Result {
	r := Result{Job: job}
	start := time.Now()

	if !b.overwrite {
		if _, err := os.Stat(job.Output); err == nil {
			r.Skipped = true
			r.Elapsed = time.Since(start)
			return r
		} else if !errors.Is(err, os.ErrNotExist) {
			r.Err = inputError(job.Input, "stat output", err)
			r.Elapsed = time.Since(start)
			return r
		}

		if b.completed != nil {
			done, err := b.completed.Completed(ctx, job)
			if err != nil {
				b.logger.Warn("Failed to check ledger", logging.Fields{
					"input": job.Input,
					"error": err.Error(),
				})
			} else if done {
				r.Skipped = true
				r.Elapsed = time.Since(start)
				return r
			}
		}
	}

	frames, err := b.task(ctx, job)
	r.Elapsed = time.Since(start)
	if err != nil {
		b.logger.Error(err, "Job failed", logging.Fields{
			"input": job.Input,
		})
		r.Err = err
		return r
	}

	r.Frames = frames
	return r
}
