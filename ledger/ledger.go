// Package ledger records batch runs and their per-input outcomes in SQLite.
package ledger

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/glebarez/sqlite"
	"github.com/google/uuid"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"

	"github.com/RyanBlaney/sonido-chroma/features"
)

// DefaultPath is used when no ledger path is configured.
const DefaultPath = "sonido-chroma.sqlite3"

var errNoRun = errors.New("no run started")

// Run is one invocation of a batch command.
type Run struct {
	ID         string `gorm:"primaryKey;type:varchar(36)"`
	Command    string `gorm:"index:idx_run_command"`
	Mode       string
	ModelID    string
	Jobs       int
	Processed  int
	Skipped    int
	Failed     int
	StartedAt  time.Time
	FinishedAt *time.Time
}

// Item is the outcome of one input within a run.
type Item struct {
	ID        uint   `gorm:"primaryKey;autoIncrement"`
	RunID     string `gorm:"type:varchar(36);index:idx_item_run"`
	Input     string `gorm:"index:idx_item_input"`
	Output    string
	Status    string
	Frames    int
	ElapsedMs int64
	Error     string
	CreatedAt time.Time
}

// Item statuses.
const (
	StatusDone    = "done"
	StatusSkipped = "skipped"
	StatusFailed  = "failed"
)

// Ledger is a SQLite-backed features.Recorder. Record is safe for concurrent
// use by batch workers.
type Ledger struct {
	db    *gorm.DB
	sqlDB *sql.DB
	run   *Run
}

// Open opens or creates the ledger database at path.
func Open(path string) (*Ledger, error) {
	if path == "" {
		path = DefaultPath
	}
	if dir := filepath.Dir(path); dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, fmt.Errorf("creating ledger dir: %w", err)
		}
	}

	db, err := gorm.Open(sqlite.Open(path), &gorm.Config{
		Logger: logger.Default.LogMode(logger.Silent),
	})
	if err != nil {
		return nil, fmt.Errorf("opening ledger: %w", err)
	}

	sqlDB, err := db.DB()
	if err != nil {
		return nil, fmt.Errorf("getting sql.DB from gorm: %w", err)
	}
	// SQLite serialises writers anyway.
	sqlDB.SetMaxOpenConns(1)

	if err := db.AutoMigrate(&Run{}, &Item{}); err != nil {
		sqlDB.Close()
		return nil, fmt.Errorf("auto migrate: %w", err)
	}

	return &Ledger{db: db, sqlDB: sqlDB}, nil
}

// Close closes the database.
func (l *Ledger) Close() error {
	if l == nil || l.sqlDB == nil {
		return nil
	}
	return l.sqlDB.Close()
}

// StartRun creates a run record and makes it current for Record.
func (l *Ledger) StartRun(ctx context.Context, command, mode, modelID string, jobs int) (*Run, error) {
	run := &Run{
		ID:        uuid.NewString(),
		Command:   command,
		Mode:      mode,
		ModelID:   modelID,
		Jobs:      jobs,
		StartedAt: time.Now(),
	}
	if err := l.db.WithContext(ctx).Create(run).Error; err != nil {
		return nil, fmt.Errorf("creating run: %w", err)
	}
	l.run = run
	return run, nil
}

// Record implements features.Recorder.
func (l *Ledger) Record(ctx context.Context, r features.Result) error {
	if l.run == nil {
		return errNoRun
	}

	item := Item{
		RunID:     l.run.ID,
		Input:     r.Input,
		Output:    r.Output,
		Frames:    r.Frames,
		ElapsedMs: r.Elapsed.Milliseconds(),
	}
	switch {
	case r.Err != nil:
		item.Status = StatusFailed
		item.Error = r.Err.Error()
	case r.Skipped:
		item.Status = StatusSkipped
	default:
		item.Status = StatusDone
	}

	// Recording must survive a cancelled batch context.
	return l.db.WithContext(context.WithoutCancel(ctx)).Create(&item).Error
}

// FinishRun stores the summary counts of the current run.
func (l *Ledger) FinishRun(ctx context.Context, s *features.Summary) error {
	if l.run == nil {
		return errNoRun
	}

	now := time.Now()
	l.run.FinishedAt = &now
	l.run.Processed = s.Processed
	l.run.Skipped = s.Skipped
	l.run.Failed = s.Failed
	return l.db.WithContext(context.WithoutCancel(ctx)).Save(l.run).Error
}

// Items returns the items of a run in insertion order.
func (l *Ledger) Items(ctx context.Context, runID string) ([]Item, error) {
	var items []Item
	err := l.db.WithContext(ctx).Where("run_id = ?", runID).Order("id").Find(&items).Error
	return items, err
}

// getRun fetches a run by id.
func (l *Ledger) getRun(ctx context.Context, runID string) (*Run, error) {
	var run Run
	if err := l.db.WithContext(ctx).Where("id = ?", runID).First(&run).Error; err != nil {
		return nil, err
	}
	return &run, nil
}

// Completed reports whether job, the same input written to the same output,
// finished successfully in any run. It implements
// features.CompletionChecker.
func (l *Ledger) Completed(ctx context.Context, job features.Job) (bool, error) {
	var count int64
	err := l.db.WithContext(ctx).Model(&Item{}).
		Where("input = ? AND output = ? AND status = ?", job.Input, job.Output, StatusDone).
		Count(&count).Error
	return count > 0, err
}
