// Package sync composes discovery, parsing, and upserts into full and
// incremental synchronization runs with a durable checkpoint.
package sync

import (
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/jswensen/logsync/internal/config"
	"github.com/jswensen/logsync/internal/model"
	"github.com/jswensen/logsync/internal/source"
	"github.com/jswensen/logsync/internal/store"
)

// Options controls a sync run.
type Options struct {
	DryRun       bool // simulate: identical counters, zero writes
	MaxFiles     int  // 0 means unlimited
	SkipExisting bool // skip files whose session ID is already stored
	Incremental  bool // diff against the checkpoint watermark
}

// ProgressFunc receives a progress event after each processed file and once
// at terminal state. The transport that delivers events to a client lives
// outside this package.
type ProgressFunc func(model.Progress)

// Orchestrator runs the discover → parse → upsert pipeline. Files are
// processed strictly one at a time in discovery order; the sequential
// discipline bounds memory and keeps per-session transactions independent.
type Orchestrator struct {
	store    *store.Store
	parser   *source.Parser
	writer   *store.Writer
	logsDir  string
	syncKey  string
	logger   *slog.Logger
	progress ProgressFunc
}

// New constructs an orchestrator over an explicitly provided store handle.
func New(st *store.Store, cfg config.Config, logger *slog.Logger) *Orchestrator {
	if logger == nil {
		logger = slog.Default()
	}
	return &Orchestrator{
		store:   st,
		parser:  source.NewParser(cfg.Session, cfg.Pricing),
		writer:  store.NewWriter(st, cfg.Sync.MessageBatchSize),
		logsDir: cfg.General.LogsDir,
		syncKey: store.DefaultSyncKey,
		logger:  logger,
	}
}

// OnProgress registers the progress callback.
func (o *Orchestrator) OnProgress(fn ProgressFunc) {
	o.progress = fn
}

// SyncAll discovers every session file under the logs directory and syncs
// it. With Incremental set it delegates to SyncIncremental.
func (o *Orchestrator) SyncAll(opts Options) (*model.SyncResult, error) {
	if opts.Incremental {
		return o.SyncIncremental(opts)
	}

	files, err := source.ListFiles(o.logsDir)
	if err != nil {
		return nil, fmt.Errorf("discovering files: %w", err)
	}
	return o.run(paths(files), opts)
}

// SyncIncremental reads the last checkpoint and processes only files that
// changed since the watermark. With no prior checkpoint it behaves exactly
// like a full sync by delegating to it.
func (o *Orchestrator) SyncIncremental(opts Options) (*model.SyncResult, error) {
	cp, err := o.store.LastCheckpoint(o.syncKey)
	if err != nil {
		return nil, fmt.Errorf("reading checkpoint: %w", err)
	}
	if cp == nil || cp.LastSyncTime.IsZero() {
		full := opts
		full.Incremental = false
		return o.SyncAll(full)
	}

	files, err := source.ListFiles(o.logsDir)
	if err != nil {
		return nil, fmt.Errorf("discovering files: %w", err)
	}
	known, err := o.store.TrackedFilePaths()
	if err != nil {
		return nil, fmt.Errorf("reading tracked paths: %w", err)
	}

	diff := source.Diff(files, cp.LastSyncTime, known)
	o.logger.Info("incremental sync",
		"watermark", cp.LastSyncTime, "new", len(diff.New), "updated", len(diff.Updated))

	return o.run(paths(diff.Changed()), opts)
}

// SyncFiles processes an explicit file list through the same parse → insert
// pipeline. Incremental sync and external retry paths both land here.
func (o *Orchestrator) SyncFiles(filePaths []string, opts Options) (*model.SyncResult, error) {
	return o.run(filePaths, opts)
}

// IncrementalPreview describes what an incremental sync would process.
type IncrementalPreview struct {
	Watermark    time.Time
	TotalFiles   int
	NewFiles     []string
	UpdatedFiles []string
}

// PreviewIncrementalSync reports the file sets an incremental sync would
// touch, with zero mutation.
func (o *Orchestrator) PreviewIncrementalSync() (*IncrementalPreview, error) {
	cp, err := o.store.LastCheckpoint(o.syncKey)
	if err != nil {
		return nil, fmt.Errorf("reading checkpoint: %w", err)
	}

	files, err := source.ListFiles(o.logsDir)
	if err != nil {
		return nil, fmt.Errorf("discovering files: %w", err)
	}

	var watermark time.Time
	if cp != nil {
		watermark = cp.LastSyncTime
	}
	known, err := o.store.TrackedFilePaths()
	if err != nil {
		return nil, fmt.Errorf("reading tracked paths: %w", err)
	}

	diff := source.Diff(files, watermark, known)
	return &IncrementalPreview{
		Watermark:    watermark,
		TotalFiles:   len(files),
		NewFiles:     paths(diff.New),
		UpdatedFiles: paths(diff.Updated),
	}, nil
}

// run is the shared pipeline: claim the checkpoint, process each file
// sequentially, persist a terminal checkpoint. Parse and insert errors are
// collected into the result, never returned; only a checkpoint claim
// conflict surfaces as an error.
func (o *Orchestrator) run(filePaths []string, opts Options) (*model.SyncResult, error) {
	result := &model.SyncResult{
		RunID:           uuid.NewString(),
		DryRun:          opts.DryRun,
		FilesDiscovered: len(filePaths),
		StartTime:       time.Now(),
	}

	if opts.SkipExisting || opts.MaxFiles > 0 {
		var err error
		filePaths, err = o.filterFiles(filePaths, opts, result)
		if err != nil {
			return o.finishFailed(result, err)
		}
	}

	// Dry runs never touch storage, including the checkpoint row.
	if !opts.DryRun {
		if err := o.store.ClaimSync(o.syncKey); err != nil {
			if errors.Is(err, store.ErrSyncInProgress) {
				return nil, err
			}
			return o.finishFailed(result, err)
		}
	}

	o.logger.Info("sync started",
		"run_id", result.RunID, "files", len(filePaths), "dry_run", opts.DryRun)

	var existing map[string]struct{}
	if opts.DryRun {
		var err error
		existing, err = o.store.SessionIDs()
		if err != nil {
			return o.finishFailed(result, err)
		}
	}

	total := len(filePaths)
	for i, path := range filePaths {
		bundle, errs := o.parser.ParseFile(path)
		result.ParseErrors = append(result.ParseErrors, errs...)

		if bundle != nil {
			result.SessionsProcessed++
			result.MessagesProcessed += len(bundle.Messages)

			if opts.DryRun {
				if _, ok := existing[bundle.Session.SessionID]; ok {
					result.DuplicatesSkipped++
				} else {
					result.SessionsInserted++
				}
			} else {
				res, err := o.writer.InsertSession(bundle)
				if err != nil {
					result.InsertErrors = append(result.InsertErrors, model.InsertError{
						SessionID: bundle.Session.SessionID,
						Message:   err.Error(),
					})
				} else if res.SessionInserted {
					result.SessionsInserted++
				} else {
					result.DuplicatesSkipped++
				}
			}
		}

		result.FilesProcessed = i + 1
		o.emit(result, path, total, model.SyncInProgress)
	}

	result.Duration = time.Since(result.StartTime)

	if !opts.DryRun {
		// The watermark is the run's start time, not its end: a file
		// touched while the run was in flight must be seen again.
		if err := o.store.CompleteSync(o.syncKey, result.FilesProcessed, result.SessionsProcessed, result.StartTime); err != nil {
			return o.finishFailed(result, err)
		}
	}

	o.emit(result, "", total, model.SyncCompleted)
	o.logger.Info("sync finished",
		"run_id", result.RunID,
		"files", result.FilesProcessed,
		"inserted", result.SessionsInserted,
		"duplicates", result.DuplicatesSkipped,
		"parse_errors", len(result.ParseErrors),
		"insert_errors", len(result.InsertErrors),
		"duration", result.Duration)

	return result, nil
}

// finishFailed converts a store-level failure into a recorded failure: one
// synthetic error entry, a failed checkpoint, and a returned result rather
// than a crash.
func (o *Orchestrator) finishFailed(result *model.SyncResult, cause error) (*model.SyncResult, error) {
	result.Duration = time.Since(result.StartTime)
	result.InsertErrors = append(result.InsertErrors, model.InsertError{
		Message: cause.Error(),
	})

	if !result.DryRun {
		if err := o.store.FailSync(o.syncKey, cause.Error()); err != nil {
			o.logger.Error("recording failed checkpoint", "error", err)
		}
	}

	o.emit(result, "", result.FilesDiscovered, model.SyncFailed)
	o.logger.Error("sync failed", "run_id", result.RunID, "error", cause)
	return result, nil
}

func (o *Orchestrator) filterFiles(filePaths []string, opts Options, result *model.SyncResult) ([]string, error) {
	if opts.SkipExisting {
		ids, err := o.store.SessionIDs()
		if err != nil {
			return nil, fmt.Errorf("reading session ids: %w", err)
		}
		kept := filePaths[:0]
		for _, p := range filePaths {
			if _, ok := ids[source.SessionIDFromPath(p)]; !ok {
				kept = append(kept, p)
			}
		}
		filePaths = kept
	}

	if opts.MaxFiles > 0 && len(filePaths) > opts.MaxFiles {
		filePaths = filePaths[:opts.MaxFiles]
	}

	result.FilesDiscovered = len(filePaths)
	return filePaths, nil
}

func (o *Orchestrator) emit(result *model.SyncResult, currentFile string, total int, status model.SyncStatus) {
	if o.progress == nil {
		return
	}

	p := model.Progress{
		RunID:             result.RunID,
		Status:            status,
		CurrentFile:       currentFile,
		TotalFiles:        total,
		ProcessedFiles:    result.FilesProcessed,
		SessionsProcessed: result.SessionsProcessed,
		MessagesProcessed: result.MessagesProcessed,
		Errors:            len(result.ParseErrors) + len(result.InsertErrors),
		StartTime:         result.StartTime,
	}
	if total > 0 {
		p.ProgressPercent = float64(result.FilesProcessed) / float64(total) * 100
	}
	// ETA is undefined until at least one file has settled.
	if result.FilesProcessed > 0 && result.FilesProcessed < total {
		elapsed := time.Since(result.StartTime)
		remaining := total - result.FilesProcessed
		eta := elapsed / time.Duration(result.FilesProcessed) * time.Duration(remaining)
		p.EstimatedRemainingMs = eta.Milliseconds()
	}

	o.progress(p)
}

func paths(files []source.FileInfo) []string {
	out := make([]string, len(files))
	for i, f := range files {
		out[i] = f.Path
	}
	return out
}
