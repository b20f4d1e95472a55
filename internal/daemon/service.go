// Package daemon provides the long-running sync service: it watches the logs
// directory, runs incremental syncs, and serves status and progress events
// over HTTP/SSE.
package daemon

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
	"golang.org/x/sync/errgroup"

	"github.com/jswensen/logsync/internal/model"
	"github.com/jswensen/logsync/internal/source"
	"github.com/jswensen/logsync/internal/store"
	syncer "github.com/jswensen/logsync/internal/sync"
)

// Config controls the daemon runtime behavior.
type Config struct {
	LogsDir      string
	Addr         string
	Interval     time.Duration // periodic incremental sync fallback
	Debounce     time.Duration // settle window after file events
	EventsBuffer int
}

// Event is published on every sync progress update and completion.
type Event struct {
	ID        int64             `json:"id"`
	Type      string            `json:"type"` // "progress" or "sync_result"
	Timestamp time.Time         `json:"timestamp"`
	Progress  *model.Progress   `json:"progress,omitempty"`
	Result    *ResultSummary    `json:"result,omitempty"`
}

// ResultSummary is the compact sync outcome carried in events and status.
// Duration is carried in milliseconds to match the wire field name.
type ResultSummary struct {
	RunID             string `json:"run_id"`
	Success           bool   `json:"success"`
	FilesProcessed    int    `json:"files_processed"`
	SessionsProcessed int    `json:"sessions_processed"`
	SessionsInserted  int    `json:"sessions_inserted"`
	DuplicatesSkipped int    `json:"duplicates_skipped"`
	ParseErrors       int    `json:"parse_errors"`
	InsertErrors      int    `json:"insert_errors"`
	DurationMs        int64  `json:"duration_ms"`
}

func summarize(r *model.SyncResult) *ResultSummary {
	return &ResultSummary{
		RunID:             r.RunID,
		Success:           r.Success(),
		FilesProcessed:    r.FilesProcessed,
		SessionsProcessed: r.SessionsProcessed,
		SessionsInserted:  r.SessionsInserted,
		DuplicatesSkipped: r.DuplicatesSkipped,
		ParseErrors:       len(r.ParseErrors),
		InsertErrors:      len(r.InsertErrors),
		DurationMs:        r.Duration.Milliseconds(),
	}
}

// Status is served at /v1/status.
type Status struct {
	StartedAt       time.Time      `json:"started_at"`
	LastSyncAt      time.Time      `json:"last_sync_at"`
	SyncCount       int64          `json:"sync_count"`
	LogsDir         string         `json:"logs_dir"`
	IntervalSec     int            `json:"interval_sec"`
	LastError       string         `json:"last_error,omitempty"`
	LastResult      *ResultSummary `json:"last_result,omitempty"`
	EventCount      int            `json:"event_count"`
	SubscriberCount int            `json:"subscriber_count"`
}

// Service runs the watch loop and HTTP API.
type Service struct {
	cfg    Config
	orch   *syncer.Orchestrator
	store  *store.Store
	logger *slog.Logger

	mu          sync.RWMutex
	startedAt   time.Time
	lastSyncAt  time.Time
	syncCount   int64
	lastError   string
	lastResult  *ResultSummary
	nextEventID int64
	events      []Event

	nextSubID int
	subs      map[int]chan Event
}

// New returns a daemon service wired to the given orchestrator and store.
func New(cfg Config, orch *syncer.Orchestrator, st *store.Store, logger *slog.Logger) *Service {
	if cfg.Interval < 10*time.Second {
		cfg.Interval = 5 * time.Minute
	}
	if cfg.Debounce <= 0 {
		cfg.Debounce = 2 * time.Second
	}
	if cfg.EventsBuffer < 1 {
		cfg.EventsBuffer = 200
	}
	if cfg.Addr == "" {
		cfg.Addr = "127.0.0.1:8791"
	}
	if logger == nil {
		logger = slog.Default()
	}

	s := &Service{
		cfg:       cfg,
		orch:      orch,
		store:     st,
		logger:    logger,
		startedAt: time.Now(),
		subs:      make(map[int]chan Event),
	}
	orch.OnProgress(s.publishProgress)
	return s
}

// Run starts the HTTP endpoints and the watch loop until ctx is canceled.
func (s *Service) Run(ctx context.Context) error {
	mux := http.NewServeMux()
	mux.HandleFunc("/healthz", s.handleHealth)
	mux.HandleFunc("/v1/status", s.handleStatus)
	mux.HandleFunc("/v1/events", s.handleEvents)
	mux.HandleFunc("/v1/stream", s.handleStream)

	server := &http.Server{
		Addr:              s.cfg.Addr,
		Handler:           mux,
		ReadHeaderTimeout: 5 * time.Second,
	}

	g, ctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("daemon http server: %w", err)
		}
		return nil
	})

	g.Go(func() error {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		return server.Shutdown(shutdownCtx)
	})

	g.Go(func() error {
		return s.watchLoop(ctx)
	})

	// Seed with one incremental sync so status is useful immediately.
	s.syncOnce()

	return g.Wait()
}

// watchLoop runs incremental syncs when log files change, debounced so a
// burst of writes produces one run, with a ticker as fallback for missed
// events.
func (s *Service) watchLoop(ctx context.Context) error {
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("creating watcher: %w", err)
	}
	defer func() { _ = watcher.Close() }()

	if err := s.watchTree(watcher, s.cfg.LogsDir); err != nil {
		s.logger.Warn("watching logs dir", "dir", s.cfg.LogsDir, "error", err)
	}

	ticker := time.NewTicker(s.cfg.Interval)
	defer ticker.Stop()

	debounce := time.NewTimer(s.cfg.Debounce)
	if !debounce.Stop() {
		<-debounce.C
	}
	pending := false

	for {
		select {
		case <-ctx.Done():
			return nil

		case ev, ok := <-watcher.Events:
			if !ok {
				return nil
			}
			// New subdirectories must be watched too.
			if ev.Op.Has(fsnotify.Create) {
				if fi, err := os.Stat(ev.Name); err == nil && fi.IsDir() {
					_ = watcher.Add(ev.Name)
					continue
				}
			}
			if filepath.Ext(ev.Name) != source.LogExtension {
				continue
			}
			if !pending {
				pending = true
			} else if !debounce.Stop() {
				select {
				case <-debounce.C:
				default:
				}
			}
			debounce.Reset(s.cfg.Debounce)

		case err, ok := <-watcher.Errors:
			if !ok {
				return nil
			}
			s.logger.Warn("watcher error", "error", err)

		case <-debounce.C:
			pending = false
			s.syncOnce()

		case <-ticker.C:
			s.syncOnce()
		}
	}
}

func (s *Service) watchTree(watcher *fsnotify.Watcher, root string) error {
	return filepath.WalkDir(root, func(path string, d os.DirEntry, err error) error {
		if err != nil {
			return nil
		}
		if d.IsDir() {
			return watcher.Add(path)
		}
		return nil
	})
}

func (s *Service) syncOnce() {
	result, err := s.orch.SyncAll(syncer.Options{Incremental: true})

	s.mu.Lock()
	s.lastSyncAt = time.Now()
	s.syncCount++
	if err != nil {
		s.lastError = err.Error()
		s.mu.Unlock()
		if errors.Is(err, store.ErrSyncInProgress) {
			s.logger.Info("sync skipped, another run holds the claim")
		} else {
			s.logger.Error("sync error", "error", err)
		}
		return
	}
	s.lastError = ""
	s.lastResult = summarize(result)
	s.mu.Unlock()

	s.publishResult(result)
}

func (s *Service) publishProgress(p model.Progress) {
	prog := p
	s.publish(Event{Type: "progress", Timestamp: time.Now(), Progress: &prog})
}

func (s *Service) publishResult(r *model.SyncResult) {
	s.publish(Event{Type: "sync_result", Timestamp: time.Now(), Result: summarize(r)})
}

func (s *Service) publish(ev Event) {
	s.mu.Lock()
	s.nextEventID++
	ev.ID = s.nextEventID
	s.events = append(s.events, ev)
	if len(s.events) > s.cfg.EventsBuffer {
		s.events = s.events[len(s.events)-s.cfg.EventsBuffer:]
	}

	for _, ch := range s.subs {
		select {
		case ch <- ev:
		default:
		}
	}
	s.mu.Unlock()
}

func (s *Service) snapshotStatus() Status {
	s.mu.RLock()
	defer s.mu.RUnlock()

	return Status{
		StartedAt:       s.startedAt,
		LastSyncAt:      s.lastSyncAt,
		SyncCount:       s.syncCount,
		LogsDir:         s.cfg.LogsDir,
		IntervalSec:     int(s.cfg.Interval.Seconds()),
		LastError:       s.lastError,
		LastResult:      s.lastResult,
		EventCount:      len(s.events),
		SubscriberCount: len(s.subs),
	}
}

func (s *Service) handleHealth(w http.ResponseWriter, _ *http.Request) {
	w.Header().Set("Content-Type", "text/plain; charset=utf-8")
	_, _ = w.Write([]byte("ok\n"))
}

func (s *Service) handleStatus(w http.ResponseWriter, _ *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(s.snapshotStatus())
}

func (s *Service) handleEvents(w http.ResponseWriter, _ *http.Request) {
	s.mu.RLock()
	events := make([]Event, len(s.events))
	copy(events, s.events)
	s.mu.RUnlock()

	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(events)
}

func (s *Service) handleStream(w http.ResponseWriter, r *http.Request) {
	flusher, ok := w.(http.Flusher)
	if !ok {
		http.Error(w, "streaming unsupported", http.StatusInternalServerError)
		return
	}

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")

	ch := make(chan Event, 16)
	id := s.addSubscriber(ch)
	defer s.removeSubscriber(id)

	for {
		select {
		case <-r.Context().Done():
			return
		case ev := <-ch:
			writeSSE(w, ev)
			flusher.Flush()
		}
	}
}

func writeSSE(w http.ResponseWriter, ev Event) {
	data, err := json.Marshal(ev)
	if err != nil {
		return
	}
	_, _ = fmt.Fprintf(w, "event: %s\n", ev.Type)
	_, _ = fmt.Fprintf(w, "data: %s\n\n", data)
}

func (s *Service) addSubscriber(ch chan Event) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.nextSubID++
	id := s.nextSubID
	s.subs[id] = ch
	return id
}

func (s *Service) removeSubscriber(id int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.subs, id)
}
