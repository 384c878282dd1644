package mirror

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"path/filepath"
	"sync"
	"time"

	"vaultsync-backend/lib/catalog"
	"vaultsync-backend/lib/downloader"
	"vaultsync-backend/lib/recordstore"
	"vaultsync-backend/lib/timezone"

	"github.com/google/uuid"
	"github.com/mazen160/go-random"
	"github.com/spf13/afero"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
)

var tracer = otel.Tracer("services/mirror")

const (
	collectionSuccessful = "downloads/successful"
	collectionFailed     = "downloads/failed"
	collectionLastRun    = "runs/last"
)

const defaultCleanupDelay = time.Hour

// a headless browser session against the vault
type Session interface {
	Open(ctx context.Context) error
	Authenticate(ctx context.Context, username, password string) error
	ExtractEntries(ctx context.Context, targetDate string) ([]catalog.Entry, error)
	Cookies(ctx context.Context) ([]*http.Cookie, error)
	Close() error
}

// downloads the extracted entries over plain authenticated http
type Fetcher interface {
	FetchAll(ctx context.Context, entries []catalog.Entry, cookies []*http.Cookie) (successful, failed []catalog.Entry, err error)
	EstimateSize(ctx context.Context, entries []catalog.Entry, cookies []*http.Cookie) int64
	Stats() downloader.Stats
}

type Options struct {
	// sessions and fetchers live for a single run, so the service
	// takes factories instead of instances
	NewSession func() (Session, error)
	NewFetcher func() (Fetcher, error)

	Store recordstore.Store
	// defaults to the os filesystem
	Fs afero.Fs

	DownloadDir string
	// kept in memory only, never persisted anywhere
	Username string
	Password string

	// csv export destinations, skipped when empty
	DataExport  string
	ErrorExport string

	// how long downloaded archives stay on disk after a run
	CleanupDelay time.Duration
}

// the outcome of one completed task run. failed entries carry their
// individual error strings, a partial failure is still a result.
type TaskResult struct {
	RunID        string           `json:"run_id"`
	Date         string           `json:"date"`
	TotalEntries int              `json:"total_entries"`
	Successful   []catalog.Entry  `json:"successful"`
	Failed       []catalog.Entry  `json:"failed"`
	Stats        downloader.Stats `json:"stats"`
	Message      string           `json:"message"`
	CompletedAt  time.Time        `json:"completed_at"`
}

type Status struct {
	IsRunning           bool             `json:"is_running"`
	Stats               downloader.Stats `json:"stats"`
	HasScheduledCleanup bool             `json:"has_scheduled_cleanup"`
}

// Service orchestrates the scrape-and-download pipeline: open a
// browser session, sign in, extract the day's catalog entries,
// download them and persist the outcome. at most one run is in
// flight at a time.
type Service struct {
	opts Options

	mu        sync.Mutex
	running   bool
	runID     string
	runCancel context.CancelFunc
	session   Session
	fetcher   Fetcher
	// the armed sweep and the generation it belongs to. anything that
	// disarms the sweep bumps the generation, so a timer that fired
	// before Stop caught it finds itself stale.
	cleanup    *time.Timer
	cleanupGen uint64
}

func NewService(opts Options) *Service {
	if opts.Fs == nil {
		opts.Fs = afero.NewOsFs()
	}
	if opts.CleanupDelay <= 0 {
		opts.CleanupDelay = defaultCleanupDelay
	}
	return &Service{opts: opts}
}

// ExecuteTask runs the pipeline for targetDate (yyyy-mm-dd) and blocks
// until it finishes. a second call while one is in flight fails with
// ErrTaskAlreadyRunning.
func (s *Service) ExecuteTask(ctx context.Context, targetDate string) (TaskResult, error) {
	ctx, span := tracer.Start(ctx, "ExecuteTask")
	defer span.End()

	runID := uuid.NewString()
	span.SetAttributes(
		attribute.String("run_id", runID),
		attribute.String("date", targetDate),
	)

	runCtx, cancel := context.WithCancel(ctx)
	err := s.beginRun(runID, cancel)
	if err != nil {
		cancel()
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return TaskResult{}, err
	}
	defer s.finishRun(runID, cancel)

	result, err := s.runTask(runCtx, runID, targetDate)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return TaskResult{}, &TaskError{RunID: runID, Err: err}
	}
	return result, nil
}

// claims the single-flight slot. the directory probe happens inside
// the critical section so a failed probe never leaves the slot taken.
func (s *Service) beginRun(runID string, cancel context.CancelFunc) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.running {
		return ErrTaskAlreadyRunning
	}

	err := s.probeDownloadDir()
	if err != nil {
		return fmt.Errorf("%w: %w", ErrDirectoryUnavailable, err)
	}

	// a fresh run supersedes any sweep armed by the previous one
	s.stopCleanupLocked()

	s.running = true
	s.runID = runID
	s.runCancel = cancel
	return nil
}

// releases the single-flight slot, unless a newer run already owns it
func (s *Service) finishRun(runID string, cancel context.CancelFunc) {
	cancel()

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.runID != runID {
		return
	}
	s.running = false
	s.runCancel = nil
	s.session = nil
}

// writes and removes a marker file to prove the download directory is
// writable before a run claims the slot
func (s *Service) probeDownloadDir() error {
	err := s.opts.Fs.MkdirAll(s.opts.DownloadDir, 0o755)
	if err != nil {
		return err
	}
	marker, err := random.String(12)
	if err != nil {
		return err
	}
	path := filepath.Join(s.opts.DownloadDir, ".probe-"+marker)
	err = afero.WriteFile(s.opts.Fs, path, []byte{}, 0o644)
	if err != nil {
		return err
	}
	return s.opts.Fs.Remove(path)
}

func (s *Service) runTask(ctx context.Context, runID, targetDate string) (TaskResult, error) {
	ctx, span := tracer.Start(ctx, "runTask")
	defer span.End()

	slog.InfoContext(ctx, "starting vault mirror task", "run_id", runID, "date", targetDate)

	session, err := s.opts.NewSession()
	if err != nil {
		return TaskResult{}, err
	}
	defer session.Close()

	s.mu.Lock()
	s.session = session
	s.mu.Unlock()

	err = session.Open(ctx)
	if err != nil {
		return TaskResult{}, err
	}
	err = session.Authenticate(ctx, s.opts.Username, s.opts.Password)
	if err != nil {
		return TaskResult{}, err
	}

	entries, err := session.ExtractEntries(ctx, targetDate)
	if err != nil {
		return TaskResult{}, err
	}
	span.SetAttributes(attribute.Int("entries", len(entries)))

	if len(entries) == 0 {
		slog.InfoContext(ctx, "no catalog entries for date", "run_id", runID, "date", targetDate)
		return TaskResult{
			RunID:       runID,
			Date:        targetDate,
			Message:     fmt.Sprintf("no entries dated %s were found", targetDate),
			CompletedAt: timezone.Now(),
		}, nil
	}

	cookies, err := session.Cookies(ctx)
	if err != nil {
		return TaskResult{}, err
	}

	fetcher, err := s.opts.NewFetcher()
	if err != nil {
		return TaskResult{}, err
	}
	s.mu.Lock()
	s.fetcher = fetcher
	s.mu.Unlock()

	// fire and forget, the estimate only feeds logs and traces and
	// must never hold the downloads back
	go func() {
		estimateCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), time.Minute)
		defer cancel()
		estimate := fetcher.EstimateSize(estimateCtx, entries, cookies)
		slog.InfoContext(estimateCtx, "estimated batch size", "run_id", runID, "bytes", estimate)
	}()

	successful, failed, err := fetcher.FetchAll(ctx, entries, cookies)
	if err != nil {
		return TaskResult{}, err
	}

	// the browser has nothing left to do once the downloads are done
	session.Close()

	result := TaskResult{
		RunID:        runID,
		Date:         targetDate,
		TotalEntries: len(entries),
		Successful:   successful,
		Failed:       failed,
		Stats:        fetcher.Stats(),
		Message:      fmt.Sprintf("downloaded %d of %d entries", len(successful), len(entries)),
		CompletedAt:  timezone.Now(),
	}

	err = s.persistResults(ctx, result)
	if err != nil {
		return TaskResult{}, fmt.Errorf("%w: %w", ErrPersistence, err)
	}

	s.scheduleCleanup()

	slog.InfoContext(ctx, "vault mirror task finished",
		"run_id", runID,
		"successful", len(successful),
		"failed", len(failed),
	)
	return result, nil
}

func (s *Service) persistResults(ctx context.Context, result TaskResult) error {
	ctx, span := tracer.Start(ctx, "persistResults")
	defer span.End()

	err := recordstore.Save(ctx, s.opts.Store, collectionSuccessful, result.Successful)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return err
	}
	err = recordstore.Save(ctx, s.opts.Store, collectionFailed, result.Failed)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return err
	}
	err = recordstore.Save(ctx, s.opts.Store, collectionLastRun, []TaskResult{result})
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return err
	}

	if s.opts.DataExport != "" {
		err = recordstore.WriteCSV(s.opts.Fs, s.opts.DataExport, result.Successful)
		if err != nil {
			span.RecordError(err)
			span.SetStatus(codes.Error, "failed to export data csv")
			return err
		}
	}
	if s.opts.ErrorExport != "" {
		err = recordstore.WriteCSV(s.opts.Fs, s.opts.ErrorExport, result.Failed)
		if err != nil {
			span.RecordError(err)
			span.SetStatus(codes.Error, "failed to export error csv")
			return err
		}
	}
	return nil
}

// CancelTask interrupts the in-flight run, if any. the single-flight
// slot frees up immediately even though the cancelled goroutine may
// take a moment to unwind.
func (s *Service) CancelTask() bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	if !s.running {
		return false
	}

	if s.runCancel != nil {
		s.runCancel()
	}
	if s.session != nil {
		// tearing the browser down doubles as an interrupt for a
		// scrape blocked inside the driver
		s.session.Close()
		s.session = nil
	}
	s.running = false
	s.runCancel = nil

	slog.Info("task run cancelled", "run_id", s.runID)
	return true
}

func (s *Service) Status() Status {
	s.mu.Lock()
	defer s.mu.Unlock()

	status := Status{
		IsRunning:           s.running,
		HasScheduledCleanup: s.cleanup != nil,
	}
	if s.fetcher != nil {
		status.Stats = s.fetcher.Stats()
	}
	return status
}

// LastResults returns the most recent persisted run outcome.
func (s *Service) LastResults(ctx context.Context) (TaskResult, error) {
	results, err := recordstore.Load[TaskResult](ctx, s.opts.Store, collectionLastRun)
	if err != nil {
		return TaskResult{}, err
	}
	if len(results) == 0 || results[0].RunID == "" {
		return TaskResult{}, ErrNoResults
	}
	return results[0], nil
}
