package mirror

import (
	"context"
	"database/sql"
	"errors"
	"net/http"
	"sync"
	"testing"
	"time"

	"vaultsync-backend/lib/catalog"
	"vaultsync-backend/lib/downloader"
	"vaultsync-backend/lib/recordstore"
	"vaultsync-backend/lib/testutil"

	"github.com/google/go-cmp/cmp"
	"github.com/google/go-cmp/cmp/cmpopts"
	"github.com/spf13/afero"
	"github.com/stretchr/testify/require"
)

type fakeSession struct {
	mu       sync.Mutex
	openErr  error
	authErr  error
	entries  []catalog.Entry
	username string
	password string
	closed   int
}

func (f *fakeSession) Open(ctx context.Context) error {
	return f.openErr
}

func (f *fakeSession) Authenticate(ctx context.Context, username, password string) error {
	f.mu.Lock()
	f.username = username
	f.password = password
	f.mu.Unlock()
	return f.authErr
}

func (f *fakeSession) ExtractEntries(ctx context.Context, targetDate string) ([]catalog.Entry, error) {
	return f.entries, nil
}

func (f *fakeSession) Cookies(ctx context.Context) ([]*http.Cookie, error) {
	return []*http.Cookie{{Name: "vault_session", Value: "abc123"}}, nil
}

func (f *fakeSession) Close() error {
	f.mu.Lock()
	f.closed++
	f.mu.Unlock()
	return nil
}

func (f *fakeSession) closedCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.closed
}

type fakeFetcher struct {
	mu         sync.Mutex
	successful []catalog.Entry
	failed     []catalog.Entry
	err        error
	// when non-nil, FetchAll blocks until this channel closes or the
	// context dies
	block      chan struct{}
	stats      downloader.Stats
	estimates  int
	gotCookies bool
}

func (f *fakeFetcher) FetchAll(ctx context.Context, entries []catalog.Entry, cookies []*http.Cookie) ([]catalog.Entry, []catalog.Entry, error) {
	if f.block != nil {
		select {
		case <-f.block:
		case <-ctx.Done():
			return nil, nil, ctx.Err()
		}
	}
	if f.err != nil {
		return nil, nil, f.err
	}

	f.mu.Lock()
	f.gotCookies = len(cookies) > 0
	f.stats = downloader.Stats{
		Successful: int64(len(f.successful)),
		Failed:     int64(len(f.failed)),
		Total:      int64(len(entries)),
	}
	f.mu.Unlock()
	return f.successful, f.failed, nil
}

func (f *fakeFetcher) EstimateSize(ctx context.Context, entries []catalog.Entry, cookies []*http.Cookie) int64 {
	f.mu.Lock()
	f.estimates++
	f.mu.Unlock()
	return 12345
}

func (f *fakeFetcher) Stats() downloader.Stats {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.stats
}

func (f *fakeFetcher) estimateCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.estimates
}

type fixture struct {
	service *Service
	session *fakeSession
	fetcher *fakeFetcher
	fs      afero.Fs
	db      *sql.DB
}

// the generation the currently armed sweep would fire with
func (f *fixture) cleanupGen() uint64 {
	f.service.mu.Lock()
	defer f.service.mu.Unlock()
	return f.service.cleanupGen
}

func setup(t *testing.T) (*fixture, func()) {
	res, cleanup := testutil.SetupService(t, testutil.ServiceParams{
		Name:     "services/mirror",
		DbSchema: recordstore.Schema,
	})

	f := &fixture{
		session: &fakeSession{
			entries: []catalog.Entry{
				{ID: "101", Slug: "plugin-x-download", Name: "Plugin X", Version: "2.3.1", Date: "2026-08-12"},
				{ID: "103", Slug: "acme-sync-download", Name: "Acme Sync", Version: "2", Date: "2026-08-12"},
				{ID: "104", Slug: "tool-download", Name: "Tool", Version: "1.0", Date: "2026-08-12"},
			},
		},
		fetcher: &fakeFetcher{},
		fs:      afero.NewMemMapFs(),
		db:      res.DB,
	}
	f.fetcher.successful = f.session.entries[:2]
	f.fetcher.failed = []catalog.Entry{f.session.entries[2]}
	f.fetcher.failed[0].Error = "unexpected http status 404"

	f.service = NewService(Options{
		NewSession:   func() (Session, error) { return f.session, nil },
		NewFetcher:   func() (Fetcher, error) { return f.fetcher, nil },
		Store:        recordstore.NewStore(res.DB),
		Fs:           f.fs,
		DownloadDir:  "/downloads",
		Username:     "user@example.com",
		Password:     "hunter2",
		DataExport:   "/exports/data.csv",
		ErrorExport:  "/exports/errors.csv",
		CleanupDelay: time.Hour,
	})
	return f, cleanup
}

func TestExecuteTask(t *testing.T) {
	f, cleanup := setup(t)
	defer cleanup()

	ctx, cancel := context.WithTimeout(context.Background(), time.Second*5)
	defer cancel()

	result, err := f.service.ExecuteTask(ctx, "2026-08-12")
	require.NoError(t, err)

	require.NotEmpty(t, result.RunID)
	require.Equal(t, "2026-08-12", result.Date)
	require.Equal(t, 3, result.TotalEntries)
	require.Len(t, result.Successful, 2)
	require.Len(t, result.Failed, 1)
	require.Equal(t, "unexpected http status 404", result.Failed[0].Error)
	require.Equal(t, "downloaded 2 of 3 entries", result.Message)
	require.False(t, result.CompletedAt.IsZero())

	{
		// credentials flow through to the session and nowhere else
		require.Equal(t, "user@example.com", f.session.username)
		require.Equal(t, "hunter2", f.session.password)
		require.True(t, f.fetcher.gotCookies)
	}
	{
		successful, err := recordstore.Load[catalog.Entry](ctx, f.service.opts.Store, collectionSuccessful)
		require.NoError(t, err)
		diff := cmp.Diff(
			f.fetcher.successful, successful,
			cmpopts.SortSlices(func(a, b catalog.Entry) bool {
				return a.ID < b.ID
			}),
		)
		require.Empty(t, diff)

		failed, err := recordstore.Load[catalog.Entry](ctx, f.service.opts.Store, collectionFailed)
		require.NoError(t, err)
		require.Len(t, failed, 1)
		require.Equal(t, "unexpected http status 404", failed[0].Error)
	}
	{
		exists, err := afero.Exists(f.fs, "/exports/data.csv")
		require.NoError(t, err)
		require.True(t, exists)

		exists, err = afero.Exists(f.fs, "/exports/errors.csv")
		require.NoError(t, err)
		require.True(t, exists)
	}
	{
		status := f.service.Status()
		require.False(t, status.IsRunning)
		require.True(t, status.HasScheduledCleanup)
		require.Equal(t, downloader.Stats{Successful: 2, Failed: 1, Total: 3}, status.Stats)
	}
	{
		last, err := f.service.LastResults(ctx)
		require.NoError(t, err)
		require.Equal(t, result.RunID, last.RunID)
	}

	require.NotZero(t, f.session.closedCount())
	require.Eventually(t, func() bool {
		return f.fetcher.estimateCount() == 1
	}, time.Second*2, time.Millisecond*10)
}

func TestExecuteTaskNoEntries(t *testing.T) {
	f, cleanup := setup(t)
	defer cleanup()

	f.session.entries = nil

	result, err := f.service.ExecuteTask(context.Background(), "2026-08-13")
	require.NoError(t, err)
	require.Contains(t, result.Message, "no entries")
	require.Zero(t, result.TotalEntries)
	require.Empty(t, result.Successful)
	require.Empty(t, result.Failed)

	// an empty day never overwrites previously persisted results
	_, err = f.service.LastResults(context.Background())
	require.ErrorIs(t, err, ErrNoResults)

	status := f.service.Status()
	require.False(t, status.IsRunning)
	require.False(t, status.HasScheduledCleanup)
}

func TestSingleFlight(t *testing.T) {
	f, cleanup := setup(t)
	defer cleanup()

	f.fetcher.block = make(chan struct{})

	done := make(chan error, 1)
	go func() {
		_, err := f.service.ExecuteTask(context.Background(), "2026-08-12")
		done <- err
	}()

	require.Eventually(t, func() bool {
		return f.service.Status().IsRunning
	}, time.Second*2, time.Millisecond*10)

	_, err := f.service.ExecuteTask(context.Background(), "2026-08-12")
	require.ErrorIs(t, err, ErrTaskAlreadyRunning)

	close(f.fetcher.block)
	require.NoError(t, <-done)
	require.False(t, f.service.Status().IsRunning)
}

func TestCancelTask(t *testing.T) {
	f, cleanup := setup(t)
	defer cleanup()

	// nothing to cancel while idle
	require.False(t, f.service.CancelTask())

	f.fetcher.block = make(chan struct{})

	done := make(chan error, 1)
	go func() {
		_, err := f.service.ExecuteTask(context.Background(), "2026-08-12")
		done <- err
	}()

	require.Eventually(t, func() bool {
		return f.service.Status().IsRunning
	}, time.Second*2, time.Millisecond*10)

	require.True(t, f.service.CancelTask())
	// the slot frees up immediately, before the goroutine unwinds
	require.False(t, f.service.Status().IsRunning)

	err := <-done
	require.Error(t, err)

	var taskErr *TaskError
	require.ErrorAs(t, err, &taskErr)
	require.ErrorIs(t, err, context.Canceled)
	require.NotZero(t, f.session.closedCount())

	// a fresh run can claim the slot afterwards
	f.fetcher.block = nil
	_, err = f.service.ExecuteTask(context.Background(), "2026-08-12")
	require.NoError(t, err)
}

func TestAuthFailureReleasesSlot(t *testing.T) {
	f, cleanup := setup(t)
	defer cleanup()

	f.session.authErr = errors.New("bad credentials")

	_, err := f.service.ExecuteTask(context.Background(), "2026-08-12")
	require.Error(t, err)

	var taskErr *TaskError
	require.ErrorAs(t, err, &taskErr)
	require.NotEmpty(t, taskErr.RunID)
	require.NotZero(t, f.session.closedCount())
	require.False(t, f.service.Status().IsRunning)

	f.session.authErr = nil
	_, err = f.service.ExecuteTask(context.Background(), "2026-08-12")
	require.NoError(t, err)
}

func TestPersistenceFailure(t *testing.T) {
	f, cleanup := setup(t)
	defer cleanup()

	// a dead database makes every save fail
	require.NoError(t, f.db.Close())

	_, err := f.service.ExecuteTask(context.Background(), "2026-08-12")
	require.ErrorIs(t, err, ErrPersistence)

	var taskErr *TaskError
	require.ErrorAs(t, err, &taskErr)
	require.NotEmpty(t, taskErr.RunID)
	require.False(t, f.service.Status().IsRunning)
}

func TestDirectoryUnavailable(t *testing.T) {
	f, cleanup := setup(t)
	defer cleanup()

	service := NewService(Options{
		NewSession:  func() (Session, error) { return f.session, nil },
		NewFetcher:  func() (Fetcher, error) { return f.fetcher, nil },
		Store:       f.service.opts.Store,
		Fs:          afero.NewReadOnlyFs(afero.NewMemMapFs()),
		DownloadDir: "/downloads",
	})

	_, err := service.ExecuteTask(context.Background(), "2026-08-12")
	require.ErrorIs(t, err, ErrDirectoryUnavailable)
	require.False(t, service.Status().IsRunning)
}

func TestCleanupSweep(t *testing.T) {
	f, cleanup := setup(t)
	defer cleanup()

	_, err := f.service.ExecuteTask(context.Background(), "2026-08-12")
	require.NoError(t, err)
	require.True(t, f.service.Status().HasScheduledCleanup)

	require.NoError(t, afero.WriteFile(f.fs, "/downloads/plugin-x.zip", []byte("data"), 0o644))
	require.NoError(t, afero.WriteFile(f.fs, "/downloads/acme-sync.zip", []byte("data"), 0o644))

	f.service.sweepDownloads(f.cleanupGen())

	infos, err := afero.ReadDir(f.fs, "/downloads")
	require.NoError(t, err)
	require.Empty(t, infos)
	require.False(t, f.service.Status().HasScheduledCleanup)
}

// simulates the armed timer firing late: its callback only reaches the
// lock after another run has come and gone
func TestStaleSweepSparesNextRunArchives(t *testing.T) {
	f, cleanup := setup(t)
	defer cleanup()

	_, err := f.service.ExecuteTask(context.Background(), "2026-08-12")
	require.NoError(t, err)
	staleGen := f.cleanupGen()

	_, err = f.service.ExecuteTask(context.Background(), "2026-08-12")
	require.NoError(t, err)
	require.NoError(t, afero.WriteFile(f.fs, "/downloads/plugin-x.zip", []byte("data"), 0o644))

	f.service.sweepDownloads(staleGen)

	// the first run's sweep must leave the second run's archives and
	// its armed sweep alone
	exists, err := afero.Exists(f.fs, "/downloads/plugin-x.zip")
	require.NoError(t, err)
	require.True(t, exists)
	require.True(t, f.service.Status().HasScheduledCleanup)

	// the current generation still sweeps
	f.service.sweepDownloads(f.cleanupGen())
	exists, err = afero.Exists(f.fs, "/downloads/plugin-x.zip")
	require.NoError(t, err)
	require.False(t, exists)
}

func TestCleanupSupersededByNextRun(t *testing.T) {
	f, cleanup := setup(t)
	defer cleanup()

	_, err := f.service.ExecuteTask(context.Background(), "2026-08-12")
	require.NoError(t, err)
	require.True(t, f.service.Status().HasScheduledCleanup)

	f.fetcher.block = make(chan struct{})

	done := make(chan error, 1)
	go func() {
		_, err := f.service.ExecuteTask(context.Background(), "2026-08-12")
		done <- err
	}()

	require.Eventually(t, func() bool {
		return f.service.Status().IsRunning
	}, time.Second*2, time.Millisecond*10)

	// starting a run disarms the previous run's sweep so fresh files
	// cannot be deleted out from under it
	require.False(t, f.service.Status().HasScheduledCleanup)

	close(f.fetcher.block)
	require.NoError(t, <-done)
	require.True(t, f.service.Status().HasScheduledCleanup)
}

func TestLastResultsSurvivesEmptyRun(t *testing.T) {
	f, cleanup := setup(t)
	defer cleanup()

	first, err := f.service.ExecuteTask(context.Background(), "2026-08-12")
	require.NoError(t, err)

	f.session.entries = nil
	_, err = f.service.ExecuteTask(context.Background(), "2026-08-13")
	require.NoError(t, err)

	last, err := f.service.LastResults(context.Background())
	require.NoError(t, err)
	require.Equal(t, first.RunID, last.RunID)
}
