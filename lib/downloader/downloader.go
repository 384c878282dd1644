package downloader

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"vaultsync-backend/lib/catalog"
	"vaultsync-backend/lib/telemetry"
	"vaultsync-backend/lib/timezone"

	cloudflarebp "github.com/DaRealFreak/cloudflare-bp-go"
	"github.com/go-resty/resty/v2"
	"github.com/spf13/afero"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
)

var tracer = otel.Tracer("downloader")

var (
	ErrInvalidEntry  = fmt.Errorf("entry is missing a download link or slug")
	ErrEmptyDownload = fmt.Errorf("downloaded file is empty")
)

// non-success response from the vault's file endpoint
type StatusError struct {
	Code int
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("unexpected http status %d", e.Code)
}

const userAgent = "Mozilla/5.0 (Windows NT 10.0; Win64; x64) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/123.0.0.0 Safari/537.36"

const archiveExt = ".zip"

type Options struct {
	// e.g. https://vault.example.com, redirects are constrained to
	// this host
	BaseURL string
	// directory downloaded archives land in
	Dir string
	// base of the public URL stamped onto successful entries
	PublicBaseURL string
	Timeout       time.Duration
	// defaults to the os filesystem
	Fs afero.Fs
}

// fetches entry archives over authenticated http, one batch at a
// time. construct one per task run.
type Manager struct {
	http       *resty.Client
	fs         afero.Fs
	opts       Options
	stats      counters
	cookieOnce sync.Once
}

func NewManager(opts Options) (*Manager, error) {
	baseURL, err := url.Parse(opts.BaseURL)
	if err != nil {
		return nil, err
	}
	if opts.Timeout <= 0 {
		opts.Timeout = time.Minute * 5
	}
	if opts.Fs == nil {
		opts.Fs = afero.NewOsFs()
	}

	client := resty.New()
	client.GetClient().Transport = cloudflarebp.AddCloudFlareByPass(client.GetClient().Transport)
	client.SetHeader("user-agent", userAgent)
	client.SetRedirectPolicy(resty.DomainCheckRedirectPolicy(baseURL.Hostname()))
	client.SetTimeout(opts.Timeout)

	telemetry.InstrumentResty(client, "downloader/http")

	return &Manager{
		http: client,
		fs:   opts.Fs,
		opts: opts,
	}, nil
}

// the size estimate and the download batch run concurrently over one
// client, so the session cookies are only ever installed once
func (m *Manager) setCookies(cookies []*http.Cookie) {
	m.cookieOnce.Do(func() {
		m.http.SetCookies(cookies)
	})
}

// derives the archive filename for a slug, "plugin-x-download" and
// "download-plugin-x" both become "plugin-x.zip"
func FilenameForSlug(slug string) string {
	base := strings.TrimSuffix(slug, "-download")
	if base == slug {
		base = strings.TrimPrefix(base, "download-")
	}
	return base + archiveExt
}

// downloads every entry one at a time, splitting the batch into a
// successful and a failed set. a single entry's failure never aborts
// the batch, and ctx cancellation only lands between entries, an
// entry already streaming runs to completion.
func (m *Manager) FetchAll(ctx context.Context, entries []catalog.Entry, cookies []*http.Cookie) ([]catalog.Entry, []catalog.Entry, error) {
	ctx, span := tracer.Start(ctx, "FetchAll")
	defer span.End()

	m.stats.reset(int64(len(entries)))

	err := m.fs.MkdirAll(m.opts.Dir, 0o755)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "failed to create download directory")
		return nil, nil, err
	}

	m.setCookies(cookies)

	// entries share one authenticated cookie context and one target
	// directory, downloading serially avoids session races and
	// filename collisions
	var successful, failed []catalog.Entry
	for _, entry := range entries {
		err := ctx.Err()
		if err != nil {
			span.SetStatus(codes.Error, "batch cancelled")
			return successful, failed, err
		}

		enriched, err := m.fetchOne(ctx, entry)
		if err != nil {
			slog.WarnContext(ctx, "entry download failed",
				"entry", entry.Slug,
				"err", err,
			)
			entry.Error = err.Error()
			failed = append(failed, entry)
			m.stats.failed.Add(1)
			continue
		}

		successful = append(successful, enriched)
		m.stats.successful.Add(1)
	}

	span.SetAttributes(
		attribute.Int("successful", len(successful)),
		attribute.Int("failed", len(failed)),
	)
	return successful, failed, nil
}

func (m *Manager) fetchOne(ctx context.Context, entry catalog.Entry) (catalog.Entry, error) {
	ctx, span := tracer.Start(ctx, "fetchOne")
	defer span.End()

	if entry.DownloadLink == "" || entry.Slug == "" {
		span.SetStatus(codes.Error, "invalid entry")
		return entry, ErrInvalidEntry
	}

	filename := FilenameForSlug(entry.Slug)
	path := filepath.Join(m.opts.Dir, filename)

	// detached from run cancellation so an in-flight transfer is never
	// cut mid-stream, the client timeout stays its only bound
	res, err := m.http.R().
		SetContext(context.WithoutCancel(ctx)).
		SetDoNotParseResponse(true).
		Get(entry.DownloadLink)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "request failed")
		return entry, err
	}
	body := res.RawBody()
	defer body.Close()

	if res.StatusCode() < 200 || res.StatusCode() >= 300 {
		span.SetStatus(codes.Error, "unexpected status")
		return entry, &StatusError{Code: res.StatusCode()}
	}

	size, err := m.writeFile(path, body)
	if err != nil {
		m.removePartial(ctx, path)
		span.RecordError(err)
		span.SetStatus(codes.Error, "failed to write file")
		return entry, err
	}
	if size == 0 {
		m.removePartial(ctx, path)
		span.SetStatus(codes.Error, "empty download")
		return entry, ErrEmptyDownload
	}

	entry.Filename = filename
	entry.FilePath = path
	entry.FileURL = m.publicURL(filename)
	entry.FileSize = size
	entry.DownloadedAt = timezone.Now()

	span.SetAttributes(
		attribute.String("filename", filename),
		attribute.Int64("bytes", size),
	)
	return entry, nil
}

func (m *Manager) writeFile(path string, body io.Reader) (int64, error) {
	f, err := m.fs.Create(path)
	if err != nil {
		return 0, err
	}
	size, err := io.Copy(f, body)
	cerr := f.Close()
	if err == nil {
		err = cerr
	}
	return size, err
}

// best-effort, a leftover partial file becomes a logged warning
// instead of masking the download error
func (m *Manager) removePartial(ctx context.Context, path string) {
	err := m.fs.Remove(path)
	if err != nil && !os.IsNotExist(err) {
		slog.WarnContext(ctx, "failed to remove partial download", "path", path, "err", err)
	}
}

func (m *Manager) publicURL(filename string) string {
	if m.opts.PublicBaseURL == "" {
		return "/files/" + filename
	}
	return strings.TrimRight(m.opts.PublicBaseURL, "/") + "/files/" + filename
}
