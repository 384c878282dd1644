package vault

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"

	"vaultsync-backend/lib/catalog"
	"vaultsync-backend/lib/timezone"

	"github.com/PuerkitoBio/goquery"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
)

var tracer = otel.Tracer("scrapers/vault")

var (
	ErrSessionUnavailable   = fmt.Errorf("browser session unavailable")
	ErrAuthenticationFailed = fmt.Errorf("authentication failed")
	ErrNotAuthenticated     = fmt.Errorf("session not authenticated")
)

type state int

const (
	stateClosed state = iota
	stateOpening
	stateOpen
	stateAuthenticated
	stateExtracting
)

// the vault is a single fixed site, its surfaces and controls are
// compile-time constants
const (
	loginPath   = "/login"
	catalogPath = "/updates"

	usernameSelector = "input#username"
	passwordSelector = "input#password"
	submitSelector   = "button[name='login']"
	consentSelector  = "button#accept-cookies"
	accountSelector  = "a.account-menu"
	rowsSelector     = "tr.update-row"
)

const (
	controlWait = time.Second * 15
	consentWait = time.Second * 3

	siteDateLayout = "January 2, 2006"
)

type Options struct {
	// e.g. https://vault.example.com
	BaseURL string
	Driver  Driver
}

// one authenticated browsing context against the vault. not safe for
// concurrent calls except Close, which may interrupt any state.
type Session struct {
	baseURL *url.URL
	driver  Driver

	mu    sync.Mutex
	state state
}

func NewSession(opts Options) (*Session, error) {
	baseURL, err := url.Parse(strings.TrimRight(opts.BaseURL, "/"))
	if err != nil {
		return nil, err
	}
	return &Session{
		baseURL: baseURL,
		driver:  opts.Driver,
	}, nil
}

func (s *Session) setState(v state) {
	s.mu.Lock()
	s.state = v
	s.mu.Unlock()
}

func (s *Session) Open(ctx context.Context) error {
	ctx, span := tracer.Start(ctx, "Open")
	defer span.End()

	s.mu.Lock()
	if s.state != stateClosed {
		s.mu.Unlock()
		return fmt.Errorf("%w: session is already open", ErrSessionUnavailable)
	}
	s.state = stateOpening
	s.mu.Unlock()

	err := s.driver.Start(ctx)
	if err != nil {
		s.setState(stateClosed)
		span.RecordError(err)
		span.SetStatus(codes.Error, "failed to start browser")
		return fmt.Errorf("%w: %w", ErrSessionUnavailable, err)
	}

	s.setState(stateOpen)
	return nil
}

func (s *Session) Authenticate(ctx context.Context, username, password string) error {
	ctx, span := tracer.Start(ctx, "Authenticate")
	defer span.End()

	s.mu.Lock()
	if s.state != stateOpen {
		s.mu.Unlock()
		return fmt.Errorf("%w: session is not open", ErrAuthenticationFailed)
	}
	s.mu.Unlock()

	err := s.login(ctx, username, password)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "login failed")
		s.Close()
		return err
	}

	s.setState(stateAuthenticated)
	return nil
}

func (s *Session) login(ctx context.Context, username, password string) error {
	err := s.driver.Navigate(ctx, s.baseURL.String()+loginPath)
	if err != nil {
		return fmt.Errorf("%w: navigate to login page: %w", ErrAuthenticationFailed, err)
	}

	// the consent banner only shows up on fresh browser profiles,
	// its absence within the short wait is not an error
	err = s.driver.WaitVisible(ctx, consentSelector, consentWait)
	if err == nil {
		err = s.driver.Click(ctx, consentSelector)
		if err != nil {
			slog.WarnContext(ctx, "failed to dismiss consent banner", "err", err)
		}
	}

	err = s.driver.WaitVisible(ctx, usernameSelector, controlWait)
	if err != nil {
		return fmt.Errorf("%w: username field not found: %w", ErrAuthenticationFailed, err)
	}
	err = s.driver.SendKeys(ctx, usernameSelector, username)
	if err != nil {
		return fmt.Errorf("%w: fill username: %w", ErrAuthenticationFailed, err)
	}

	err = s.driver.WaitVisible(ctx, passwordSelector, controlWait)
	if err != nil {
		return fmt.Errorf("%w: password field not found: %w", ErrAuthenticationFailed, err)
	}
	err = s.driver.SendKeys(ctx, passwordSelector, password)
	if err != nil {
		return fmt.Errorf("%w: fill password: %w", ErrAuthenticationFailed, err)
	}

	err = s.driver.Click(ctx, submitSelector)
	if err != nil {
		return fmt.Errorf("%w: submit login form: %w", ErrAuthenticationFailed, err)
	}

	// the account menu is only rendered for signed-in members, it
	// doubles as the post-login navigation landmark
	err = s.driver.WaitVisible(ctx, accountSelector, controlWait)
	if err != nil {
		return fmt.Errorf("%w: login did not complete: %w", ErrAuthenticationFailed, err)
	}

	return nil
}

// task dates come in as 2006-01-02, the catalog renders them like
// "January 2, 2006"
func formatSiteDate(targetDate string) (string, error) {
	t, err := time.ParseInLocation(time.DateOnly, targetDate, timezone.Location)
	if err != nil {
		return "", err
	}
	return t.Format(siteDateLayout), nil
}

func (s *Session) ExtractEntries(ctx context.Context, targetDate string) ([]catalog.Entry, error) {
	ctx, span := tracer.Start(ctx, "ExtractEntries")
	defer span.End()

	s.mu.Lock()
	if s.state != stateAuthenticated {
		s.mu.Unlock()
		return nil, ErrNotAuthenticated
	}
	s.state = stateExtracting
	s.mu.Unlock()
	defer func() {
		// Close may have fired mid-extraction, only roll back to
		// authenticated if nothing else touched the state
		s.mu.Lock()
		if s.state == stateExtracting {
			s.state = stateAuthenticated
		}
		s.mu.Unlock()
	}()

	want, err := formatSiteDate(targetDate)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "bad target date")
		return nil, fmt.Errorf("bad target date %q: %w", targetDate, err)
	}

	err = s.driver.Navigate(ctx, s.baseURL.String()+catalogPath)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "failed to navigate to catalog")
		return nil, err
	}

	// rows render asynchronously after the shell page loads
	err = s.driver.WaitVisible(ctx, rowsSelector, controlWait)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "catalog rows never rendered")
		return nil, err
	}

	html, err := s.driver.OuterHTML(ctx)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "failed to snapshot page")
		return nil, err
	}
	doc, err := goquery.NewDocumentFromReader(strings.NewReader(html))
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "failed to parse page snapshot")
		return nil, err
	}

	rows := scrapeRows(ctx, doc, s.baseURL, want)
	entries := catalog.Normalize(ctx, rows)

	span.SetAttributes(
		attribute.Int("rows", len(rows)),
		attribute.Int("entries", len(entries)),
	)
	return entries, nil
}

func (s *Session) Cookies(ctx context.Context) ([]*http.Cookie, error) {
	s.mu.Lock()
	if s.state != stateAuthenticated {
		s.mu.Unlock()
		return nil, ErrNotAuthenticated
	}
	s.mu.Unlock()

	return s.driver.Cookies(ctx)
}

// idempotent teardown. driver failures become a logged warning so
// shutdown never gets stuck behind a dying browser.
func (s *Session) Close() error {
	s.mu.Lock()
	if s.state == stateClosed {
		s.mu.Unlock()
		return nil
	}
	s.state = stateClosed
	s.mu.Unlock()

	err := s.driver.Stop()
	if err != nil {
		slog.Warn("failed to stop browser driver", "err", err)
	}
	return nil
}
