package vault

import (
	"context"
	"net/http"
	"time"
)

// the subset of a browser automation runtime the session drives. the
// production implementation is ChromeDriver, tests swap in a fake.
type Driver interface {
	Start(ctx context.Context) error
	Navigate(ctx context.Context, url string) error
	WaitVisible(ctx context.Context, selector string, timeout time.Duration) error
	SendKeys(ctx context.Context, selector, text string) error
	Click(ctx context.Context, selector string) error
	OuterHTML(ctx context.Context) (string, error)
	Cookies(ctx context.Context) ([]*http.Cookie, error)
	Stop() error
}
