package vault

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/chromedp/cdproto/network"
	"github.com/chromedp/chromedp"
)

type ChromeOptions struct {
	Headless bool
	// ceiling applied to every individual browser action, waits
	// excluded since those carry their own timeout
	ActionTimeout time.Duration
}

// Driver backed by a real chrome process via chromedp.
type ChromeDriver struct {
	opts ChromeOptions

	browser     context.Context
	stopBrowser context.CancelFunc
	stopAlloc   context.CancelFunc
}

func NewChromeDriver(opts ChromeOptions) *ChromeDriver {
	if opts.ActionTimeout <= 0 {
		opts.ActionTimeout = time.Second * 30
	}
	return &ChromeDriver{opts: opts}
}

func (d *ChromeDriver) Start(ctx context.Context) error {
	allocOpts := append(
		chromedp.DefaultExecAllocatorOptions[:],
		chromedp.Flag("headless", d.opts.Headless),
		chromedp.Flag("disable-gpu", true),
		chromedp.Flag("no-sandbox", true),
	)
	allocCtx, stopAlloc := chromedp.NewExecAllocator(ctx, allocOpts...)
	browser, stopBrowser := chromedp.NewContext(allocCtx)

	// spawn the browser process up front so a missing chrome binary
	// surfaces here instead of on the first navigation
	err := chromedp.Run(browser)
	if err != nil {
		stopBrowser()
		stopAlloc()
		return err
	}

	d.browser = browser
	d.stopBrowser = stopBrowser
	d.stopAlloc = stopAlloc
	return nil
}

// runs actions against the live browser bounded by both the given
// timeout and the caller's ctx
func (d *ChromeDriver) run(ctx context.Context, timeout time.Duration, actions ...chromedp.Action) error {
	if d.browser == nil {
		return errors.New("browser not started")
	}

	runCtx, cancel := context.WithTimeout(d.browser, timeout)
	defer cancel()
	stop := context.AfterFunc(ctx, cancel)
	defer stop()

	return chromedp.Run(runCtx, actions...)
}

func (d *ChromeDriver) Navigate(ctx context.Context, url string) error {
	return d.run(ctx, d.opts.ActionTimeout, chromedp.Navigate(url))
}

func (d *ChromeDriver) WaitVisible(ctx context.Context, selector string, timeout time.Duration) error {
	return d.run(ctx, timeout, chromedp.WaitVisible(selector, chromedp.ByQuery))
}

func (d *ChromeDriver) SendKeys(ctx context.Context, selector, text string) error {
	return d.run(ctx, d.opts.ActionTimeout, chromedp.SendKeys(selector, text, chromedp.ByQuery))
}

func (d *ChromeDriver) Click(ctx context.Context, selector string) error {
	return d.run(ctx, d.opts.ActionTimeout, chromedp.Click(selector, chromedp.ByQuery))
}

func (d *ChromeDriver) OuterHTML(ctx context.Context) (string, error) {
	var out string
	err := d.run(ctx, d.opts.ActionTimeout, chromedp.OuterHTML("html", &out, chromedp.ByQuery))
	return out, err
}

func (d *ChromeDriver) Cookies(ctx context.Context) ([]*http.Cookie, error) {
	var raw []*network.Cookie
	err := d.run(ctx, d.opts.ActionTimeout, chromedp.ActionFunc(func(ctx context.Context) error {
		var err error
		raw, err = network.GetCookies().Do(ctx)
		return err
	}))
	if err != nil {
		return nil, err
	}

	cookies := make([]*http.Cookie, len(raw))
	for i, c := range raw {
		cookies[i] = &http.Cookie{
			Name:     c.Name,
			Value:    c.Value,
			Domain:   c.Domain,
			Path:     c.Path,
			Secure:   c.Secure,
			HttpOnly: c.HTTPOnly,
		}
		if c.Expires > 0 {
			cookies[i].Expires = time.Unix(int64(c.Expires), 0)
		}
	}
	return cookies, nil
}

func (d *ChromeDriver) Stop() error {
	if d.stopBrowser != nil {
		d.stopBrowser()
		d.stopBrowser = nil
	}
	if d.stopAlloc != nil {
		d.stopAlloc()
		d.stopAlloc = nil
	}
	d.browser = nil
	return nil
}
