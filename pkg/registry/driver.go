package registry

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/url"
	"time"

	"github.com/chromedp/chromedp"
	"golang.org/x/time/rate"

	"github.com/colascope/colascope/pkg/cola"
)

const (
	// DefaultSearchURL is the registry's public basic-search form.
	DefaultSearchURL = "https://ttbonline.gov/colasonline/publicSearchColasBasic.do"

	dateFromField  = `input[name="searchCriteria.dateCompletedFrom"]`
	dateToField    = `input[name="searchCriteria.dateCompletedTo"]`
	classFromField = `input[name="searchCriteria.classTypeFrom"]`
	classToField   = `input[name="searchCriteria.classTypeTo"]`
	submitButton   = `form input[type="submit"]`
	nextPageXPath  = `//a[starts-with(normalize-space(text()),'Next')]`
)

// SessionError marks a structural failure: the page no longer contains what
// the driver expects, or a CAPTCHA could not be cleared. Not retryable.
type SessionError struct {
	Op     string
	Reason string
}

func (e *SessionError) Error() string {
	return fmt.Sprintf("registry session error during %s: %s", e.Op, e.Reason)
}

var (
	// ErrEndOfResults signals that pagination is exhausted.
	ErrEndOfResults = errors.New("end of results")
	// ErrCaptchaSkip means the operator chose to skip the current unit of work.
	ErrCaptchaSkip = errors.New("captcha: operator skipped")
	// ErrCaptchaQuit means the operator chose to abort the run.
	ErrCaptchaQuit = errors.New("captcha: operator quit")
)

// ClassRange restricts a search to a product class/type code interval.
type ClassRange struct {
	From string
	To   string
}

// Options configures a Driver.
type Options struct {
	Headless       bool
	Interactive    bool
	Prompter       Prompter
	Logger         *slog.Logger
	SearchURL      string
	CaptchaTimeout time.Duration
	DetailTimeout  time.Duration
	// RequestsPerSecond paces everything the driver asks of the registry.
	RequestsPerSecond float64
}

// Driver automates the registry's search UI through a real browser. One
// driver per worker; not safe for concurrent use, matching the one-browser
// one-store worker model.
type Driver struct {
	opts      Options
	limiter   *rate.Limiter
	log       *slog.Logger
	searchURL *url.URL

	allocCancel context.CancelFunc
	tabCancel   context.CancelFunc
	tab         context.Context

	lastHTML string
}

// New builds a driver; Start must be called before use.
func New(opts Options) (*Driver, error) {
	if opts.SearchURL == "" {
		opts.SearchURL = DefaultSearchURL
	}
	if opts.CaptchaTimeout == 0 {
		opts.CaptchaTimeout = 300 * time.Second
	}
	if opts.DetailTimeout == 0 {
		opts.DetailTimeout = 30 * time.Second
	}
	if opts.RequestsPerSecond == 0 {
		opts.RequestsPerSecond = 2
	}
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}
	if opts.Prompter == nil {
		opts.Prompter = NewStdinPrompter()
	}
	u, err := url.Parse(opts.SearchURL)
	if err != nil {
		return nil, fmt.Errorf("parse search url: %w", err)
	}
	return &Driver{
		opts:      opts,
		limiter:   rate.NewLimiter(rate.Limit(opts.RequestsPerSecond), 4),
		log:       opts.Logger,
		searchURL: u,
	}, nil
}

// Start launches the browser process. Retries three times with lengthening
// waits; a machine that cannot start a browser at all is a fatal condition
// for the worker.
func (d *Driver) Start(ctx context.Context) error {
	var lastErr error
	for attempt := 1; attempt <= 3; attempt++ {
		if lastErr = d.launch(ctx); lastErr == nil {
			return nil
		}
		d.stop()
		wait := time.Duration(attempt) * 5 * time.Second
		d.log.Warn("browser start failed", "attempt", attempt, "wait", wait, "error", lastErr)
		select {
		case <-time.After(wait):
		case <-ctx.Done():
			return ctx.Err()
		}
	}
	return fmt.Errorf("browser failed to start after 3 attempts: %w", lastErr)
}

func (d *Driver) launch(ctx context.Context) error {
	allocOpts := append(chromedp.DefaultExecAllocatorOptions[:],
		chromedp.Flag("headless", d.opts.Headless),
		chromedp.Flag("disable-blink-features", "AutomationControlled"),
	)
	allocCtx, allocCancel := chromedp.NewExecAllocator(ctx, allocOpts...)
	tab, tabCancel := chromedp.NewContext(allocCtx)

	// Force the browser process up now rather than on first navigation.
	if err := chromedp.Run(tab); err != nil {
		tabCancel()
		allocCancel()
		return err
	}
	d.allocCancel = allocCancel
	d.tabCancel = tabCancel
	d.tab = tab
	return nil
}

func (d *Driver) stop() {
	if d.tabCancel != nil {
		d.tabCancel()
		d.tabCancel = nil
	}
	if d.allocCancel != nil {
		d.allocCancel()
		d.allocCancel = nil
	}
	d.tab = nil
}

// Close shuts the browser down.
func (d *Driver) Close() {
	d.stop()
}

// healthy probes the browser with a trivial evaluation.
func (d *Driver) healthy() bool {
	if d.tab == nil {
		return false
	}
	probe, cancel := context.WithTimeout(d.tab, 5*time.Second)
	defer cancel()
	var one int
	return chromedp.Run(probe, chromedp.Evaluate(`1`, &one)) == nil
}

// ensure restarts the browser if it has died. Called before every long
// sequence per the safety contract.
func (d *Driver) ensure(ctx context.Context) error {
	if d.healthy() {
		return nil
	}
	d.log.Warn("browser unhealthy, restarting")
	d.stop()
	return d.Start(ctx)
}

// SubmitSearch fills and submits the date (and optional class-code) search
// form and returns the registry's declared total plus the first results page.
func (d *Driver) SubmitSearch(ctx context.Context, dateFrom, dateTo time.Time, cr *ClassRange) (int, string, error) {
	if err := d.ensure(ctx); err != nil {
		return 0, "", err
	}
	if err := d.limiter.Wait(ctx); err != nil {
		return 0, "", err
	}

	nav, cancel := context.WithTimeout(d.tab, d.opts.DetailTimeout)
	defer cancel()
	if err := chromedp.Run(nav, chromedp.Navigate(d.searchURL.String())); err != nil {
		return 0, "", fmt.Errorf("navigate to search form: %w", err)
	}
	html, err := d.pageSource(d.tab)
	if err != nil {
		return 0, "", err
	}
	if DetectCaptcha(html) {
		if err := d.HandleCaptcha(ctx); err != nil {
			return 0, "", err
		}
	}

	fill := []chromedp.Action{
		chromedp.WaitVisible(dateFromField, chromedp.ByQuery),
		chromedp.SetValue(dateFromField, cola.RegistryDate(dateFrom), chromedp.ByQuery),
		chromedp.SetValue(dateToField, cola.RegistryDate(dateTo), chromedp.ByQuery),
	}
	if cr != nil {
		fill = append(fill,
			chromedp.SetValue(classFromField, cr.From, chromedp.ByQuery),
			chromedp.SetValue(classToField, cr.To, chromedp.ByQuery),
		)
	}
	fill = append(fill,
		chromedp.Click(submitButton, chromedp.ByQuery),
		chromedp.WaitReady("body", chromedp.ByQuery),
	)

	form, cancelForm := context.WithTimeout(d.tab, d.opts.DetailTimeout)
	defer cancelForm()
	if err := chromedp.Run(form, fill...); err != nil {
		return 0, "", &SessionError{Op: "submit search", Reason: fmt.Sprintf("form interaction failed (page structure changed?): %v", err)}
	}

	html, err = d.pageSource(d.tab)
	if err != nil {
		return 0, "", err
	}
	if DetectCaptcha(html) {
		if err := d.HandleCaptcha(ctx); err != nil {
			return 0, "", err
		}
		if html, err = d.pageSource(d.tab); err != nil {
			return 0, "", err
		}
	}

	total, err := ParseTotal(html)
	if err != nil {
		return 0, "", err
	}
	d.lastHTML = html
	return total, html, nil
}

// NextPage advances pagination by one page. Returns ErrEndOfResults when the
// current page has no next-page anchor.
func (d *Driver) NextPage(ctx context.Context) (string, error) {
	if !HasNextPage(d.lastHTML) {
		return "", ErrEndOfResults
	}
	if err := d.limiter.Wait(ctx); err != nil {
		return "", err
	}

	step, cancel := context.WithTimeout(d.tab, d.opts.DetailTimeout)
	defer cancel()
	err := chromedp.Run(step,
		chromedp.Click(nextPageXPath, chromedp.BySearch),
		chromedp.WaitReady("body", chromedp.ByQuery),
	)
	if err != nil {
		return "", fmt.Errorf("advance results page: %w", err)
	}

	html, err := d.pageSource(d.tab)
	if err != nil {
		return "", err
	}
	if DetectCaptcha(html) {
		if err := d.HandleCaptcha(ctx); err != nil {
			return "", err
		}
		if html, err = d.pageSource(d.tab); err != nil {
			return "", err
		}
	}
	d.lastHTML = html
	return html, nil
}

// LoadDetail loads one record's detail page. Up to three attempts with a
// two-second pause on timeout.
func (d *Driver) LoadDetail(ctx context.Context, detailURL string) (string, error) {
	abs := detailURL
	if u, err := url.Parse(detailURL); err == nil {
		abs = d.searchURL.ResolveReference(u).String()
	}

	var lastErr error
	for attempt := 1; attempt <= 3; attempt++ {
		if err := d.limiter.Wait(ctx); err != nil {
			return "", err
		}
		nav, cancel := context.WithTimeout(d.tab, d.opts.DetailTimeout)
		err := chromedp.Run(nav,
			chromedp.Navigate(abs),
			chromedp.WaitReady("body", chromedp.ByQuery),
		)
		cancel()
		if err != nil {
			lastErr = err
			d.log.Warn("detail load failed", "url", abs, "attempt", attempt, "error", err)
			select {
			case <-time.After(2 * time.Second):
			case <-ctx.Done():
				return "", ctx.Err()
			}
			continue
		}
		html, err := d.pageSource(d.tab)
		if err != nil {
			lastErr = err
			continue
		}
		if DetectCaptcha(html) {
			if err := d.HandleCaptcha(ctx); err != nil {
				return "", err
			}
			continue
		}
		return html, nil
	}
	return "", fmt.Errorf("load detail %s: %w", abs, lastErr)
}

// HandleCaptcha clears a challenge. Interactive mode blocks on the operator;
// otherwise the driver polls every two seconds until the indicators vanish
// or the timeout elapses.
func (d *Driver) HandleCaptcha(ctx context.Context) error {
	if d.opts.Interactive {
		for {
			choice, err := d.opts.Prompter.Prompt("CAPTCHA detected; solve it in the browser, then acknowledge")
			if err != nil {
				return err
			}
			switch choice {
			case ChoiceSkip:
				return ErrCaptchaSkip
			case ChoiceQuit:
				return ErrCaptchaQuit
			}
			html, err := d.pageSource(d.tab)
			if err != nil {
				return err
			}
			if !DetectCaptcha(html) {
				d.log.Info("captcha cleared by operator")
				return nil
			}
			d.log.Warn("captcha indicators still present")
		}
	}

	deadline := time.Now().Add(d.opts.CaptchaTimeout)
	for time.Now().Before(deadline) {
		select {
		case <-time.After(2 * time.Second):
		case <-ctx.Done():
			return ctx.Err()
		}
		html, err := d.pageSource(d.tab)
		if err != nil {
			return err
		}
		if !DetectCaptcha(html) {
			return nil
		}
	}
	return &SessionError{Op: "captcha", Reason: fmt.Sprintf("unresolved after %s", d.opts.CaptchaTimeout)}
}

func (d *Driver) pageSource(tab context.Context) (string, error) {
	read, cancel := context.WithTimeout(tab, 10*time.Second)
	defer cancel()
	var html string
	if err := chromedp.Run(read, chromedp.OuterHTML("html", &html, chromedp.ByQuery)); err != nil {
		return "", fmt.Errorf("read page source: %w", err)
	}
	return html, nil
}
