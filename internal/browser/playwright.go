package browser

import (
	"context"
	"fmt"
	"io"

	"github.com/playwright-community/playwright-go"
	"go.uber.org/zap"

	"github.com/korvuslabs/prowl/internal/browser/stealth"
	"github.com/korvuslabs/prowl/internal/classify"
	"github.com/korvuslabs/prowl/internal/session"
)

// PlaywrightLauncher drives real chromium, firefox and webkit engines
// through the playwright driver. It is the default production launcher
// because the escalation policy depends on switching between engines with
// genuinely different fingerprints.
type PlaywrightLauncher struct {
	pw           *playwright.Playwright
	logger       *zap.Logger
	cookieDomain string
}

// NewPlaywrightLauncher installs (if needed) and starts the playwright
// driver. cookieDomain is the registrable domain the access-token cookie is
// scoped to, derived from the platform base URL.
func NewPlaywrightLauncher(logger *zap.Logger, cookieDomain string) (*PlaywrightLauncher, error) {
	opts := &playwright.RunOptions{
		Verbose: false,
		Stdout:  io.Discard,
		Stderr:  io.Discard,
	}
	if err := playwright.Install(opts); err != nil {
		return nil, fmt.Errorf("failed to install playwright driver: %w", err)
	}
	pw, err := playwright.Run(opts)
	if err != nil {
		return nil, fmt.Errorf("failed to start playwright driver: %w", err)
	}
	return &PlaywrightLauncher{
		pw:           pw,
		logger:       logger.Named("playwright"),
		cookieDomain: cookieDomain,
	}, nil
}

// Launch spawns a fresh browser, context and page configured per the spec.
func (l *PlaywrightLauncher) Launch(ctx context.Context, spec session.Spec) (session.Runtime, error) {
	browserType, err := l.browserType(spec.Engine)
	if err != nil {
		return nil, err
	}

	headless := spec.Visibility == session.VisibilityHeadless
	launchOpts := playwright.BrowserTypeLaunchOptions{
		Headless: playwright.Bool(headless),
	}
	if spec.Proxy != nil {
		launchOpts.Proxy = &playwright.Proxy{
			Server:   spec.Proxy.Server,
			Username: playwright.String(spec.Proxy.Username),
			Password: playwright.String(spec.Proxy.Password),
		}
	}

	b, err := browserType.Launch(launchOpts)
	if err != nil {
		return nil, fmt.Errorf("failed to launch %s: %w", spec.Engine, err)
	}

	fp := spec.Fingerprint
	contextOpts := playwright.BrowserNewContextOptions{
		UserAgent: playwright.String(fp.UserAgent),
		Viewport: &playwright.Size{
			Width:  fp.Viewport.Width,
			Height: fp.Viewport.Height,
		},
		Locale:            playwright.String(fp.Locale),
		TimezoneId:        playwright.String(fp.Timezone),
		DeviceScaleFactor: playwright.Float(fp.DeviceScaleFactor),
		ColorScheme:       colorScheme(fp.ColorScheme),
		IgnoreHttpsErrors: playwright.Bool(spec.IgnoreTLSErrors),
	}

	bctx, err := b.NewContext(contextOpts)
	if err != nil {
		b.Close()
		return nil, fmt.Errorf("failed to create browser context: %w", err)
	}

	evasions, err := stealth.Script(fp)
	if err != nil {
		bctx.Close()
		b.Close()
		return nil, err
	}
	if err := bctx.AddInitScript(playwright.Script{Content: playwright.String(evasions)}); err != nil {
		bctx.Close()
		b.Close()
		return nil, fmt.Errorf("failed to install evasion script: %w", err)
	}

	if spec.AccessToken != "" {
		cookie := playwright.OptionalCookie{
			Name:   "msToken",
			Value:  spec.AccessToken,
			Domain: playwright.String("." + l.cookieDomain),
			Path:   playwright.String("/"),
		}
		if err := bctx.AddCookies([]playwright.OptionalCookie{cookie}); err != nil {
			bctx.Close()
			b.Close()
			return nil, fmt.Errorf("failed to install access-token cookie: %w", err)
		}
	}

	page, err := bctx.NewPage()
	if err != nil {
		bctx.Close()
		b.Close()
		return nil, fmt.Errorf("failed to open page: %w", err)
	}

	return &playwrightRuntime{
		browser: b,
		bctx:    bctx,
		page:    page,
		logger:  l.logger,
	}, nil
}

// Close stops the playwright driver. Individual runtimes must already be
// closed by the pool.
func (l *PlaywrightLauncher) Close(ctx context.Context) error {
	return l.pw.Stop()
}

func (l *PlaywrightLauncher) browserType(engine session.Engine) (playwright.BrowserType, error) {
	switch engine {
	case session.EngineChromium:
		return l.pw.Chromium, nil
	case session.EngineFirefox:
		return l.pw.Firefox, nil
	case session.EngineWebkit:
		return l.pw.WebKit, nil
	}
	return nil, classify.ConfigurationErrorf("unknown browser engine %q", engine)
}

func colorScheme(name string) *playwright.ColorScheme {
	switch name {
	case "dark":
		return playwright.ColorSchemeDark
	case "light":
		return playwright.ColorSchemeLight
	}
	return playwright.ColorSchemeNoPreference
}

// playwrightRuntime is one live browser context behind a session.
type playwrightRuntime struct {
	browser playwright.Browser
	bctx    playwright.BrowserContext
	page    playwright.Page
	logger  *zap.Logger
}

// Fetch navigates the page to the given URL and returns the final response
// status and body text for classification.
func (r *playwrightRuntime) Fetch(ctx context.Context, url string) (classify.RawResult, error) {
	resp, err := r.page.Goto(url)
	if err != nil {
		return classify.RawResult{}, err
	}
	if resp == nil {
		// Same-document navigations carry no response; treat as an empty
		// body so the classifier can flag it.
		return classify.RawResult{StatusCode: 200, Body: ""}, nil
	}
	body, err := resp.Text()
	if err != nil {
		return classify.RawResult{StatusCode: resp.Status()}, err
	}
	return classify.RawResult{StatusCode: resp.Status(), Body: body}, nil
}

func (r *playwrightRuntime) Close(ctx context.Context) error {
	if err := r.bctx.Close(); err != nil {
		r.logger.Warn("Error closing browser context", zap.Error(err))
	}
	return r.browser.Close()
}
