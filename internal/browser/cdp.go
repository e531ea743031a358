package browser

import (
	"context"
	"fmt"

	"github.com/chromedp/cdproto/emulation"
	"github.com/chromedp/cdproto/network"
	"github.com/chromedp/cdproto/page"
	"github.com/chromedp/chromedp"
	"go.uber.org/zap"

	"github.com/korvuslabs/prowl/internal/browser/stealth"
	"github.com/korvuslabs/prowl/internal/classify"
	"github.com/korvuslabs/prowl/internal/session"
)

// CDPLauncher drives chromium directly over the Chrome DevTools Protocol.
// It supports only the chromium engine but needs no driver install, which
// makes it the right choice for slim container deployments that never
// escalate past the default engine.
type CDPLauncher struct {
	logger       *zap.Logger
	cookieDomain string
}

// NewCDPLauncher builds a CDP-backed launcher.
func NewCDPLauncher(logger *zap.Logger, cookieDomain string) *CDPLauncher {
	return &CDPLauncher{
		logger:       logger.Named("cdp"),
		cookieDomain: cookieDomain,
	}
}

// Launch starts a dedicated chromium process for the session. Each session
// gets its own allocator so fingerprint-level flags (user agent, window
// size, proxy) stay per-session.
func (l *CDPLauncher) Launch(ctx context.Context, spec session.Spec) (session.Runtime, error) {
	if spec.Engine != session.EngineChromium {
		return nil, classify.ConfigurationErrorf(
			"cdp driver only supports the chromium engine, got %q", spec.Engine)
	}

	opts := append([]chromedp.ExecAllocatorOption{}, chromedp.DefaultExecAllocatorOptions[:]...)

	if spec.Visibility == session.VisibilityHeadless {
		opts = append(opts, chromedp.Headless)
	}

	fp := spec.Fingerprint
	opts = append(opts,
		// Automation detection evasion.
		chromedp.Flag("enable-automation", false),
		chromedp.Flag("disable-blink-features", "AutomationControlled"),

		// Stability in containerized environments.
		chromedp.Flag("disable-background-networking", true),
		chromedp.Flag("disable-sync", true),
		chromedp.Flag("no-first-run", true),
		chromedp.Flag("disable-default-apps", true),
		chromedp.Flag("disable-extensions", true),
		chromedp.Flag("disable-gpu", spec.Visibility == session.VisibilityHeadless),

		chromedp.UserAgent(fp.UserAgent),
		chromedp.WindowSize(fp.Viewport.Width, fp.Viewport.Height),
		chromedp.Flag("lang", fp.Locale),
		chromedp.Flag("ignore-certificate-errors", spec.IgnoreTLSErrors),
	)

	if spec.Proxy != nil {
		opts = append(opts, chromedp.ProxyServer(spec.Proxy.Server))
	}

	allocCtx, allocCancel := chromedp.NewExecAllocator(context.Background(), opts...)
	tabCtx, tabCancel := chromedp.NewContext(allocCtx,
		chromedp.WithLogf(l.logger.Sugar().Debugf),
		chromedp.WithErrorf(l.logger.Sugar().Errorf),
	)

	cleanup := func() {
		tabCancel()
		allocCancel()
	}

	evasions, err := stealth.Script(fp)
	if err != nil {
		cleanup()
		return nil, err
	}

	// Prime the browser process and apply identity overrides.
	prime := chromedp.Tasks{
		network.Enable(),
		emulation.SetTimezoneOverride(fp.Timezone),
		chromedp.ActionFunc(func(ctx context.Context) error {
			_, err := page.AddScriptToEvaluateOnNewDocument(evasions).Do(ctx)
			return err
		}),
		chromedp.Navigate("about:blank"),
	}
	if spec.AccessToken != "" {
		prime = append(prime, chromedp.ActionFunc(func(ctx context.Context) error {
			return network.SetCookie("msToken", spec.AccessToken).
				WithDomain("." + l.cookieDomain).
				WithPath("/").
				Do(ctx)
		}))
	}
	if err := chromedp.Run(tabCtx, prime); err != nil {
		cleanup()
		return nil, fmt.Errorf("failed to initialize chromium context: %w", err)
	}

	return &cdpRuntime{ctx: tabCtx, cancel: cleanup, logger: l.logger}, nil
}

// Close is a no-op: each CDP session owns its own browser process and is
// torn down with the runtime.
func (l *CDPLauncher) Close(ctx context.Context) error { return nil }

type cdpRuntime struct {
	ctx    context.Context
	cancel context.CancelFunc
	logger *zap.Logger
}

func (r *cdpRuntime) Fetch(ctx context.Context, url string) (classify.RawResult, error) {
	runCtx, runCancel := context.WithCancel(r.ctx)
	defer runCancel()
	go func() {
		select {
		case <-ctx.Done():
			runCancel()
		case <-runCtx.Done():
		}
	}()

	resp, err := chromedp.RunResponse(runCtx, chromedp.Navigate(url))
	if err != nil {
		return classify.RawResult{}, err
	}

	var body string
	err = chromedp.Run(runCtx, chromedp.Evaluate(
		`document.body ? document.body.innerText : ""`, &body))
	if err != nil {
		return classify.RawResult{StatusCode: statusOf(resp)}, err
	}
	return classify.RawResult{StatusCode: statusOf(resp), Body: body}, nil
}

func (r *cdpRuntime) Close(ctx context.Context) error {
	r.cancel()
	return nil
}

func statusOf(resp *network.Response) int {
	if resp == nil {
		return 0
	}
	return int(resp.Status)
}
