package browser

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"os/exec"
	"strings"
	"time"

	"github.com/chromedp/cdproto/network"
	"github.com/chromedp/chromedp"
	"go.uber.org/zap"

	"github.com/MarkoPoloResearchLab/flowcheck/internal/config"
	"github.com/MarkoPoloResearchLab/flowcheck/internal/failures"
)

const (
	// EnvironmentKeyChromedpBrowser overrides the browser executable for every browser name.
	EnvironmentKeyChromedpBrowser = "CHROMEDP_BROWSER"

	browserStartupTimeout       = 30 * time.Second
	screenshotQuality           = 90
	operationStartBrowser       = "start browser"
	errorMessageLocateBrowser   = "locate browser executable"
	errorMessageRowNotFound     = "row %d of %s not found"
	errorMessageEncodeArguments = "encode script arguments"
	logEventBrowserStarted      = "browser_session_started"
	logEventBrowserClosed       = "browser_session_closed"
	logEventBrowserError        = "browser_protocol_error"
)

// ErrBrowserNotFound reports that no executable could be located for the browser name.
var ErrBrowserNotFound = errors.New("browser executable not found")

var browserExecutableNames = map[string][]string{
	config.BrowserChrome:   {"google-chrome", "google-chrome-stable", "chrome", "chromium", "chromium-browser", "headless-shell"},
	config.BrowserChromium: {"chromium", "chromium-browser", "headless-shell", "google-chrome", "google-chrome-stable", "chrome"},
	config.BrowserEdge:     {"microsoft-edge", "microsoft-edge-stable", "msedge"},
}

// Session is a chromedp page owned by exactly one scenario.
type Session struct {
	browserContext  context.Context
	browserCancel   context.CancelFunc
	allocatorCancel context.CancelFunc
	logger          *zap.Logger
}

// LocateExecutable resolves the browser binary: the configured path first, then
// CHROMEDP_BROWSER and CHROME_PATH, then well-known names on PATH.
func LocateExecutable(configuration config.BrowserConfig) (string, error) {
	candidates := []string{
		configuration.ExecutablePath,
		os.Getenv(EnvironmentKeyChromedpBrowser),
		os.Getenv(config.EnvironmentKeyBrowserExecutable),
	}
	for _, candidate := range candidates {
		if trimmed := strings.TrimSpace(candidate); trimmed != "" {
			return trimmed, nil
		}
	}

	names, known := browserExecutableNames[configuration.Name]
	if !known {
		names = browserExecutableNames[config.BrowserChrome]
	}
	for _, executableName := range names {
		executablePath, lookupErr := exec.LookPath(executableName)
		if lookupErr == nil {
			return executablePath, nil
		}
	}
	return "", fmt.Errorf("%s %q: %w", errorMessageLocateBrowser, configuration.Name, ErrBrowserNotFound)
}

// NewSession launches a browser and opens a blank page. Close releases it.
func NewSession(ctx context.Context, configuration config.BrowserConfig, logger *zap.Logger) (*Session, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	executablePath, locateErr := LocateExecutable(configuration)
	if locateErr != nil {
		return nil, &failures.ConfigurationError{Missing: []string{config.EnvironmentKeyBrowserExecutable}, Err: locateErr}
	}

	allocatorOptions := append(chromedp.DefaultExecAllocatorOptions[:],
		chromedp.ExecPath(executablePath),
		chromedp.Flag("headless", configuration.Headless),
		chromedp.Flag("disable-gpu", true),
		chromedp.Flag("no-sandbox", true),
		chromedp.Flag("disable-dev-shm-usage", true),
		chromedp.WindowSize(configuration.WindowWidth, configuration.WindowHeight),
	)

	allocatorContext, allocatorCancel := chromedp.NewExecAllocator(context.WithoutCancel(ctx), allocatorOptions...)
	browserContext, browserCancel := chromedp.NewContext(allocatorContext,
		chromedp.WithErrorf(func(format string, arguments ...any) {
			logger.Debug(logEventBrowserError, zap.String("detail", fmt.Sprintf(format, arguments...)))
		}),
	)

	session := &Session{
		browserContext:  browserContext,
		browserCancel:   browserCancel,
		allocatorCancel: allocatorCancel,
		logger:          logger,
	}

	if startErr := session.start(ctx); startErr != nil {
		session.Close()
		return nil, &failures.TransportError{Operation: operationStartBrowser, URL: executablePath, Err: startErr}
	}

	logger.Info(logEventBrowserStarted,
		zap.String("browser", configuration.Name),
		zap.String("executable", executablePath),
		zap.Bool("headless", configuration.Headless),
	)
	return session, nil
}

// Close shuts the page and the browser process down.
func (session *Session) Close() {
	if session == nil {
		return
	}
	session.browserCancel()
	session.allocatorCancel()
	session.logger.Debug(logEventBrowserClosed)
}

// start allocates the browser on the page context itself: the first chromedp.Run binds the
// browser lifetime to its context, so a derived deadline would kill it.
func (session *Session) start(ctx context.Context) error {
	startResult := make(chan error, 1)
	go func() {
		startResult <- chromedp.Run(session.browserContext)
	}()

	startupTimer := time.NewTimer(browserStartupTimeout)
	defer startupTimer.Stop()
	select {
	case startErr := <-startResult:
		return startErr
	case <-ctx.Done():
		return ctx.Err()
	case <-startupTimer.C:
		return context.DeadlineExceeded
	}
}

// run executes actions on the page bounded by ctx. chromedp needs the page context, so
// ctx contributes its deadline and cancellation only.
func (session *Session) run(ctx context.Context, actions ...chromedp.Action) error {
	runContext, cancel := context.WithCancel(session.browserContext)
	defer cancel()
	if deadline, hasDeadline := ctx.Deadline(); hasDeadline {
		var deadlineCancel context.CancelFunc
		runContext, deadlineCancel = context.WithDeadline(runContext, deadline)
		defer deadlineCancel()
	}
	stop := context.AfterFunc(ctx, cancel)
	defer stop()

	runErr := chromedp.Run(runContext, actions...)
	if runErr != nil && ctx.Err() != nil {
		return ctx.Err()
	}
	return runErr
}

func (session *Session) Navigate(ctx context.Context, targetURL string) error {
	return session.run(ctx, chromedp.Navigate(targetURL))
}

func (session *Session) WaitVisible(ctx context.Context, locator Locator) error {
	return session.run(ctx, chromedp.WaitVisible(locator.Query, queryOption(locator)))
}

func (session *Session) Click(ctx context.Context, locator Locator) error {
	return session.run(ctx, chromedp.Click(locator.Query, queryOption(locator), chromedp.NodeVisible))
}

func (session *Session) SendKeys(ctx context.Context, locator Locator, text string) error {
	return session.run(ctx,
		chromedp.Clear(locator.Query, queryOption(locator)),
		chromedp.SendKeys(locator.Query, text, queryOption(locator)),
	)
}

func (session *Session) Text(ctx context.Context, locator Locator) (string, error) {
	var text string
	if runErr := session.run(ctx, chromedp.Text(locator.Query, &text, queryOption(locator), chromedp.NodeVisible)); runErr != nil {
		return "", runErr
	}
	return strings.TrimSpace(text), nil
}

func (session *Session) Collect(ctx context.Context, item Locator, fields map[string]string) ([]map[string]string, error) {
	script, scriptErr := scriptWithArguments(collectRowsScript, item.Query, item.Strategy, fields)
	if scriptErr != nil {
		return nil, scriptErr
	}
	var rows []map[string]string
	if runErr := session.run(ctx, chromedp.Evaluate(script, &rows)); runErr != nil {
		return nil, runErr
	}
	return rows, nil
}

func (session *Session) ClickRow(ctx context.Context, item Locator, index int) error {
	script, scriptErr := scriptWithArguments(clickRowScript, item.Query, item.Strategy, index)
	if scriptErr != nil {
		return scriptErr
	}
	var clicked bool
	if runErr := session.run(ctx, chromedp.Evaluate(script, &clicked)); runErr != nil {
		return runErr
	}
	if !clicked {
		return fmt.Errorf(errorMessageRowNotFound, index, item)
	}
	return nil
}

func (session *Session) Reload(ctx context.Context) error {
	return session.run(ctx, chromedp.Reload())
}

func (session *Session) Location(ctx context.Context) (string, error) {
	var location string
	if runErr := session.run(ctx, chromedp.Location(&location)); runErr != nil {
		return "", runErr
	}
	return location, nil
}

func (session *Session) CaptureScreenshot(ctx context.Context) ([]byte, error) {
	var image []byte
	if runErr := session.run(ctx, chromedp.FullScreenshot(&image, screenshotQuality)); runErr != nil {
		return nil, runErr
	}
	return image, nil
}

func (session *Session) ClearCookies(ctx context.Context) error {
	return session.run(ctx, network.ClearBrowserCookies())
}

func queryOption(locator Locator) chromedp.QueryOption {
	if locator.Strategy == StrategyXPath {
		return chromedp.BySearch
	}
	return chromedp.ByQuery
}

func scriptWithArguments(scriptFormat string, arguments ...any) (string, error) {
	encoded := make([]any, 0, len(arguments))
	for _, argument := range arguments {
		argumentJSON, encodeErr := json.Marshal(argument)
		if encodeErr != nil {
			return "", fmt.Errorf("%s: %w", errorMessageEncodeArguments, encodeErr)
		}
		encoded = append(encoded, string(argumentJSON))
	}
	return fmt.Sprintf(scriptFormat, encoded...), nil
}

const matchElementsScript = `function matchElements(query, strategy) {
	if (strategy === "xpath") {
		var snapshot = document.evaluate(query, document, null, XPathResult.ORDERED_NODE_SNAPSHOT_TYPE, null);
		var matched = [];
		for (var index = 0; index < snapshot.snapshotLength; index++) { matched.push(snapshot.snapshotItem(index)); }
		return matched;
	}
	return Array.prototype.slice.call(document.querySelectorAll(query));
}`

const collectRowsScript = `(function(query, strategy, fields) {
	` + matchElementsScript + `
	return matchElements(query, strategy).map(function(item) {
		var row = {};
		Object.keys(fields).forEach(function(key) {
			var element = item.querySelector(fields[key]);
			row[key] = element ? (element.innerText || element.textContent || "").trim() : "";
		});
		return row;
	});
})(%s, %s, %s)`

const clickRowScript = `(function(query, strategy, index) {
	` + matchElementsScript + `
	var matched = matchElements(query, strategy);
	if (index < 0 || index >= matched.length) { return false; }
	matched[index].scrollIntoView({block: "center"});
	matched[index].click();
	return true;
})(%s, %s, %s)`
