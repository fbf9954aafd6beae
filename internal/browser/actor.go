package browser

import (
	"context"
	"errors"
	"time"

	"go.uber.org/zap"

	"github.com/MarkoPoloResearchLab/flowcheck/internal/config"
	"github.com/MarkoPoloResearchLab/flowcheck/internal/failures"
	"github.com/MarkoPoloResearchLab/flowcheck/internal/retry"
)

const (
	actionClick    = "click"
	actionType     = "type"
	actionReadText = "read text"
	actionCollect  = "collect"
	actionClickRow = "click row"
	actionNavigate = "navigate"
	actionWait     = "wait"

	screenshotCaptureTimeout = 10 * time.Second
	defaultActionTimeout     = 10 * time.Second

	logEventActionRetry       = "page_action_retry"
	logEventActionExhausted   = "page_action_exhausted"
	logEventScreenshotSkipped = "screenshot_capture_failed"
)

// Action runs against a located element within one bounded attempt.
type Action func(ctx context.Context) error

// Actor performs page interactions under the page retry policy. One Actor belongs to one
// page; it is not shared between scenarios.
type Actor struct {
	page          Page
	policy        retry.Policy
	actionTimeout time.Duration
	recorder      *ScreenshotRecorder
	logger        *zap.Logger
}

// NewActor builds an Actor. A nil recorder disables failure screenshots.
func NewActor(page Page, configuration config.BrowserConfig, recorder *ScreenshotRecorder, logger *zap.Logger) *Actor {
	if logger == nil {
		logger = zap.NewNop()
	}
	actionTimeout := configuration.ActionTimeout
	if actionTimeout <= 0 {
		actionTimeout = defaultActionTimeout
	}
	return &Actor{
		page: page,
		policy: retry.Policy{
			MaxAttempts:       configuration.MaxAttempts,
			Delay:             configuration.RetryDelay,
			PerAttemptTimeout: actionTimeout,
		},
		actionTimeout: actionTimeout,
		recorder:      recorder,
		logger:        logger,
	}
}

// WithoutScreenshots returns a copy of actor that never captures. Callers that absorb
// interaction failures, such as delivery polling, act through it.
func (actor *Actor) WithoutScreenshots() *Actor {
	quiet := *actor
	quiet.recorder = nil
	return &quiet
}

// Page exposes the underlying page.
func (actor *Actor) Page() Page {
	return actor.page
}

// ActionTimeout is the bound of a single attempt.
func (actor *Actor) ActionTimeout() time.Duration {
	return actor.actionTimeout
}

// WaitAndAct waits until locator is visible and runs action, retrying the pair as one
// attempt. After the last attempt it captures one screenshot and returns a
// PageInteractionError naming the locator.
func (actor *Actor) WaitAndAct(ctx context.Context, locator Locator, actionName string, action Action) error {
	policy := actor.policy
	policy.OnRetry = func(attempt int, err error) {
		actor.logger.Warn(logEventActionRetry,
			zap.String("locator", locator.String()),
			zap.String("action", actionName),
			zap.Int("attempt", attempt),
			zap.Error(err),
		)
	}

	runErr := retry.Run(ctx, policy, func(attemptContext context.Context) error {
		if waitErr := actor.page.WaitVisible(attemptContext, locator); waitErr != nil {
			return waitErr
		}
		if action == nil {
			return nil
		}
		return action(attemptContext)
	})
	return actor.interactionFailure(ctx, locator, actionName, runErr)
}

// Navigate opens targetURL under the page retry policy.
func (actor *Actor) Navigate(ctx context.Context, targetURL string) error {
	policy := actor.policy
	runErr := retry.Run(ctx, policy, func(attemptContext context.Context) error {
		return actor.page.Navigate(attemptContext, targetURL)
	})
	return actor.interactionFailure(ctx, Locator{Name: targetURL, Query: targetURL}, actionNavigate, runErr)
}

// WaitFor waits until locator is visible.
func (actor *Actor) WaitFor(ctx context.Context, locator Locator) error {
	return actor.WaitAndAct(ctx, locator, actionWait, nil)
}

func (actor *Actor) Click(ctx context.Context, locator Locator) error {
	return actor.WaitAndAct(ctx, locator, actionClick, func(attemptContext context.Context) error {
		return actor.page.Click(attemptContext, locator)
	})
}

// Type replaces the value of locator with text.
func (actor *Actor) Type(ctx context.Context, locator Locator, text string) error {
	return actor.WaitAndAct(ctx, locator, actionType, func(attemptContext context.Context) error {
		return actor.page.SendKeys(attemptContext, locator, text)
	})
}

func (actor *Actor) ReadText(ctx context.Context, locator Locator) (string, error) {
	var text string
	actErr := actor.WaitAndAct(ctx, locator, actionReadText, func(attemptContext context.Context) error {
		value, textErr := actor.page.Text(attemptContext, locator)
		if textErr != nil {
			return textErr
		}
		text = value
		return nil
	})
	return text, actErr
}

// IsPresent probes locator once within timeout, without retry or screenshot.
// A non-positive timeout uses the action timeout.
func (actor *Actor) IsPresent(ctx context.Context, locator Locator, timeout time.Duration) bool {
	if timeout <= 0 || timeout > actor.actionTimeout {
		timeout = actor.actionTimeout
	}
	probeContext, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()
	return actor.page.WaitVisible(probeContext, locator) == nil
}

// Collect waits for the first item and reads every matching item's fields.
func (actor *Actor) Collect(ctx context.Context, item Locator, fields map[string]string) ([]map[string]string, error) {
	var rows []map[string]string
	actErr := actor.WaitAndAct(ctx, item, actionCollect, func(attemptContext context.Context) error {
		collected, collectErr := actor.page.Collect(attemptContext, item, fields)
		if collectErr != nil {
			return collectErr
		}
		rows = collected
		return nil
	})
	return rows, actErr
}

// ClickRow clicks the index-th match of item.
func (actor *Actor) ClickRow(ctx context.Context, item Locator, index int) error {
	return actor.WaitAndAct(ctx, item, actionClickRow, func(attemptContext context.Context) error {
		return actor.page.ClickRow(attemptContext, item, index)
	})
}

// Screenshot captures the page now. It returns "" when screenshots are disabled or fail.
func (actor *Actor) Screenshot(ctx context.Context, label string) string {
	if actor.recorder == nil {
		return ""
	}
	captureContext, cancel := context.WithTimeout(context.WithoutCancel(ctx), screenshotCaptureTimeout)
	defer cancel()
	path, captureErr := actor.recorder.Capture(captureContext, actor.page, label)
	if captureErr != nil {
		actor.logger.Warn(logEventScreenshotSkipped, zap.String("label", label), zap.Error(captureErr))
		return ""
	}
	return path
}

func (actor *Actor) interactionFailure(ctx context.Context, locator Locator, actionName string, runErr error) error {
	if runErr == nil {
		return nil
	}
	var exhaustedError *retry.ExhaustedError
	if !errors.As(runErr, &exhaustedError) {
		return runErr
	}

	interactionError := &failures.PageInteractionError{
		Locator:  locator.String(),
		Action:   actionName,
		Attempts: exhaustedError.Attempts,
		Err:      exhaustedError.Last,
	}
	interactionError.ScreenshotPath = actor.Screenshot(ctx, actionName+"_"+locator.String())
	actor.logger.Error(logEventActionExhausted,
		zap.String("locator", interactionError.Locator),
		zap.String("action", actionName),
		zap.Int("attempts", interactionError.Attempts),
		zap.String("screenshot", interactionError.ScreenshotPath),
		zap.Error(exhaustedError.Last),
	)
	return interactionError
}
