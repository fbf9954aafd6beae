// Package scenario runs catalog scenarios against the application under test, one browser
// session and one API client per scenario.
package scenario

import (
	"context"
	"errors"
	"fmt"
	"runtime/debug"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/MarkoPoloResearchLab/flowcheck/internal/browser"
	"github.com/MarkoPoloResearchLab/flowcheck/internal/config"
	"github.com/MarkoPoloResearchLab/flowcheck/internal/failures"
	"github.com/MarkoPoloResearchLab/flowcheck/internal/retry"
	"github.com/MarkoPoloResearchLab/flowcheck/internal/testdata"
)

const (
	failureScreenshotSuffix = "_failure"
	messageNoFlow           = "no flow registered for scenario"
	messageRunCanceled      = "run canceled before the scenario started"
	errorMessageNoScenarios = "no scenarios match selection %s"
	errorMessageFlowPanic   = "scenario panicked: %v"

	logEventRunStarted       = "run_started"
	logEventRunFinished      = "run_finished"
	logEventScenarioStarted  = "scenario_started"
	logEventScenarioPassed   = "scenario_passed"
	logEventScenarioFailed   = "scenario_failed"
	logEventScenarioSkipped  = "scenario_skipped"
	logEventScenarioRetry    = "scenario_retry"
	logEventSessionReset     = "scenario_session_reset_failed"
	logFieldRunID            = "run_id"
	logFieldScenarioID       = "scenario"
	logFieldAttempt          = "attempt"
	logFieldAttempts         = "attempts"
	logFieldErrorKind        = "error_kind"
	logFieldScreenshot       = "screenshot"
	logFieldDuration         = "duration"
	logFieldWorkers          = "workers"
	logFieldSelection        = "selection"
	logFieldScenarioCount    = "scenarios"
	logFieldPassedScenarios  = "passed"
	logFieldFailedScenarios  = "failed"
	logFieldSkippedScenarios = "skipped"
	logFieldMessage          = "message"
)

// Runner executes selected scenarios. Scenarios run concurrently up to MaxWorkers when
// parallel mode is on; each owns its page and client.
type Runner struct {
	configuration *config.ResolvedConfig
	catalog       *testdata.Catalog
	flows         map[string]Flow
	sessions      SessionFactory
	clients       APIFactory
	logger        *zap.Logger
	seed          uint64
	now           func() time.Time
}

func NewRunner(configuration *config.ResolvedConfig, catalog *testdata.Catalog, logger *zap.Logger) *Runner {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Runner{
		configuration: configuration,
		catalog:       catalog,
		flows:         DefaultFlows(),
		sessions:      ChromedpSessions,
		clients:       HTTPClients,
		logger:        logger,
		seed:          uint64(time.Now().UnixNano()),
		now:           time.Now,
	}
}

// WithSessionFactory overrides how scenario pages are opened.
func (runner *Runner) WithSessionFactory(sessions SessionFactory) *Runner {
	runner.sessions = sessions
	return runner
}

// WithAPIFactory overrides how scenario API clients are built.
func (runner *Runner) WithAPIFactory(clients APIFactory) *Runner {
	runner.clients = clients
	return runner
}

// WithFlows replaces the registered flows.
func (runner *Runner) WithFlows(flows map[string]Flow) *Runner {
	runner.flows = flows
	return runner
}

// WithSeed fixes the test data seed. Scenario i uses seed+i.
func (runner *Runner) WithSeed(seed uint64) *Runner {
	runner.seed = seed
	return runner
}

// Select resolves selection against the catalog.
func (runner *Runner) Select(selection Selection) ([]testdata.ScenarioDefinition, error) {
	if selection.ScenarioName != "" {
		definition, lookupErr := runner.catalog.Get(selection.ScenarioName)
		if lookupErr != nil {
			return nil, &failures.ConfigurationError{Detail: lookupErr.Error()}
		}
		return []testdata.ScenarioDefinition{definition}, nil
	}
	definitions := runner.catalog.WithTags(selection.Tags...)
	if len(definitions) == 0 {
		return nil, &failures.ConfigurationError{Detail: fmt.Sprintf(errorMessageNoScenarios, selection)}
	}
	return definitions, nil
}

// Workers is the number of scenarios allowed to run at once.
func (runner *Runner) Workers() int {
	if !runner.configuration.Run.Parallel || runner.configuration.Run.MaxWorkers < 1 {
		return 1
	}
	return runner.configuration.Run.MaxWorkers
}

// Run executes every selected scenario and returns their results in selection order. A
// failing scenario never stops the others; only an invalid selection fails the run.
func (runner *Runner) Run(ctx context.Context, selection Selection) (RunSummary, error) {
	definitions, selectErr := runner.Select(selection)
	if selectErr != nil {
		return RunSummary{}, selectErr
	}

	summary := RunSummary{
		ID:          uuid.NewString(),
		Environment: runner.configuration.Environment,
		BaseURL:     runner.configuration.BaseURL,
		Selection:   selection.String(),
		StartedAt:   runner.now().UTC(),
		Results:     make([]Result, len(definitions)),
	}
	runLogger := runner.logger.With(zap.String(logFieldRunID, summary.ID))
	workers := runner.Workers()
	runLogger.Info(logEventRunStarted,
		zap.String(logFieldSelection, summary.Selection),
		zap.Int(logFieldScenarioCount, len(definitions)),
		zap.Int(logFieldWorkers, workers),
	)

	var group errgroup.Group
	group.SetLimit(workers)
	for index, definition := range definitions {
		group.Go(func() error {
			summary.Results[index] = runner.runScenario(ctx, definition, runner.seed+uint64(index), runLogger)
			return nil
		})
	}
	_ = group.Wait()

	summary.FinishedAt = runner.now().UTC()
	runLogger.Info(logEventRunFinished,
		zap.Int(logFieldPassedScenarios, summary.Passed()),
		zap.Int(logFieldFailedScenarios, summary.Failed()),
		zap.Int(logFieldSkippedScenarios, summary.Skipped()),
		zap.Duration(logFieldDuration, summary.Duration()),
	)
	return summary, nil
}

func (runner *Runner) runScenario(ctx context.Context, definition testdata.ScenarioDefinition, seed uint64, runLogger *zap.Logger) Result {
	logger := runLogger.With(zap.String(logFieldScenarioID, definition.ID))
	result := Result{
		ScenarioID: definition.ID,
		Name:       definition.Name,
		Tags:       definition.Tags,
		StartedAt:  runner.now().UTC(),
	}

	flow, registered := runner.flows[definition.ID]
	switch {
	case !registered:
		result.Status = StatusSkipped
		result.Message = messageNoFlow
		logger.Warn(logEventScenarioSkipped, zap.String(logFieldMessage, result.Message))
		return result
	case ctx.Err() != nil:
		result.Status = StatusSkipped
		result.Message = messageRunCanceled
		logger.Warn(logEventScenarioSkipped, zap.String(logFieldMessage, result.Message))
		return result
	}

	logger.Info(logEventScenarioStarted)
	screenshotPath, flowErr := runner.execute(ctx, definition, flow, seed, logger, &result)
	result.Duration = time.Since(result.StartedAt)
	if flowErr == nil {
		result.Status = StatusPassed
		logger.Info(logEventScenarioPassed, zap.Int(logFieldAttempts, result.Attempts), zap.Duration(logFieldDuration, result.Duration))
		return result
	}

	result.Status = StatusFailed
	result.ErrorKind = failures.KindOf(flowErr)
	result.Message = flowErr.Error()
	result.ScreenshotPath = screenshotPath
	logger.Error(logEventScenarioFailed,
		zap.String(logFieldErrorKind, string(result.ErrorKind)),
		zap.Int(logFieldAttempts, result.Attempts),
		zap.String(logFieldScreenshot, result.ScreenshotPath),
		zap.Duration(logFieldDuration, result.Duration),
		zap.Error(flowErr),
	)
	return result
}

// execute opens the scenario's page and client and runs flow under the scenario retry
// policy. It returns the screenshot taken for the final error, if any, and the error.
func (runner *Runner) execute(ctx context.Context, definition testdata.ScenarioDefinition, flow Flow, seed uint64, logger *zap.Logger, result *Result) (string, error) {
	page, release, sessionErr := runner.sessions(ctx, runner.configuration.Browser, logger)
	if sessionErr != nil {
		result.Attempts = 1
		return "", sessionErr
	}
	defer release()

	var recorder *browser.ScreenshotRecorder
	if runner.configuration.Report.ScreenshotOnFailure {
		recorder = browser.NewScreenshotRecorder(runner.configuration.Report.ScreenshotDirectory, logger)
	}
	client := runner.clients(runner.configuration.API, logger)
	data := testdata.NewGenerator(seed)

	policy := retry.Policy{
		MaxAttempts: runner.configuration.Run.MaxAttempts,
		Delay:       runner.configuration.Run.RetryDelay,
		OnRetry: func(attempt int, err error) {
			logger.Warn(logEventScenarioRetry,
				zap.Int(logFieldAttempt, attempt),
				zap.String(logFieldErrorKind, string(failures.KindOf(err))),
				zap.Error(err),
			)
		},
	}
	finalAttempt := policy.Attempts()
	flowErr := retry.Run(ctx, policy, func(attemptContext context.Context) error {
		result.Attempts++
		if result.Attempts > 1 {
			if clearErr := page.ClearCookies(attemptContext); clearErr != nil {
				logger.Warn(logEventSessionReset, zap.Error(clearErr))
			}
		}
		// Only the last attempt records element failures so a failed scenario keeps one screenshot.
		var attemptRecorder *browser.ScreenshotRecorder
		if result.Attempts == finalAttempt {
			attemptRecorder = recorder
		}
		actor := browser.NewActor(page, runner.configuration.Browser, attemptRecorder, logger)
		return runFlow(attemptContext, flow, newHarness(runner.configuration, definition, actor, client, data, logger))
	})
	if flowErr == nil {
		return "", nil
	}

	flowErr = unwrapExhausted(flowErr)
	screenshotPath := failures.ScreenshotPathOf(flowErr)
	if screenshotPath == "" {
		screenshotPath = browser.NewActor(page, runner.configuration.Browser, recorder, logger).Screenshot(ctx, definition.ID+failureScreenshotSuffix)
	}
	return screenshotPath, flowErr
}

func runFlow(ctx context.Context, flow Flow, harness *Harness) (flowErr error) {
	defer func() {
		if recovered := recover(); recovered != nil {
			harness.Logger.Error(logEventScenarioFailed, zap.ByteString("stack", debug.Stack()))
			flowErr = fmt.Errorf(errorMessageFlowPanic, recovered)
		}
	}()
	return flow(ctx, harness)
}

// unwrapExhausted reports the last attempt's error; the attempt count lives in Result.
func unwrapExhausted(err error) error {
	var exhaustedError *retry.ExhaustedError
	if errors.As(err, &exhaustedError) {
		return exhaustedError.Last
	}
	return err
}
