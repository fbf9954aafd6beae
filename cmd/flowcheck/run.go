package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/MarkoPoloResearchLab/flowcheck/internal/config"
	"github.com/MarkoPoloResearchLab/flowcheck/internal/notifications"
	"github.com/MarkoPoloResearchLab/flowcheck/internal/report"
	"github.com/MarkoPoloResearchLab/flowcheck/internal/scenario"
	"github.com/MarkoPoloResearchLab/flowcheck/internal/storage"
	"github.com/MarkoPoloResearchLab/flowcheck/internal/testdata"
)

const (
	logEventReportFailed  = "report_write_failed"
	logEventHistoryFailed = "history_save_failed"
	logEventConfiguration = "configuration_resolved"
	logEventFellBack      = "environment_fell_back"
	logFieldEnvironment   = "environment"
	logFieldRequested     = "requested"
	logFieldBaseURL       = "base_url"
	runSummaryFormat      = "run %s: %d passed, %d failed, %d skipped in %s\n"
	reportPathFormat      = "report: %s\n"
)

// runTestsOptions holds the run-tests flags that are not configuration keys.
type runTestsOptions struct {
	smoke        bool
	integration  bool
	regression   bool
	scenarioName string
	baseURL      string
}

func (options runTestsOptions) selection() (scenario.Selection, error) {
	var tags []string
	if options.smoke {
		tags = append(tags, testdata.TagSmoke)
	}
	if options.integration {
		tags = append(tags, testdata.TagIntegration)
	}
	if options.regression {
		tags = append(tags, testdata.TagRegression)
	}
	scenarioName := strings.TrimSpace(options.scenarioName)
	if scenarioName != "" && len(tags) > 0 {
		return scenario.Selection{}, errors.New(errorMessageScenarioAndTags)
	}
	return scenario.Selection{Tags: tags, ScenarioName: scenarioName}, nil
}

func (application *Application) runTestsCommand() (*cobra.Command, error) {
	options := &runTestsOptions{}
	command := &cobra.Command{
		Use:   commandUseRunTests,
		Short: commandShortRunTests,
		Args:  rejectArguments,
		RunE: func(command *cobra.Command, arguments []string) error {
			return application.runTests(command, *options)
		},
	}

	commandFlags := command.Flags()
	commandFlags.BoolVar(&options.smoke, flagNameSmoke, false, flagUsageSmoke)
	commandFlags.BoolVar(&options.integration, flagNameIntegration, false, flagUsageIntegration)
	commandFlags.BoolVar(&options.regression, flagNameRegression, false, flagUsageRegression)
	commandFlags.StringVar(&options.scenarioName, flagNameScenario, "", flagUsageScenario)
	commandFlags.StringVar(&options.baseURL, flagNameBaseURL, "", flagUsageBaseURL)
	commandFlags.Bool(flagNameHeadless, config.DefaultHeadlessMode, flagUsageHeadless)
	commandFlags.String(flagNameBrowser, config.DefaultBrowserName, flagUsageBrowser)
	commandFlags.Bool(flagNameParallel, false, flagUsageParallel)
	commandFlags.String(flagNameEmail, "", flagUsageEmail)
	commandFlags.String(flagNamePassword, "", flagUsagePassword)

	bindings := map[string]string{
		flagNameHeadless: config.EnvironmentKeyHeadlessMode,
		flagNameBrowser:  config.EnvironmentKeyBrowserName,
		flagNameParallel: config.EnvironmentKeyParallelMode,
		flagNameEmail:    config.EnvironmentKeyEmail,
		flagNamePassword: config.EnvironmentKeyPassword,
	}
	for flagName, environmentKey := range bindings {
		if bindErr := application.bindFlag(commandFlags, environmentKey, flagName); bindErr != nil {
			return nil, bindErr
		}
	}

	return command, nil
}

func (application *Application) runTests(command *cobra.Command, options runTestsOptions) error {
	selection, selectionErr := options.selection()
	if selectionErr != nil {
		return selectionErr
	}

	resolved, resolveErr := application.resolve(options.baseURL)
	if resolveErr != nil {
		return resolveErr
	}

	logger, loggerErr := newLogger(resolved.Report.LogLevel, resolved.Report.LogFile)
	if loggerErr != nil {
		return fmt.Errorf("%s: %w", loggerCreationErrorMessage, loggerErr)
	}
	defer func() {
		_ = logger.Sync()
	}()
	logResolved(logger, resolved)

	catalog, catalogErr := testdata.DefaultCatalog()
	if catalogErr != nil {
		return fmt.Errorf("%s: %w", errorMessageLoadCatalog, catalogErr)
	}

	ctx, stop := signal.NotifyContext(command.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	runner := scenario.NewRunner(resolved, catalog, logger)
	if application.sessions != nil {
		runner.WithSessionFactory(application.sessions)
	}
	if application.clients != nil {
		runner.WithAPIFactory(application.clients)
	}
	if application.flows != nil {
		runner.WithFlows(application.flows)
	}
	summary, runErr := runner.Run(ctx, selection)
	if runErr != nil {
		return runErr
	}

	output := command.OutOrStdout()
	artifacts, reportErr := report.NewWriter(resolved.Report, logger).Write(summary)
	if reportErr != nil {
		logger.Error(logEventReportFailed, zap.Error(reportErr))
	} else {
		fmt.Fprintf(output, reportPathFormat, artifacts.JSONPath)
		if artifacts.HTMLPath != "" {
			fmt.Fprintf(output, reportPathFormat, artifacts.HTMLPath)
		}
	}

	if historyErr := saveHistory(context.WithoutCancel(ctx), resolved.Report.HistoryDatabase, summary); historyErr != nil {
		logger.Error(logEventHistoryFailed, zap.Error(historyErr))
	}

	notifications.NewSlackNotifier(resolved.Report.SlackWebhookURL, application.httpClient, logger).NotifyRun(context.WithoutCancel(ctx), summary)

	fmt.Fprintf(output, runSummaryFormat, summary.ID, summary.Passed(), summary.Failed(), summary.Skipped(), summary.Duration().Round(durationRounding))
	if !summary.Succeeded() {
		return fmt.Errorf("%w: %d of %d", ErrScenariosFailed, summary.Failed(), len(summary.Results))
	}
	return nil
}

// resolve loads the settings and resolves them for the bound environment. A non-empty
// baseURL replaces the URL of that environment.
func (application *Application) resolve(baseURL string) (*config.ResolvedConfig, error) {
	settings, loadErr := application.loadSettings()
	if loadErr != nil {
		return nil, loadErr
	}
	if trimmedURL := strings.TrimSpace(baseURL); trimmedURL != "" {
		switch config.NormalizeEnvironment(settings.CurrentEnvironment) {
		case config.EnvironmentQuality:
			settings.QualityURL = trimmedURL
		case config.EnvironmentProduction:
			settings.ProductionURL = trimmedURL
		default:
			settings.DevelopmentURL = trimmedURL
		}
	}
	return config.Resolve(settings, "")
}

func logResolved(logger *zap.Logger, resolved *config.ResolvedConfig) {
	if resolved.FellBack() {
		logger.Warn(logEventFellBack,
			zap.String(logFieldRequested, resolved.RequestedEnvironment),
			zap.String(logFieldEnvironment, resolved.Environment),
		)
	}
	logger.Info(logEventConfiguration,
		zap.String(logFieldEnvironment, resolved.Environment),
		zap.String(logFieldBaseURL, resolved.BaseURL),
		zap.Any("configuration", resolved.Summary()),
	)
}

// saveHistory appends summary to the sqlite history. An empty path disables history.
func saveHistory(ctx context.Context, databasePath string, summary scenario.RunSummary) error {
	if strings.TrimSpace(databasePath) == "" {
		return nil
	}
	history, closeDatabase, openErr := openRunHistory(databasePath)
	if openErr != nil {
		return openErr
	}
	defer closeDatabase()
	return history.Save(ctx, summary.Record())
}

func openRunHistory(databasePath string) (*storage.RunHistory, func(), error) {
	database, closeDatabase, openErr := openMigratedDatabase(databasePath)
	if openErr != nil {
		return nil, nil, fmt.Errorf("%s: %w", errorMessageOpenHistory, openErr)
	}
	return storage.NewRunHistory(database), closeDatabase, nil
}
