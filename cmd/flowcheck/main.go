package main

import (
	"errors"
	"fmt"
	"net/http"
	"os"
	"strings"

	"github.com/spf13/cobra"
	"github.com/spf13/pflag"
	"github.com/spf13/viper"

	"github.com/MarkoPoloResearchLab/flowcheck/internal/config"
	"github.com/MarkoPoloResearchLab/flowcheck/internal/scenario"
)

const (
	commandUseName                  = "flowcheck"
	commandShortDescription         = "End-to-end checks for the RudderStack web application"
	commandLongDescription          = "Drive the RudderStack login, connections and webhook pages and confirm event delivery"
	commandUseRunTests              = "run-tests"
	commandShortRunTests            = "Run the selected scenarios"
	commandUseValidateConfig        = "validate-config"
	commandShortValidateConfig      = "Resolve and print the configuration"
	commandUseListScenarios         = "list-scenarios"
	commandShortListScenarios       = "List catalog scenarios"
	commandUseSetup                 = "setup"
	commandShortSetup               = "Create the report, screenshot and log directories"
	commandUseHistory               = "history"
	commandShortHistory             = "Show recent runs"
	commandUseServeSink             = "serve-sink"
	commandShortServeSink           = "Run the local webhook destination"
	flagNameEnvironmentFile         = "env-file"
	flagNameSmoke                   = "smoke"
	flagNameIntegration             = "integration"
	flagNameRegression              = "regression"
	flagNameEnvironment             = "env"
	flagNameHeadless                = "headless"
	flagNameBrowser                 = "browser"
	flagNameParallel                = "parallel"
	flagNameScenario                = "scenario"
	flagNameBaseURL                 = "base-url"
	flagNameEmail                   = "email"
	flagNamePassword                = "password"
	flagNameTag                     = "tag"
	flagNameLimit                   = "limit"
	flagNameSinkAddress             = "addr"
	flagNameSinkDatabase            = "database"
	flagNameSinkRetention           = "retention"
	flagUsageEnvironmentFile        = "dotenv file to read; .env is used when present"
	flagUsageSmoke                  = "run smoke scenarios"
	flagUsageIntegration            = "run integration scenarios"
	flagUsageRegression             = "run regression scenarios"
	flagUsageEnvironment            = "target environment: dev, qa or prod"
	flagUsageHeadless               = "run the browser without a window"
	flagUsageBrowser                = "browser to drive: chrome, chromium or edge"
	flagUsageParallel               = "run scenarios concurrently up to MAX_WORKERS"
	flagUsageScenario               = "run a single scenario by id"
	flagUsageBaseURL                = "override the URL of the target environment"
	flagUsageEmail                  = "login email"
	flagUsagePassword               = "login password"
	flagUsageTag                    = "only list scenarios carrying this tag"
	flagUsageLimit                  = "number of runs to show"
	flagUsageSinkAddress            = "address for the webhook sink to listen on"
	flagUsageSinkDatabase           = "sqlite file storing received deliveries"
	flagUsageSinkRetention          = "how long received deliveries are kept"
	environmentKeySinkAddress       = "SINK_ADDR"
	environmentKeySinkDatabase      = "SINK_DATABASE"
	environmentKeySinkRetention     = "SINK_RETENTION"
	defaultSinkDatabase             = "reports/sink.db"
	defaultHistoryLimit             = 10
	unexpectedArgumentsMessage      = "unexpected command arguments"
	commandInitializationFailure    = "failed to configure command"
	flagNotDefinedMessage           = "flag %s not defined"
	loggerCreationErrorMessage      = "logger"
	errorMessageScenarioAndTags     = "--scenario cannot be combined with tag flags"
	errorMessageScenariosFailed     = "scenarios failed"
	errorMessageLoadCatalog         = "load scenario catalog"
	errorMessageOpenHistory         = "open run history"
	errorMessageOpenSinkDatabase    = "open sink database"
	errorMessageCreateDirectory     = "create directory"
	errorMessageEncodeConfiguration = "encode configuration"
)

// ErrScenariosFailed is returned by run-tests when any selected scenario failed.
var ErrScenariosFailed = errors.New(errorMessageScenariosFailed)

// Application constructs and executes the flowcheck commands.
type Application struct {
	configurationLoader *viper.Viper
	loader              *config.Loader
	sessions            scenario.SessionFactory
	clients             scenario.APIFactory
	flows               map[string]scenario.Flow
	httpClient          *http.Client
	environmentFile     string
}

// NewApplication creates an Application with default dependencies.
func NewApplication() *Application {
	configurationLoader := viper.New()
	return &Application{
		configurationLoader: configurationLoader,
		loader:              config.NewLoader(configurationLoader),
	}
}

// WithSessionFactory overrides how scenario browser pages are opened.
func (application *Application) WithSessionFactory(sessions scenario.SessionFactory) *Application {
	application.sessions = sessions
	return application
}

// WithAPIFactory overrides how scenario API clients are built.
func (application *Application) WithAPIFactory(clients scenario.APIFactory) *Application {
	application.clients = clients
	return application
}

// WithFlows replaces the registered scenario flows.
func (application *Application) WithFlows(flows map[string]scenario.Flow) *Application {
	application.flows = flows
	return application
}

// WithHTTPClient overrides the client used for notifications.
func (application *Application) WithHTTPClient(httpClient *http.Client) *Application {
	application.httpClient = httpClient
	return application
}

// Command builds the Cobra command tree.
func (application *Application) Command() (*cobra.Command, error) {
	rootCommand := &cobra.Command{
		Use:           commandUseName,
		Short:         commandShortDescription,
		Long:          commandLongDescription,
		SilenceUsage:  true,
		SilenceErrors: false,
	}
	persistentFlags := rootCommand.PersistentFlags()
	persistentFlags.StringVar(&application.environmentFile, flagNameEnvironmentFile, "", flagUsageEnvironmentFile)
	persistentFlags.String(flagNameEnvironment, config.DefaultCurrentEnvironment, flagUsageEnvironment)
	if bindErr := application.bindFlag(persistentFlags, config.EnvironmentKeyCurrentEnvironment, flagNameEnvironment); bindErr != nil {
		return nil, bindErr
	}

	commandBuilders := []func() (*cobra.Command, error){
		application.runTestsCommand,
		application.validateConfigCommand,
		application.listScenariosCommand,
		application.setupCommand,
		application.historyCommand,
		application.serveSinkCommand,
	}
	for _, build := range commandBuilders {
		subcommand, buildErr := build()
		if buildErr != nil {
			return nil, buildErr
		}
		rootCommand.AddCommand(subcommand)
	}

	return rootCommand, nil
}

func (application *Application) bindFlag(flagSet *pflag.FlagSet, environmentKey string, flagName string) error {
	flag := flagSet.Lookup(flagName)
	if flag == nil {
		return fmt.Errorf(flagNotDefinedMessage, flagName)
	}

	if bindErr := application.configurationLoader.BindPFlag(environmentKey, flag); bindErr != nil {
		return bindErr
	}

	return nil
}

// loadSettings reads the environment snapshot, honoring --env-file.
func (application *Application) loadSettings() (config.EnvironmentSettings, error) {
	return application.loader.WithEnvironmentFile(application.environmentFile).Load()
}

func rejectArguments(command *cobra.Command, arguments []string) error {
	if len(arguments) > 0 {
		return fmt.Errorf("%s: %s", unexpectedArgumentsMessage, strings.Join(arguments, " "))
	}
	return nil
}

func main() {
	application := NewApplication()
	rootCommand, commandErr := application.Command()
	if commandErr != nil {
		fmt.Fprintf(os.Stderr, "%s: %v\n", commandInitializationFailure, commandErr)
		os.Exit(1)
	}

	if executeErr := rootCommand.Execute(); executeErr != nil {
		os.Exit(1)
	}
}
