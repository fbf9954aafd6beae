package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"strconv"
	"strings"

	"github.com/spf13/viper"

	"github.com/MarkoPoloResearchLab/flowcheck/internal/failures"
)

// Environment variable names read by the loader.
const (
	EnvironmentKeyEmail                = "RUDDERSTACK_EMAIL"
	EnvironmentKeyPassword             = "RUDDERSTACK_PASSWORD"
	EnvironmentKeyDevelopmentURL       = "DEV_URL"
	EnvironmentKeyQualityURL           = "QA_URL"
	EnvironmentKeyProductionURL        = "PROD_URL"
	EnvironmentKeyCurrentEnvironment   = "CURRENT_ENV"
	EnvironmentKeyAPITimeout           = "API_TIMEOUT"
	EnvironmentKeyAPIRetryAttempts     = "API_RETRY_ATTEMPTS"
	EnvironmentKeyHeadlessMode         = "HEADLESS_MODE"
	EnvironmentKeyBrowserTimeout       = "BROWSER_TIMEOUT"
	EnvironmentKeyBrowserName          = "BROWSER_NAME"
	EnvironmentKeyMaxWorkers           = "MAX_WORKERS"
	EnvironmentKeyParallelMode         = "PARALLEL_MODE"
	EnvironmentKeyMaxRetries           = "MAX_RETRIES"
	EnvironmentKeyRetryDelay           = "RETRY_DELAY"
	EnvironmentKeyWindowWidth          = "WINDOW_WIDTH"
	EnvironmentKeyWindowHeight         = "WINDOW_HEIGHT"
	EnvironmentKeyWebhookURL           = "WEBHOOK_URL"
	EnvironmentKeyWebhookDestinationID = "WEBHOOK_DESTINATION_ID"
	EnvironmentKeyWebhookTimeout       = "WEBHOOK_TIMEOUT"
	EnvironmentKeyReportDirectory      = "REPORT_DIR"
	EnvironmentKeyScreenshotDirectory  = "SCREENSHOT_DIR"
	EnvironmentKeyLogLevel             = "LOG_LEVEL"
	EnvironmentKeyLogFile              = "LOG_FILE"
	EnvironmentKeyGenerateHTMLReport   = "GENERATE_HTML_REPORT"
	EnvironmentKeyScreenshotOnFailure  = "SCREENSHOT_ON_FAILURE"
	EnvironmentKeyHistoryDatabase      = "HISTORY_DATABASE"
	EnvironmentKeySlackWebhookURL      = "SLACK_WEBHOOK_URL"
	EnvironmentKeyBrowserExecutable    = "CHROME_PATH"
)

// Defaults mirror the values the harness ships with.
const (
	DefaultApplicationURL       = "https://app.rudderstack.com"
	DefaultCurrentEnvironment   = EnvironmentDevelopment
	DefaultAPITimeoutSeconds    = 30
	DefaultAPIRetryAttempts     = 3
	DefaultHeadlessMode         = true
	DefaultBrowserTimeoutMillis = 10000
	DefaultBrowserName          = BrowserChrome
	DefaultMaxWorkers           = 2
	DefaultMaxRetries           = 3
	DefaultRetryDelaySeconds    = 2
	DefaultWindowWidth          = 1920
	DefaultWindowHeight         = 1080
	DefaultWebhookTimeout       = 60
	DefaultReportDirectory      = "reports"
	DefaultScreenshotDirectory  = "screenshots"
	DefaultLogLevel             = "INFO"
	DefaultLogFile              = "logs/test_execution.log"
	DefaultHistoryDatabase      = "reports/history.db"
	DefaultEnvironmentFile      = ".env"

	environmentFileType             = "env"
	errorMessageReadEnvironmentFile = "read environment file"
	errorMessageInvalidInteger      = "%s must be an integer, got %q"
	errorMessageInvalidBoolean      = "%s must be a boolean, got %q"
)

// EnvironmentSettings is the validated snapshot of the process environment.
type EnvironmentSettings struct {
	Email                 string
	Password              string
	DevelopmentURL        string
	QualityURL            string
	ProductionURL         string
	CurrentEnvironment    string
	APITimeoutSeconds     int
	APIRetryAttempts      int
	HeadlessMode          bool
	BrowserTimeoutMillis  int
	BrowserName           string
	BrowserExecutablePath string
	MaxWorkers            int
	ParallelMode          bool
	MaxRetries            int
	RetryDelaySeconds     int
	WindowWidth           int
	WindowHeight          int
	WebhookURL            string
	WebhookDestinationID  string
	WebhookTimeoutSeconds int
	ReportDirectory       string
	ScreenshotDirectory   string
	LogLevel              string
	LogFile               string
	GenerateHTMLReport    bool
	ScreenshotOnFailure   bool
	HistoryDatabase       string
	SlackWebhookURL       string
}

// Loader reads EnvironmentSettings through viper. Values come, in increasing precedence,
// from defaults, the optional environment file, process environment and bound flags.
type Loader struct {
	configurationLoader *viper.Viper
	environmentFile     string
	environmentFileSet  bool
}

// NewLoader wraps configurationLoader, creating one when nil.
func NewLoader(configurationLoader *viper.Viper) *Loader {
	if configurationLoader == nil {
		configurationLoader = viper.New()
	}
	loader := &Loader{configurationLoader: configurationLoader, environmentFile: DefaultEnvironmentFile}
	loader.applyDefaults()
	configurationLoader.AutomaticEnv()
	return loader
}

// WithEnvironmentFile selects the dotenv file. An explicitly selected file must exist.
func (loader *Loader) WithEnvironmentFile(path string) *Loader {
	trimmedPath := strings.TrimSpace(path)
	if trimmedPath == "" {
		return loader
	}
	loader.environmentFile = trimmedPath
	loader.environmentFileSet = true
	return loader
}

// Viper exposes the underlying loader for flag binding.
func (loader *Loader) Viper() *viper.Viper {
	return loader.configurationLoader
}

func (loader *Loader) applyDefaults() {
	defaults := map[string]any{
		EnvironmentKeyEmail:                "",
		EnvironmentKeyPassword:             "",
		EnvironmentKeyDevelopmentURL:       DefaultApplicationURL,
		EnvironmentKeyQualityURL:           DefaultApplicationURL,
		EnvironmentKeyProductionURL:        DefaultApplicationURL,
		EnvironmentKeyCurrentEnvironment:   DefaultCurrentEnvironment,
		EnvironmentKeyAPITimeout:           DefaultAPITimeoutSeconds,
		EnvironmentKeyAPIRetryAttempts:     DefaultAPIRetryAttempts,
		EnvironmentKeyHeadlessMode:         DefaultHeadlessMode,
		EnvironmentKeyBrowserTimeout:       DefaultBrowserTimeoutMillis,
		EnvironmentKeyBrowserName:          DefaultBrowserName,
		EnvironmentKeyBrowserExecutable:    "",
		EnvironmentKeyMaxWorkers:           DefaultMaxWorkers,
		EnvironmentKeyParallelMode:         false,
		EnvironmentKeyMaxRetries:           DefaultMaxRetries,
		EnvironmentKeyRetryDelay:           DefaultRetryDelaySeconds,
		EnvironmentKeyWindowWidth:          DefaultWindowWidth,
		EnvironmentKeyWindowHeight:         DefaultWindowHeight,
		EnvironmentKeyWebhookURL:           "",
		EnvironmentKeyWebhookDestinationID: "",
		EnvironmentKeyWebhookTimeout:       DefaultWebhookTimeout,
		EnvironmentKeyReportDirectory:      DefaultReportDirectory,
		EnvironmentKeyScreenshotDirectory:  DefaultScreenshotDirectory,
		EnvironmentKeyLogLevel:             DefaultLogLevel,
		EnvironmentKeyLogFile:              DefaultLogFile,
		EnvironmentKeyGenerateHTMLReport:   true,
		EnvironmentKeyScreenshotOnFailure:  true,
		EnvironmentKeyHistoryDatabase:      DefaultHistoryDatabase,
		EnvironmentKeySlackWebhookURL:      "",
	}
	for key, value := range defaults {
		loader.configurationLoader.SetDefault(key, value)
	}
}

// Load takes the settings snapshot. Malformed values fail with a ConfigurationError;
// required credentials are checked by Resolve.
func (loader *Loader) Load() (EnvironmentSettings, error) {
	if readErr := loader.readEnvironmentFile(); readErr != nil {
		return EnvironmentSettings{}, readErr
	}

	reader := settingsReader{configurationLoader: loader.configurationLoader}
	settings := EnvironmentSettings{
		Email:                 reader.text(EnvironmentKeyEmail),
		Password:              reader.raw(EnvironmentKeyPassword),
		DevelopmentURL:        reader.text(EnvironmentKeyDevelopmentURL),
		QualityURL:            reader.text(EnvironmentKeyQualityURL),
		ProductionURL:         reader.text(EnvironmentKeyProductionURL),
		CurrentEnvironment:    strings.ToLower(reader.text(EnvironmentKeyCurrentEnvironment)),
		APITimeoutSeconds:     reader.integer(EnvironmentKeyAPITimeout),
		APIRetryAttempts:      reader.integer(EnvironmentKeyAPIRetryAttempts),
		HeadlessMode:          reader.boolean(EnvironmentKeyHeadlessMode),
		BrowserTimeoutMillis:  reader.integer(EnvironmentKeyBrowserTimeout),
		BrowserName:           strings.ToLower(reader.text(EnvironmentKeyBrowserName)),
		BrowserExecutablePath: reader.text(EnvironmentKeyBrowserExecutable),
		MaxWorkers:            reader.integer(EnvironmentKeyMaxWorkers),
		ParallelMode:          reader.boolean(EnvironmentKeyParallelMode),
		MaxRetries:            reader.integer(EnvironmentKeyMaxRetries),
		RetryDelaySeconds:     reader.integer(EnvironmentKeyRetryDelay),
		WindowWidth:           reader.integer(EnvironmentKeyWindowWidth),
		WindowHeight:          reader.integer(EnvironmentKeyWindowHeight),
		WebhookURL:            reader.text(EnvironmentKeyWebhookURL),
		WebhookDestinationID:  reader.text(EnvironmentKeyWebhookDestinationID),
		WebhookTimeoutSeconds: reader.integer(EnvironmentKeyWebhookTimeout),
		ReportDirectory:       reader.text(EnvironmentKeyReportDirectory),
		ScreenshotDirectory:   reader.text(EnvironmentKeyScreenshotDirectory),
		LogLevel:              strings.ToUpper(reader.text(EnvironmentKeyLogLevel)),
		LogFile:               reader.text(EnvironmentKeyLogFile),
		GenerateHTMLReport:    reader.boolean(EnvironmentKeyGenerateHTMLReport),
		ScreenshotOnFailure:   reader.boolean(EnvironmentKeyScreenshotOnFailure),
		HistoryDatabase:       reader.text(EnvironmentKeyHistoryDatabase),
		SlackWebhookURL:       reader.text(EnvironmentKeySlackWebhookURL),
	}

	if len(reader.problems) > 0 {
		return EnvironmentSettings{}, &failures.ConfigurationError{Detail: strings.Join(reader.problems, "; ")}
	}
	return settings, nil
}

func (loader *Loader) readEnvironmentFile() error {
	if _, statErr := os.Stat(loader.environmentFile); statErr != nil {
		if errors.Is(statErr, fs.ErrNotExist) && !loader.environmentFileSet {
			return nil
		}
		return &failures.ConfigurationError{Detail: errorMessageReadEnvironmentFile, Err: statErr}
	}

	loader.configurationLoader.SetConfigFile(loader.environmentFile)
	loader.configurationLoader.SetConfigType(environmentFileType)
	if readErr := loader.configurationLoader.ReadInConfig(); readErr != nil {
		return &failures.ConfigurationError{Detail: errorMessageReadEnvironmentFile, Err: readErr}
	}
	return nil
}

// settingsReader parses viper values and accumulates every malformed entry.
type settingsReader struct {
	configurationLoader *viper.Viper
	problems            []string
}

func (reader *settingsReader) raw(key string) string {
	return reader.configurationLoader.GetString(key)
}

func (reader *settingsReader) text(key string) string {
	return strings.TrimSpace(reader.configurationLoader.GetString(key))
}

func (reader *settingsReader) integer(key string) int {
	value := reader.text(key)
	parsed, parseErr := strconv.Atoi(value)
	if parseErr != nil {
		reader.problems = append(reader.problems, fmt.Sprintf(errorMessageInvalidInteger, key, value))
		return 0
	}
	return parsed
}

func (reader *settingsReader) boolean(key string) bool {
	value := reader.text(key)
	parsed, parseErr := strconv.ParseBool(value)
	if parseErr != nil {
		reader.problems = append(reader.problems, fmt.Sprintf(errorMessageInvalidBoolean, key, value))
		return false
	}
	return parsed
}
