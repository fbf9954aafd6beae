// Package config turns the process environment into the single read-only configuration
// shared by every component of a run.
package config

import (
	"fmt"
	"net/url"
	"slices"
	"strings"
	"time"

	"github.com/MarkoPoloResearchLab/flowcheck/internal/failures"
)

// Target environments.
const (
	EnvironmentDevelopment = "dev"
	EnvironmentQuality     = "qa"
	EnvironmentProduction  = "prod"
)

// Browsers drivable through the Chrome DevTools protocol.
const (
	BrowserChrome   = "chrome"
	BrowserChromium = "chromium"
	BrowserEdge     = "edge"
)

const (
	maskedSecret                   = "***"
	errorMessageInvalidURL         = "%s must be an absolute http(s) URL, got %q"
	errorMessageMissingURL         = "no URL configured for environment %q (%s)"
	errorMessageNonPositive        = "%s must be greater than zero, got %d"
	errorMessageNegative           = "%s must not be negative, got %d"
	errorMessageUnsupportedBrowser = "%s %q is not supported; use one of %s"
	errorMessageInvalidWebhookURL  = "%s must be an absolute http(s) URL, got %q"
	errorMessageUnknownLogLevel    = "%s %q is not a log level; use one of %s"
	defaultPollInterval            = 2 * time.Second
)

var supportedBrowsers = []string{BrowserChrome, BrowserChromium, BrowserEdge}

// LogLevels lists the accepted LOG_LEVEL names. WARNING and CRITICAL are spellings of WARN
// and ERROR.
var LogLevels = []string{"DEBUG", "INFO", "WARN", "WARNING", "ERROR", "CRITICAL"}

// BrowserConfig drives browser sessions and page actions.
type BrowserConfig struct {
	Name           string
	ExecutablePath string
	Headless       bool
	WindowWidth    int
	WindowHeight   int
	ActionTimeout  time.Duration
	MaxAttempts    int
	RetryDelay     time.Duration
}

// APIConfig drives the HTTP API client.
type APIConfig struct {
	Timeout       time.Duration
	RetryAttempts int
	RetryDelay    time.Duration
	WebhookURL    string
}

// RunConfig drives scenario scheduling.
type RunConfig struct {
	Parallel             bool
	MaxWorkers           int
	MaxAttempts          int
	RetryDelay           time.Duration
	WebhookTimeout       time.Duration
	DeliveryPollInterval time.Duration
	WebhookDestinationID string
}

// ReportConfig locates run artifacts.
type ReportConfig struct {
	ReportDirectory     string
	ScreenshotDirectory string
	HistoryDatabase     string
	GenerateHTMLReport  bool
	ScreenshotOnFailure bool
	LogLevel            string
	LogFile             string
	SlackWebhookURL     string
}

// Credentials authenticate the harness against the application under test.
type Credentials struct {
	Email    string
	Password string
}

// ResolvedConfig is created once per run and never mutated.
type ResolvedConfig struct {
	Environment          string
	RequestedEnvironment string
	BaseURL              string
	Credentials          Credentials
	Browser              BrowserConfig
	API                  APIConfig
	Run                  RunConfig
	Report               ReportConfig
	Settings             EnvironmentSettings
}

// Summary is a display-safe view of a ResolvedConfig.
type Summary struct {
	Environment  string        `json:"environment"`
	BaseURL      string        `json:"base_url"`
	Email        string        `json:"email"`
	Password     string        `json:"password"`
	Browser      BrowserConfig `json:"browser"`
	API          APIConfig     `json:"api"`
	Run          RunConfig     `json:"run"`
	Report       ReportConfig  `json:"report"`
	FellBackFrom string        `json:"fell_back_from,omitempty"`
}

// NormalizeEnvironment maps name to a known environment, falling back to dev.
func NormalizeEnvironment(name string) string {
	switch strings.ToLower(strings.TrimSpace(name)) {
	case EnvironmentDevelopment:
		return EnvironmentDevelopment
	case EnvironmentQuality:
		return EnvironmentQuality
	case EnvironmentProduction:
		return EnvironmentProduction
	default:
		return EnvironmentDevelopment
	}
}

// Resolve derives the run configuration for environmentName. An empty name selects the
// settings' current environment. Resolve is a pure function of its inputs.
func Resolve(settings EnvironmentSettings, environmentName string) (*ResolvedConfig, error) {
	requestedEnvironment := strings.ToLower(strings.TrimSpace(environmentName))
	if requestedEnvironment == "" {
		requestedEnvironment = strings.ToLower(strings.TrimSpace(settings.CurrentEnvironment))
	}
	if requestedEnvironment == "" {
		requestedEnvironment = DefaultCurrentEnvironment
	}
	environment := NormalizeEnvironment(requestedEnvironment)

	var missing []string
	if strings.TrimSpace(settings.Email) == "" {
		missing = append(missing, EnvironmentKeyEmail)
	}
	if settings.Password == "" {
		missing = append(missing, EnvironmentKeyPassword)
	}

	var problems []string
	baseURL, urlKey := environmentURL(settings, environment)
	switch {
	case baseURL == "":
		problems = append(problems, fmt.Sprintf(errorMessageMissingURL, environment, urlKey))
	case !isHTTPURL(baseURL):
		problems = append(problems, fmt.Sprintf(errorMessageInvalidURL, urlKey, baseURL))
	}
	if settings.WebhookURL != "" && !isHTTPURL(settings.WebhookURL) {
		problems = append(problems, fmt.Sprintf(errorMessageInvalidWebhookURL, EnvironmentKeyWebhookURL, settings.WebhookURL))
	}

	problems = appendPositive(problems, EnvironmentKeyAPITimeout, settings.APITimeoutSeconds)
	problems = appendPositive(problems, EnvironmentKeyBrowserTimeout, settings.BrowserTimeoutMillis)
	problems = appendPositive(problems, EnvironmentKeyMaxWorkers, settings.MaxWorkers)
	problems = appendPositive(problems, EnvironmentKeyWindowWidth, settings.WindowWidth)
	problems = appendPositive(problems, EnvironmentKeyWindowHeight, settings.WindowHeight)
	problems = appendPositive(problems, EnvironmentKeyWebhookTimeout, settings.WebhookTimeoutSeconds)
	problems = appendNonNegative(problems, EnvironmentKeyAPIRetryAttempts, settings.APIRetryAttempts)
	problems = appendNonNegative(problems, EnvironmentKeyMaxRetries, settings.MaxRetries)
	problems = appendNonNegative(problems, EnvironmentKeyRetryDelay, settings.RetryDelaySeconds)

	browserName := strings.ToLower(strings.TrimSpace(settings.BrowserName))
	if browserName == "" {
		browserName = DefaultBrowserName
	}
	if !isSupportedBrowser(browserName) {
		problems = append(problems, fmt.Sprintf(errorMessageUnsupportedBrowser, EnvironmentKeyBrowserName, browserName, strings.Join(supportedBrowsers, ", ")))
	}

	logLevel := strings.ToUpper(strings.TrimSpace(settings.LogLevel))
	if logLevel == "" {
		logLevel = DefaultLogLevel
	}
	if !slices.Contains(LogLevels, logLevel) {
		problems = append(problems, fmt.Sprintf(errorMessageUnknownLogLevel, EnvironmentKeyLogLevel, settings.LogLevel, strings.Join(LogLevels, ", ")))
	}

	if len(missing) > 0 || len(problems) > 0 {
		return nil, &failures.ConfigurationError{Missing: missing, Detail: strings.Join(problems, "; ")}
	}

	retryDelay := time.Duration(settings.RetryDelaySeconds) * time.Second
	resolved := &ResolvedConfig{
		Environment:          environment,
		RequestedEnvironment: requestedEnvironment,
		BaseURL:              strings.TrimRight(baseURL, "/"),
		Credentials:          Credentials{Email: strings.TrimSpace(settings.Email), Password: settings.Password},
		Browser: BrowserConfig{
			Name:           browserName,
			ExecutablePath: settings.BrowserExecutablePath,
			Headless:       settings.HeadlessMode,
			WindowWidth:    settings.WindowWidth,
			WindowHeight:   settings.WindowHeight,
			ActionTimeout:  time.Duration(settings.BrowserTimeoutMillis) * time.Millisecond,
			MaxAttempts:    attemptsFromRetries(settings.MaxRetries),
			RetryDelay:     retryDelay,
		},
		API: APIConfig{
			Timeout:       time.Duration(settings.APITimeoutSeconds) * time.Second,
			RetryAttempts: settings.APIRetryAttempts,
			RetryDelay:    retryDelay,
			WebhookURL:    strings.TrimRight(settings.WebhookURL, "/"),
		},
		Run: RunConfig{
			Parallel:             settings.ParallelMode,
			MaxWorkers:           settings.MaxWorkers,
			MaxAttempts:          attemptsFromRetries(settings.MaxRetries),
			RetryDelay:           retryDelay,
			WebhookTimeout:       time.Duration(settings.WebhookTimeoutSeconds) * time.Second,
			DeliveryPollInterval: defaultPollInterval,
			WebhookDestinationID: settings.WebhookDestinationID,
		},
		Report: ReportConfig{
			ReportDirectory:     settings.ReportDirectory,
			ScreenshotDirectory: settings.ScreenshotDirectory,
			HistoryDatabase:     settings.HistoryDatabase,
			GenerateHTMLReport:  settings.GenerateHTMLReport,
			ScreenshotOnFailure: settings.ScreenshotOnFailure,
			LogLevel:            logLevel,
			LogFile:             settings.LogFile,
			SlackWebhookURL:     settings.SlackWebhookURL,
		},
		Settings: settings,
	}
	return resolved, nil
}

// IsProduction reports whether the run targets production.
func (resolved *ResolvedConfig) IsProduction() bool {
	return resolved.Environment == EnvironmentProduction
}

// FellBack reports whether the requested environment was unknown.
func (resolved *ResolvedConfig) FellBack() bool {
	return resolved.RequestedEnvironment != resolved.Environment
}

// Summary returns a view with the password masked.
func (resolved *ResolvedConfig) Summary() Summary {
	summary := Summary{
		Environment: resolved.Environment,
		BaseURL:     resolved.BaseURL,
		Email:       resolved.Credentials.Email,
		Password:    maskedSecret,
		Browser:     resolved.Browser,
		API:         resolved.API,
		Run:         resolved.Run,
		Report:      resolved.Report,
	}
	if resolved.Report.SlackWebhookURL != "" {
		summary.Report.SlackWebhookURL = maskedSecret
	}
	if resolved.FellBack() {
		summary.FellBackFrom = resolved.RequestedEnvironment
	}
	return summary
}

// attemptsFromRetries converts a retry count setting into an attempt bound.
// MAX_RETRIES counts total attempts for page actions and scenarios, with a floor of one.
func attemptsFromRetries(maxRetries int) int {
	if maxRetries < 1 {
		return 1
	}
	return maxRetries
}

func environmentURL(settings EnvironmentSettings, environment string) (string, string) {
	switch environment {
	case EnvironmentQuality:
		return strings.TrimSpace(settings.QualityURL), EnvironmentKeyQualityURL
	case EnvironmentProduction:
		return strings.TrimSpace(settings.ProductionURL), EnvironmentKeyProductionURL
	default:
		return strings.TrimSpace(settings.DevelopmentURL), EnvironmentKeyDevelopmentURL
	}
}

func isHTTPURL(raw string) bool {
	parsed, parseErr := url.Parse(raw)
	if parseErr != nil || parsed.Host == "" {
		return false
	}
	return parsed.Scheme == "http" || parsed.Scheme == "https"
}

func isSupportedBrowser(name string) bool {
	for _, supported := range supportedBrowsers {
		if supported == name {
			return true
		}
	}
	return false
}

func appendPositive(problems []string, key string, value int) []string {
	if value <= 0 {
		return append(problems, fmt.Sprintf(errorMessageNonPositive, key, value))
	}
	return problems
}

func appendNonNegative(problems []string, key string, value int) []string {
	if value < 0 {
		return append(problems, fmt.Sprintf(errorMessageNegative, key, value))
	}
	return problems
}
