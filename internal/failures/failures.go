// Package failures defines the error taxonomy shared by the configuration layer, the API
// client, the browser actor and the scenario runner.
package failures

import (
	"context"
	"errors"
	"fmt"
	"strings"
)

// Kind names an error category in logs and reports.
type Kind string

const (
	KindConfiguration   Kind = "configuration"
	KindTransport       Kind = "transport"
	KindValidation      Kind = "validation"
	KindPageInteraction Kind = "page_interaction"
	KindAssertion       Kind = "assertion"
	KindCanceled        Kind = "canceled"
	KindUnknown         Kind = "unknown"
)

const (
	configurationErrorPrefix   = "configuration error"
	transportErrorPrefix       = "transport error"
	validationErrorPrefix      = "validation error"
	pageInteractionErrorPrefix = "page interaction error"
	assertionFailurePrefix     = "assertion failed"
	missingSettingsLabel       = "missing"
)

// ConfigurationError reports missing or invalid settings. It is fatal for a run.
type ConfigurationError struct {
	Missing []string
	Detail  string
	Err     error
}

func (configurationError *ConfigurationError) Error() string {
	var parts []string
	if len(configurationError.Missing) > 0 {
		parts = append(parts, fmt.Sprintf("%s: %s", missingSettingsLabel, strings.Join(configurationError.Missing, ", ")))
	}
	if configurationError.Detail != "" {
		parts = append(parts, configurationError.Detail)
	}
	if configurationError.Err != nil {
		parts = append(parts, configurationError.Err.Error())
	}
	if len(parts) == 0 {
		return configurationErrorPrefix
	}
	return fmt.Sprintf("%s: %s", configurationErrorPrefix, strings.Join(parts, "; "))
}

func (configurationError *ConfigurationError) Unwrap() error {
	return configurationError.Err
}

// TransportError reports a transient network or service failure.
type TransportError struct {
	Operation  string
	URL        string
	StatusCode int
	Err        error
}

func (transportError *TransportError) Error() string {
	message := fmt.Sprintf("%s: %s %s", transportErrorPrefix, transportError.Operation, transportError.URL)
	if transportError.StatusCode != 0 {
		message = fmt.Sprintf("%s: status %d", message, transportError.StatusCode)
	}
	if transportError.Err != nil {
		message = fmt.Sprintf("%s: %v", message, transportError.Err)
	}
	return message
}

func (transportError *TransportError) Unwrap() error {
	return transportError.Err
}

// ValidationError reports a permanent rejection: the same input will always fail.
type ValidationError struct {
	Operation  string
	StatusCode int
	Message    string
	Err        error
}

func (validationError *ValidationError) Error() string {
	message := fmt.Sprintf("%s: %s", validationErrorPrefix, validationError.Operation)
	if validationError.StatusCode != 0 {
		message = fmt.Sprintf("%s: status %d", message, validationError.StatusCode)
	}
	if validationError.Message != "" {
		message = fmt.Sprintf("%s: %s", message, validationError.Message)
	}
	if validationError.Err != nil {
		message = fmt.Sprintf("%s: %v", message, validationError.Err)
	}
	return message
}

func (validationError *ValidationError) Unwrap() error {
	return validationError.Err
}

// PageInteractionError reports an element that never became actionable.
type PageInteractionError struct {
	Locator        string
	Action         string
	Attempts       int
	ScreenshotPath string
	Err            error
}

func (pageInteractionError *PageInteractionError) Error() string {
	message := fmt.Sprintf("%s: %s %s", pageInteractionErrorPrefix, pageInteractionError.Action, pageInteractionError.Locator)
	if pageInteractionError.Attempts > 0 {
		message = fmt.Sprintf("%s after %d attempts", message, pageInteractionError.Attempts)
	}
	if pageInteractionError.Err != nil {
		message = fmt.Sprintf("%s: %v", message, pageInteractionError.Err)
	}
	return message
}

func (pageInteractionError *PageInteractionError) Unwrap() error {
	return pageInteractionError.Err
}

// AssertionFailure reports an expected outcome that was not observed. Never retried.
type AssertionFailure struct {
	Expectation string
	Detail      string
}

func (assertionFailure *AssertionFailure) Error() string {
	if assertionFailure.Detail == "" {
		return fmt.Sprintf("%s: %s", assertionFailurePrefix, assertionFailure.Expectation)
	}
	return fmt.Sprintf("%s: %s: %s", assertionFailurePrefix, assertionFailure.Expectation, assertionFailure.Detail)
}

// Assertf builds an AssertionFailure with a formatted detail.
func Assertf(expectation string, detailFormat string, arguments ...any) error {
	return &AssertionFailure{Expectation: expectation, Detail: fmt.Sprintf(detailFormat, arguments...)}
}

// KindOf classifies err into the taxonomy.
func KindOf(err error) Kind {
	if err == nil {
		return ""
	}
	var configurationError *ConfigurationError
	var validationError *ValidationError
	var assertionFailure *AssertionFailure
	var transportError *TransportError
	var pageInteractionError *PageInteractionError
	switch {
	case errors.As(err, &configurationError):
		return KindConfiguration
	case errors.As(err, &validationError):
		return KindValidation
	case errors.As(err, &assertionFailure):
		return KindAssertion
	case errors.As(err, &pageInteractionError):
		return KindPageInteraction
	case errors.As(err, &transportError):
		return KindTransport
	case errors.Is(err, context.Canceled):
		return KindCanceled
	default:
		return KindUnknown
	}
}

// IsTransient reports whether a later attempt with the same input may succeed.
func IsTransient(err error) bool {
	switch KindOf(err) {
	case KindConfiguration, KindValidation, KindAssertion, KindCanceled:
		return false
	default:
		return err != nil
	}
}

// ScreenshotPathOf returns the screenshot already captured for err, if any.
func ScreenshotPathOf(err error) string {
	var pageInteractionError *PageInteractionError
	if errors.As(err, &pageInteractionError) {
		return pageInteractionError.ScreenshotPath
	}
	return ""
}
