package testdata

import (
	"net/url"
	"slices"
	"strings"

	"github.com/MarkoPoloResearchLab/flowcheck/internal/delivery"
	"github.com/MarkoPoloResearchLab/flowcheck/internal/failures"
)

const (
	operationValidateEvent       = "validate event"
	operationValidateSource      = "validate source"
	operationValidateDestination = "validate destination"
	operationValidateStats       = "validate delivery stats"
)

var (
	sourceTypes      = []string{"HTTP", "Webhook", "SDK"}
	destinationTypes = []string{"Webhook", "HTTP"}
)

// ValidateEvent checks that an event can be sent.
func ValidateEvent(event Event) error {
	var problems []string
	if strings.TrimSpace(event.Name) == "" {
		problems = append(problems, "event name is empty")
	}
	if strings.TrimSpace(event.UserID) == "" && strings.TrimSpace(event.AnonymousID) == "" {
		problems = append(problems, "user id or anonymous id is required")
	}
	if event.Timestamp.IsZero() {
		problems = append(problems, "timestamp is unset")
	}
	return validationResult(operationValidateEvent, problems)
}

// ValidateSource checks a discovered source before events are sent to it.
func ValidateSource(source Source) error {
	var problems []string
	if strings.TrimSpace(source.Name) == "" {
		problems = append(problems, "source name is empty")
	}
	if !slices.Contains(sourceTypes, source.Type) {
		problems = append(problems, "unsupported source type "+source.Type)
	}
	if strings.TrimSpace(source.WriteKey) == "" {
		problems = append(problems, "write key is empty")
	}
	if !isHTTPURL(source.DataPlaneURL) {
		problems = append(problems, "data plane URL is not an http(s) URL")
	}
	return validationResult(operationValidateSource, problems)
}

func ValidateDestination(destination Destination) error {
	var problems []string
	if strings.TrimSpace(destination.Name) == "" {
		problems = append(problems, "destination name is empty")
	}
	if !slices.Contains(destinationTypes, destination.Type) {
		problems = append(problems, "unsupported destination type "+destination.Type)
	}
	if !isHTTPURL(destination.WebhookURL) {
		problems = append(problems, "webhook URL is not an http(s) URL")
	}
	return validationResult(operationValidateDestination, problems)
}

// ValidateStats checks that counters are consistent: total equals delivered plus failed.
func ValidateStats(stats delivery.Stats) error {
	var problems []string
	if stats.Received < 0 || stats.Failed < 0 || stats.Total < 0 {
		problems = append(problems, "counters must not be negative")
	}
	if stats.Total != stats.Received+stats.Failed {
		problems = append(problems, "total must equal delivered plus failed")
	}
	return validationResult(operationValidateStats, problems)
}

func validationResult(operation string, problems []string) error {
	if len(problems) == 0 {
		return nil
	}
	return &failures.ValidationError{Operation: operation, Message: strings.Join(problems, "; ")}
}

func isHTTPURL(raw string) bool {
	parsed, parseErr := url.Parse(strings.TrimSpace(raw))
	if parseErr != nil || parsed.Host == "" {
		return false
	}
	return parsed.Scheme == "http" || parsed.Scheme == "https"
}
