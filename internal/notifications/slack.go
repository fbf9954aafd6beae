// Package notifications posts run summaries to a Slack incoming webhook.
package notifications

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/MarkoPoloResearchLab/flowcheck/internal/scenario"
)

const (
	defaultPostTimeout     = 10 * time.Second
	maxResponseSnippet     = 256
	contentTypeJSON        = "application/json"
	failureLineFormat      = "• %s [%s] %s"
	summaryLineFormat      = "%s flowcheck run %s on %s (%s): %d passed, %d failed, %d skipped in %s"
	statusMarkerSucceeded  = ":white_check_mark:"
	statusMarkerFailed     = ":x:"
	logEventNotifySkipped  = "run_notification_skipped"
	logEventNotifySent     = "run_notification_sent"
	logEventNotifyFailed   = "run_notification_failed"
	errorMessageEncode     = "encode slack message"
	errorMessageRequest    = "build slack request"
	errorMessagePost       = "post slack message"
	errorMessageStatusCode = "slack responded %d: %s"
)

// RunNotifier announces finished runs.
type RunNotifier interface {
	NotifyRun(ctx context.Context, summary scenario.RunSummary)
}

// SlackNotifier posts to an incoming webhook. Failures are logged and never returned so a
// notification problem cannot change a run's outcome.
type SlackNotifier struct {
	webhookURL string
	httpClient *http.Client
	logger     *zap.Logger
}

// NewSlackNotifier builds a notifier. An empty webhookURL disables it.
func NewSlackNotifier(webhookURL string, httpClient *http.Client, logger *zap.Logger) *SlackNotifier {
	if httpClient == nil {
		httpClient = &http.Client{Timeout: defaultPostTimeout}
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &SlackNotifier{webhookURL: strings.TrimSpace(webhookURL), httpClient: httpClient, logger: logger}
}

type slackMessage struct {
	Text string `json:"text"`
}

func (notifier *SlackNotifier) NotifyRun(ctx context.Context, summary scenario.RunSummary) {
	if notifier.webhookURL == "" {
		notifier.logger.Debug(logEventNotifySkipped)
		return
	}
	if postErr := notifier.post(ctx, FormatSummary(summary)); postErr != nil {
		notifier.logger.Warn(logEventNotifyFailed, zap.String("run_id", summary.ID), zap.Error(postErr))
		return
	}
	notifier.logger.Info(logEventNotifySent, zap.String("run_id", summary.ID))
}

func (notifier *SlackNotifier) post(ctx context.Context, text string) error {
	body, encodeErr := json.Marshal(slackMessage{Text: text})
	if encodeErr != nil {
		return fmt.Errorf("%s: %w", errorMessageEncode, encodeErr)
	}
	request, requestErr := http.NewRequestWithContext(ctx, http.MethodPost, notifier.webhookURL, bytes.NewReader(body))
	if requestErr != nil {
		return fmt.Errorf("%s: %w", errorMessageRequest, requestErr)
	}
	request.Header.Set("Content-Type", contentTypeJSON)

	response, postErr := notifier.httpClient.Do(request)
	if postErr != nil {
		return fmt.Errorf("%s: %w", errorMessagePost, postErr)
	}
	defer response.Body.Close()
	if response.StatusCode < 200 || response.StatusCode >= 300 {
		snippet, _ := io.ReadAll(io.LimitReader(response.Body, maxResponseSnippet))
		return fmt.Errorf(errorMessageStatusCode, response.StatusCode, strings.TrimSpace(string(snippet)))
	}
	return nil
}

// FormatSummary renders summary as Slack message text: one headline and a line per
// failed scenario.
func FormatSummary(summary scenario.RunSummary) string {
	marker := statusMarkerSucceeded
	if !summary.Succeeded() {
		marker = statusMarkerFailed
	}
	lines := []string{fmt.Sprintf(summaryLineFormat,
		marker,
		summary.ID,
		summary.Environment,
		summary.Selection,
		summary.Passed(),
		summary.Failed(),
		summary.Skipped(),
		summary.Duration().Round(time.Second),
	)}
	for _, result := range summary.Results {
		if result.Status != scenario.StatusFailed {
			continue
		}
		lines = append(lines, fmt.Sprintf(failureLineFormat, result.ScenarioID, result.ErrorKind, result.Message))
	}
	return strings.Join(lines, "\n")
}
