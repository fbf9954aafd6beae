package notifications_test

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zaptest/observer"

	"github.com/MarkoPoloResearchLab/flowcheck/internal/failures"
	"github.com/MarkoPoloResearchLab/flowcheck/internal/notifications"
	"github.com/MarkoPoloResearchLab/flowcheck/internal/scenario"
)

type recordingWebhook struct {
	mutex    sync.Mutex
	messages []map[string]string
	status   int
}

func (webhook *recordingWebhook) ServeHTTP(writer http.ResponseWriter, request *http.Request) {
	body, _ := io.ReadAll(request.Body)
	message := map[string]string{}
	_ = json.Unmarshal(body, &message)
	webhook.mutex.Lock()
	webhook.messages = append(webhook.messages, message)
	webhook.mutex.Unlock()
	if webhook.status != 0 {
		writer.WriteHeader(webhook.status)
		_, _ = writer.Write([]byte("invalid_token"))
		return
	}
	_, _ = writer.Write([]byte("ok"))
}

func newFailedSummary() scenario.RunSummary {
	startedAt := time.Date(2026, 3, 4, 5, 6, 7, 0, time.UTC)
	return scenario.RunSummary{
		ID:          "run-7",
		Environment: "qa",
		Selection:   "tags:regression",
		StartedAt:   startedAt,
		FinishedAt:  startedAt.Add(95 * time.Second),
		Results: []scenario.Result{
			{ScenarioID: "event_tracking", Status: scenario.StatusPassed},
			{ScenarioID: "error_handling", Status: scenario.StatusFailed, ErrorKind: failures.KindAssertion, Message: "assertion failed: invalid write key rejected"},
		},
	}
}

func TestFormatSummary(testingT *testing.T) {
	testCases := []struct {
		name     string
		summary  scenario.RunSummary
		expected string
	}{
		{
			name:    "failed run lists failures",
			summary: newFailedSummary(),
			expected: ":x: flowcheck run run-7 on qa (tags:regression): 1 passed, 1 failed, 0 skipped in 1m35s\n" +
				"• error_handling [assertion] assertion failed: invalid write key rejected",
		},
		{
			name:     "successful run is one line",
			summary:  scenario.RunSummary{ID: "run-8", Environment: "dev", Selection: "all", Results: []scenario.Result{{Status: scenario.StatusPassed}}},
			expected: ":white_check_mark: flowcheck run run-8 on dev (all): 1 passed, 0 failed, 0 skipped in 0s",
		},
	}

	for _, testCase := range testCases {
		testCase := testCase
		testingT.Run(testCase.name, func(subTest *testing.T) {
			require.Equal(subTest, testCase.expected, notifications.FormatSummary(testCase.summary))
		})
	}
}

func TestSlackNotifierPostsSummary(testingT *testing.T) {
	webhook := &recordingWebhook{}
	server := httptest.NewServer(webhook)
	testingT.Cleanup(server.Close)
	core, recorded := observer.New(zap.InfoLevel)

	notifier := notifications.NewSlackNotifier(server.URL, server.Client(), zap.New(core))
	notifier.NotifyRun(context.Background(), newFailedSummary())

	require.Len(testingT, webhook.messages, 1)
	require.Contains(testingT, webhook.messages[0]["text"], "1 failed")
	require.Equal(testingT, 1, recorded.FilterMessage("run_notification_sent").Len())
}

func TestSlackNotifierLogsRejectedPosts(testingT *testing.T) {
	webhook := &recordingWebhook{status: http.StatusForbidden}
	server := httptest.NewServer(webhook)
	testingT.Cleanup(server.Close)
	core, recorded := observer.New(zap.WarnLevel)

	notifier := notifications.NewSlackNotifier(server.URL, server.Client(), zap.New(core))
	notifier.NotifyRun(context.Background(), newFailedSummary())

	entries := recorded.FilterMessage("run_notification_failed").All()
	require.Len(testingT, entries, 1)
	require.Contains(testingT, entries[0].ContextMap()["error"], "slack responded 403: invalid_token")
}

func TestSlackNotifierWithoutWebhookDoesNothing(testingT *testing.T) {
	webhook := &recordingWebhook{}
	server := httptest.NewServer(webhook)
	testingT.Cleanup(server.Close)

	var notifier notifications.RunNotifier = notifications.NewSlackNotifier("  ", server.Client(), nil)
	notifier.NotifyRun(context.Background(), newFailedSummary())

	require.Empty(testingT, webhook.messages)
}
