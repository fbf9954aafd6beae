package sink_test

import (
	"context"
	"encoding/json"
	"net"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/require"

	"github.com/MarkoPoloResearchLab/flowcheck/internal/apiclient"
	"github.com/MarkoPoloResearchLab/flowcheck/internal/config"
	"github.com/MarkoPoloResearchLab/flowcheck/internal/delivery"
	"github.com/MarkoPoloResearchLab/flowcheck/internal/model"
	"github.com/MarkoPoloResearchLab/flowcheck/internal/sink"
	"github.com/MarkoPoloResearchLab/flowcheck/internal/storage"
	"github.com/MarkoPoloResearchLab/flowcheck/internal/testutil"
)

const (
	testDestination  = "webhook-qa"
	testEventPayload = `{"type":"track","event":"product_viewed","messageId":"msg-1","properties":{"price":12.5}}`
)

type sinkHarness struct {
	server *sink.Server
	store  *storage.DeliveryStore
}

func newSinkHarness(testingT *testing.T) sinkHarness {
	testingT.Helper()
	gin.SetMode(gin.TestMode)
	database := testutil.OpenMemoryDatabase(testingT)
	store := storage.NewDeliveryStore(database)
	return sinkHarness{server: sink.NewServer(sink.Config{}, store, nil), store: store}
}

func (harness sinkHarness) do(testingT *testing.T, method string, target string, body string) *httptest.ResponseRecorder {
	testingT.Helper()
	request := httptest.NewRequest(method, target, strings.NewReader(body))
	request.Header.Set("Content-Type", "application/json")
	request.Header.Set("User-Agent", "RudderStack/1.0")
	recorder := httptest.NewRecorder()
	harness.server.Handler().ServeHTTP(recorder, request)
	return recorder
}

func TestReceiveWebhookStoresDeliveries(t *testing.T) {
	harness := newSinkHarness(t)

	testCases := []struct {
		name           string
		body           string
		expectedStatus int
		delivered      bool
		eventName      string
		messageID      string
	}{
		{name: "single event", body: testEventPayload, expectedStatus: http.StatusOK, delivered: true, eventName: "product_viewed", messageID: "msg-1"},
		{name: "batch uses first event", body: `[{"event":"page_view","messageId":"msg-2"},{"event":"purchase"}]`, expectedStatus: http.StatusOK, delivered: true, eventName: "page_view", messageID: "msg-2"},
		{name: "type when event is missing", body: `{"type":"identify"}`, expectedStatus: http.StatusOK, delivered: true, eventName: "identify"},
		{name: "malformed body fails", body: `{"event":`, expectedStatus: http.StatusBadRequest, delivered: false},
	}

	for _, testCase := range testCases {
		testCase := testCase
		t.Run(testCase.name, func(testingT *testing.T) {
			destinationID := "dest-" + strings.ReplaceAll(testCase.name, " ", "-")
			recorder := harness.do(testingT, http.MethodPost, "/webhook/"+destinationID, testCase.body)
			require.Equal(testingT, testCase.expectedStatus, recorder.Code)

			deliveries, listErr := harness.store.Recent(context.Background(), destinationID, 0)
			require.NoError(testingT, listErr)
			require.Len(testingT, deliveries, 1)
			stored := deliveries[0]
			require.Equal(testingT, testCase.delivered, stored.Delivered)
			require.Equal(testingT, testCase.expectedStatus, stored.StatusCode)
			require.Equal(testingT, testCase.eventName, stored.EventName)
			require.Equal(testingT, testCase.messageID, stored.MessageID)
			require.Equal(testingT, testCase.body, stored.Payload)
			require.Equal(testingT, "RudderStack/1.0", stored.UserAgent)
		})
	}
}

func TestReceiveWebhookRejectsOversizedPayload(t *testing.T) {
	harness := newSinkHarness(t)
	oversized := `{"event":"big","blob":"` + strings.Repeat("x", 1<<20) + `"}`

	recorder := harness.do(t, http.MethodPost, "/webhook/"+testDestination, oversized)

	require.Equal(t, http.StatusRequestEntityTooLarge, recorder.Code)
	stats, statsErr := harness.store.Stats(context.Background(), testDestination)
	require.NoError(t, statsErr)
	require.Zero(t, stats.Total)
}

func TestDeliveryStatsEndpoint(t *testing.T) {
	harness := newSinkHarness(t)
	harness.do(t, http.MethodPost, "/webhook/"+testDestination, testEventPayload)
	harness.do(t, http.MethodPost, "/webhook/"+testDestination, testEventPayload)
	harness.do(t, http.MethodPost, "/webhook/"+testDestination, "not json")
	harness.do(t, http.MethodPost, "/webhook/other", testEventPayload)

	recorder := harness.do(t, http.MethodGet, "/api/destinations/"+testDestination+"/stats", "")

	require.Equal(t, http.StatusOK, recorder.Code)
	var stats delivery.Stats
	require.NoError(t, json.Unmarshal(recorder.Body.Bytes(), &stats))
	require.Equal(t, delivery.Stats{Received: 2, Failed: 1, Total: 3}, stats)
}

func TestDestinationEventsEndpoint(t *testing.T) {
	harness := newSinkHarness(t)
	ctx := context.Background()
	receivedAt := time.Date(2026, 3, 4, 5, 0, 0, 0, time.UTC)
	_, recordErr := harness.store.Record(ctx, model.WebhookDelivery{DestinationID: testDestination, EventName: "older", Delivered: true, StatusCode: 200, Payload: `{"event":"older"}`, ReceivedAt: receivedAt})
	require.NoError(t, recordErr)
	_, recordErr = harness.store.Record(ctx, model.WebhookDelivery{DestinationID: testDestination, EventName: "newer", Delivered: false, StatusCode: 400, Payload: "raw text", ReceivedAt: receivedAt.Add(time.Minute)})
	require.NoError(t, recordErr)

	recorder := harness.do(t, http.MethodGet, "/api/destinations/"+testDestination+"/events", "")
	require.Equal(t, http.StatusOK, recorder.Code)
	var events []map[string]any
	require.NoError(t, json.Unmarshal(recorder.Body.Bytes(), &events))
	require.Len(t, events, 2)
	require.Equal(t, "newer", events[0]["event"])
	require.Equal(t, "raw text", events[0]["payload"])
	require.Equal(t, map[string]any{"event": "older"}, events[1]["payload"])

	limited := harness.do(t, http.MethodGet, "/api/destinations/"+testDestination+"/events?limit=1", "")
	require.NoError(t, json.Unmarshal(limited.Body.Bytes(), &events))
	require.Len(t, events, 1)

	testCases := []struct {
		name  string
		limit string
	}{
		{name: "not a number", limit: "many"},
		{name: "zero", limit: "0"},
		{name: "too large", limit: "100000"},
	}
	for _, testCase := range testCases {
		testCase := testCase
		t.Run(testCase.name, func(testingT *testing.T) {
			invalid := harness.do(testingT, http.MethodGet, "/api/destinations/"+testDestination+"/events?limit="+testCase.limit, "")
			require.Equal(testingT, http.StatusBadRequest, invalid.Code)
		})
	}
}

func TestHealthAndMetricsEndpoints(t *testing.T) {
	harness := newSinkHarness(t)
	harness.do(t, http.MethodPost, "/webhook/"+testDestination, testEventPayload)
	harness.do(t, http.MethodPost, "/webhook/"+testDestination, "{")

	health := harness.do(t, http.MethodGet, sink.RouteHealth, "")
	require.Equal(t, http.StatusOK, health.Code)
	require.JSONEq(t, `{"status":"ok"}`, health.Body.String())

	metrics := harness.do(t, http.MethodGet, sink.RouteMetrics, "")
	require.Equal(t, http.StatusOK, metrics.Code)
	body := metrics.Body.String()
	require.Contains(t, body, `flowcheck_sink_deliveries_total{destination="webhook-qa",outcome="delivered"} 1`)
	require.Contains(t, body, `flowcheck_sink_deliveries_total{destination="webhook-qa",outcome="failed"} 1`)
	require.Contains(t, body, "flowcheck_sink_payload_bytes_count 2")
}

func TestCORSPreflightIsAllowed(t *testing.T) {
	harness := newSinkHarness(t)
	request := httptest.NewRequest(http.MethodOptions, "/webhook/"+testDestination, nil)
	request.Header.Set("Origin", "https://app.rudderstack.com")
	request.Header.Set("Access-Control-Request-Method", http.MethodPost)
	recorder := httptest.NewRecorder()

	harness.server.Handler().ServeHTTP(recorder, request)

	require.Equal(t, http.StatusNoContent, recorder.Code)
	require.Equal(t, "*", recorder.Header().Get("Access-Control-Allow-Origin"))
}

func TestServerServesAPIClientUntilCanceled(t *testing.T) {
	harness := newSinkHarness(t)
	listener, listenErr := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, listenErr)
	ctx, cancel := context.WithCancel(context.Background())
	serveResult := make(chan error, 1)
	go func() {
		serveResult <- harness.server.Serve(ctx, listener)
	}()

	baseURL := "http://" + listener.Addr().String()
	client := apiclient.NewClient(config.APIConfig{Timeout: 2 * time.Second, WebhookURL: baseURL}, nil, nil)
	require.Eventually(t, func() bool {
		response, getErr := http.Get(baseURL + sink.RouteHealth)
		if getErr != nil {
			return false
		}
		response.Body.Close()
		return response.StatusCode == http.StatusOK
	}, 2*time.Second, 10*time.Millisecond)

	response, postErr := http.Post(baseURL+"/webhook/"+testDestination, "application/json", strings.NewReader(testEventPayload))
	require.NoError(t, postErr)
	response.Body.Close()

	stats, statsErr := client.GetDeliveryStats(ctx, testDestination)
	require.NoError(t, statsErr)
	require.Equal(t, 1, stats.Received)
	require.Equal(t, 1, stats.Total)

	events, eventsErr := client.GetDestinationEvents(ctx, testDestination)
	require.NoError(t, eventsErr)
	require.Len(t, events, 1)
	require.Equal(t, "product_viewed", events[0]["event"])

	cancel()
	select {
	case serveErr := <-serveResult:
		require.NoError(t, serveErr)
	case <-time.After(5 * time.Second):
		t.Fatal("sink did not stop after cancellation")
	}
}
