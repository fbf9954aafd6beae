// Package apiclient sends tracking events to a data plane and reads delivery counters from
// a webhook destination.
package apiclient

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/MarkoPoloResearchLab/flowcheck/internal/config"
	"github.com/MarkoPoloResearchLab/flowcheck/internal/delivery"
	"github.com/MarkoPoloResearchLab/flowcheck/internal/failures"
	"github.com/MarkoPoloResearchLab/flowcheck/internal/retry"
	"github.com/MarkoPoloResearchLab/flowcheck/internal/testdata"
)

const (
	// UserAgent identifies the harness to the data plane.
	UserAgent = "flowcheck/1.0"

	trackPath                 = "/v1/track"
	destinationStatsPathFmt   = "/api/destinations/%s/stats"
	destinationEventsPathFmt  = "/api/destinations/%s/events"
	headerContentType         = "Content-Type"
	headerUserAgent           = "User-Agent"
	headerEventID             = "X-Event-ID"
	contentTypeJSON           = "application/json"
	operationSendEvent        = "send event"
	operationDeliveryStats    = "read delivery stats"
	operationDestinationEvent = "read destination events"
	maxErrorBodyBytes         = 512
	maxResponseBodyBytes      = 1 << 20
	rawBodyKey                = "raw"
	defaultClientTimeout      = 30 * time.Second

	logEventSent        = "event_sent"
	logEventSendRetry   = "event_send_retry"
	logEventSendFailed  = "event_send_failed"
	logEventStatsRead   = "delivery_stats_read"
	errorMessageEncode  = "encode event payload"
	errorMessageRequest = "build request"
	errorMessageDecode  = "decode response"
	errorMessageWebhook = "webhook URL is required to read destination data"
)

// DeliveryReceipt describes an accepted event.
type DeliveryReceipt struct {
	StatusCode int
	EventID    string
	MessageID  string
	Body       map[string]any
	Attempts   int
}

// Client is safe for concurrent use.
type Client struct {
	configuration config.APIConfig
	httpClient    *http.Client
	logger        *zap.Logger
}

// NewClient builds a client. A nil httpClient gets a default one; a nil logger discards output.
func NewClient(configuration config.APIConfig, httpClient *http.Client, logger *zap.Logger) *Client {
	if httpClient == nil {
		httpClient = &http.Client{}
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	if configuration.Timeout <= 0 {
		configuration.Timeout = defaultClientTimeout
	}
	return &Client{configuration: configuration, httpClient: httpClient, logger: logger}
}

// RetryPolicy is the policy applied to SendEvent: the first attempt plus RetryAttempts
// retries, each bounded by Timeout, waiting RetryDelay more before every retry.
func (client *Client) RetryPolicy() retry.Policy {
	return retry.Policy{
		MaxAttempts:       client.configuration.RetryAttempts + 1,
		Delay:             client.configuration.RetryDelay,
		Linear:            true,
		PerAttemptTimeout: client.configuration.Timeout,
	}
}

type trackPayload struct {
	Event       string         `json:"event"`
	MessageID   string         `json:"messageId"`
	UserID      string         `json:"userId,omitempty"`
	AnonymousID string         `json:"anonymousId,omitempty"`
	Properties  map[string]any `json:"properties"`
	Context     map[string]any `json:"context"`
	Timestamp   string         `json:"timestamp"`
}

// SendEvent posts event to the data plane authenticated by writeKey. Transport failures,
// 5xx and 429 responses are retried; other rejections fail at once with a ValidationError.
func (client *Client) SendEvent(ctx context.Context, event testdata.Event, writeKey string, dataPlaneURL string) (DeliveryReceipt, error) {
	trimmedWriteKey := strings.TrimSpace(writeKey)
	if trimmedWriteKey == "" {
		return DeliveryReceipt{}, &failures.ValidationError{Operation: operationSendEvent, Message: "write key is empty"}
	}
	endpoint, endpointErr := joinURL(dataPlaneURL, trackPath)
	if endpointErr != nil {
		return DeliveryReceipt{}, &failures.ValidationError{Operation: operationSendEvent, Message: "data plane URL is invalid", Err: endpointErr}
	}
	if validationErr := testdata.ValidateEvent(event); validationErr != nil {
		return DeliveryReceipt{}, validationErr
	}

	payload := trackPayload{
		Event:       event.Name,
		MessageID:   uuid.NewString(),
		UserID:      event.UserID,
		AnonymousID: event.AnonymousID,
		Properties:  nonNilBag(event.Properties),
		Context:     nonNilBag(event.Context),
		Timestamp:   event.Timestamp.UTC().Format(time.RFC3339Nano),
	}
	body, encodeErr := json.Marshal(payload)
	if encodeErr != nil {
		return DeliveryReceipt{}, &failures.ValidationError{Operation: operationSendEvent, Message: errorMessageEncode, Err: encodeErr}
	}

	policy := client.RetryPolicy()
	policy.OnRetry = func(attempt int, err error) {
		client.logger.Warn(logEventSendRetry,
			zap.String("event", event.Name),
			zap.Int("attempt", attempt),
			zap.String("error_kind", string(failures.KindOf(err))),
			zap.Error(err),
		)
	}

	attempts := 0
	receipt, sendErr := retry.Do(ctx, policy, func(attemptContext context.Context) (DeliveryReceipt, error) {
		attempts++
		return client.postTrack(attemptContext, endpoint, trimmedWriteKey, body)
	})
	if sendErr != nil {
		client.logger.Error(logEventSendFailed,
			zap.String("event", event.Name),
			zap.Int("attempts", attempts),
			zap.String("error_kind", string(failures.KindOf(sendErr))),
			zap.Error(sendErr),
		)
		return DeliveryReceipt{Attempts: attempts}, sendErr
	}

	receipt.Attempts = attempts
	receipt.MessageID = payload.MessageID
	client.logger.Info(logEventSent,
		zap.String("event", event.Name),
		zap.Int("status_code", receipt.StatusCode),
		zap.Int("attempts", attempts),
	)
	return receipt, nil
}

func (client *Client) postTrack(ctx context.Context, endpoint string, writeKey string, body []byte) (DeliveryReceipt, error) {
	request, requestErr := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, bytes.NewReader(body))
	if requestErr != nil {
		return DeliveryReceipt{}, &failures.ValidationError{Operation: operationSendEvent, Message: errorMessageRequest, Err: requestErr}
	}
	request.SetBasicAuth(writeKey, "")
	request.Header.Set(headerContentType, contentTypeJSON)
	request.Header.Set(headerUserAgent, UserAgent)

	response, responseErr := client.httpClient.Do(request)
	if responseErr != nil {
		return DeliveryReceipt{}, &failures.TransportError{Operation: operationSendEvent, URL: endpoint, Err: responseErr}
	}
	defer response.Body.Close()

	if classifiedErr := classifyStatus(operationSendEvent, endpoint, response); classifiedErr != nil {
		return DeliveryReceipt{}, classifiedErr
	}

	responseBody, readErr := io.ReadAll(io.LimitReader(response.Body, maxResponseBodyBytes))
	if readErr != nil {
		return DeliveryReceipt{}, &failures.TransportError{Operation: operationSendEvent, URL: endpoint, StatusCode: response.StatusCode, Err: readErr}
	}
	return DeliveryReceipt{
		StatusCode: response.StatusCode,
		EventID:    response.Header.Get(headerEventID),
		Body:       decodeBody(responseBody),
	}, nil
}

// GetDeliveryStats reads the destination's counters once. Callers poll through delivery.Await.
func (client *Client) GetDeliveryStats(ctx context.Context, destinationID string) (delivery.Stats, error) {
	var stats delivery.Stats
	if fetchErr := client.getJSON(ctx, operationDeliveryStats, destinationStatsPathFmt, destinationID, &stats); fetchErr != nil {
		return delivery.Stats{}, fetchErr
	}
	client.logger.Debug(logEventStatsRead,
		zap.String("destination_id", destinationID),
		zap.Int("delivered", stats.Received),
		zap.Int("failed", stats.Failed),
		zap.Int("total", stats.Total),
	)
	return stats, nil
}

// GetDestinationEvents returns the payloads a destination has received, newest first.
func (client *Client) GetDestinationEvents(ctx context.Context, destinationID string) ([]map[string]any, error) {
	var events []map[string]any
	if fetchErr := client.getJSON(ctx, operationDestinationEvent, destinationEventsPathFmt, destinationID, &events); fetchErr != nil {
		return nil, fetchErr
	}
	return events, nil
}

// StatsReader adapts GetDeliveryStats for delivery.Await.
func (client *Client) StatsReader(destinationID string) delivery.Reader {
	return func(ctx context.Context) (delivery.Stats, error) {
		return client.GetDeliveryStats(ctx, destinationID)
	}
}

func (client *Client) getJSON(ctx context.Context, operation string, pathFormat string, destinationID string, target any) error {
	if client.configuration.WebhookURL == "" {
		return &failures.ConfigurationError{Missing: []string{config.EnvironmentKeyWebhookURL}, Detail: errorMessageWebhook}
	}
	trimmedDestination := strings.TrimSpace(destinationID)
	if trimmedDestination == "" {
		return &failures.ValidationError{Operation: operation, Message: "destination id is empty"}
	}
	endpoint, endpointErr := joinURL(client.configuration.WebhookURL, fmt.Sprintf(pathFormat, url.PathEscape(trimmedDestination)))
	if endpointErr != nil {
		return &failures.ConfigurationError{Detail: errorMessageWebhook, Err: endpointErr}
	}

	requestContext, cancel := context.WithTimeout(ctx, client.configuration.Timeout)
	defer cancel()

	request, requestErr := http.NewRequestWithContext(requestContext, http.MethodGet, endpoint, nil)
	if requestErr != nil {
		return &failures.ValidationError{Operation: operation, Message: errorMessageRequest, Err: requestErr}
	}
	request.Header.Set(headerUserAgent, UserAgent)

	response, responseErr := client.httpClient.Do(request)
	if responseErr != nil {
		return &failures.TransportError{Operation: operation, URL: endpoint, Err: responseErr}
	}
	defer response.Body.Close()

	if classifiedErr := classifyStatus(operation, endpoint, response); classifiedErr != nil {
		return classifiedErr
	}
	if decodeErr := json.NewDecoder(io.LimitReader(response.Body, maxResponseBodyBytes)).Decode(target); decodeErr != nil {
		return &failures.TransportError{Operation: operation, URL: endpoint, StatusCode: response.StatusCode, Err: fmt.Errorf("%s: %w", errorMessageDecode, decodeErr)}
	}
	return nil
}

// classifyStatus maps 5xx and 429 to TransportError and other non-2xx to ValidationError.
func classifyStatus(operation string, endpoint string, response *http.Response) error {
	if response.StatusCode >= 200 && response.StatusCode < 300 {
		return nil
	}
	if response.StatusCode == http.StatusTooManyRequests || response.StatusCode >= 500 {
		return &failures.TransportError{Operation: operation, URL: endpoint, StatusCode: response.StatusCode}
	}
	snippet, _ := io.ReadAll(io.LimitReader(response.Body, maxErrorBodyBytes))
	return &failures.ValidationError{
		Operation:  operation,
		StatusCode: response.StatusCode,
		Message:    strings.TrimSpace(string(snippet)),
	}
}

func decodeBody(body []byte) map[string]any {
	trimmed := bytes.TrimSpace(body)
	if len(trimmed) == 0 {
		return map[string]any{}
	}
	decoded := map[string]any{}
	if decodeErr := json.Unmarshal(trimmed, &decoded); decodeErr != nil {
		return map[string]any{rawBodyKey: string(trimmed)}
	}
	return decoded
}

func joinURL(base string, path string) (string, error) {
	trimmedBase := strings.TrimRight(strings.TrimSpace(base), "/")
	parsed, parseErr := url.Parse(trimmedBase)
	if parseErr != nil {
		return "", parseErr
	}
	if parsed.Host == "" || (parsed.Scheme != "http" && parsed.Scheme != "https") {
		return "", fmt.Errorf("%q is not an absolute http(s) URL", base)
	}
	return trimmedBase + path, nil
}

func nonNilBag(bag map[string]any) map[string]any {
	if bag == nil {
		return map[string]any{}
	}
	return bag
}
