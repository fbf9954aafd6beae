package sink

import (
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/MarkoPoloResearchLab/flowcheck/internal/model"
	"github.com/MarkoPoloResearchLab/flowcheck/internal/storage"
)

const (
	maxPayloadBytes     = 1 << 20
	userAgentMaxLength  = 400
	eventNameMaxLength  = 200
	messageIDMaxLength  = 100
	payloadKeyEvent     = "event"
	payloadKeyType      = "type"
	payloadKeyMessage   = "messageId"
	queryParameterLimit = "limit"
	maxEventListLimit   = 500

	errorValueMissingDestination = "missing_destination"
	errorValuePayloadTooLarge    = "payload_too_large"
	errorValueReadFailed         = "read_failed"
	errorValueInvalidJSON        = "invalid_json"
	errorValueSaveFailed         = "save_failed"
	errorValueQueryFailed        = "query_failed"
	errorValueInvalidLimit       = "invalid_limit"

	logEventRecordDelivery = "record_delivery"
	logEventReadStats      = "read_delivery_stats"
	logEventListDeliveries = "list_deliveries"
)

// Handlers serves the webhook and destination endpoints.
type Handlers struct {
	store   *storage.DeliveryStore
	metrics *Metrics
	logger  *zap.Logger
}

func NewHandlers(store *storage.DeliveryStore, metrics *Metrics, logger *zap.Logger) *Handlers {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Handlers{store: store, metrics: metrics, logger: logger}
}

// eventView is one stored delivery as the events endpoint lists it.
type eventView struct {
	ID         string    `json:"id"`
	Event      string    `json:"event,omitempty"`
	MessageID  string    `json:"message_id,omitempty"`
	Delivered  bool      `json:"delivered"`
	StatusCode int       `json:"status_code"`
	ReceivedAt time.Time `json:"received_at"`
	Payload    any       `json:"payload"`
}

// ReceiveWebhook stores the request body as a delivery. Bodies that are not JSON are
// stored as failed deliveries and answered with 400.
func (handlers *Handlers) ReceiveWebhook(context *gin.Context) {
	destinationID := strings.TrimSpace(context.Param(routeParameterDestination))
	if destinationID == "" {
		context.JSON(http.StatusBadRequest, gin.H{"error": errorValueMissingDestination})
		return
	}

	body, readErr := io.ReadAll(http.MaxBytesReader(context.Writer, context.Request.Body, maxPayloadBytes))
	if readErr != nil {
		handlers.metrics.observe(destinationID, outcomeRejected, 0)
		var maxBytesError *http.MaxBytesError
		if errors.As(readErr, &maxBytesError) {
			context.JSON(http.StatusRequestEntityTooLarge, gin.H{"error": errorValuePayloadTooLarge})
			return
		}
		context.JSON(http.StatusBadRequest, gin.H{"error": errorValueReadFailed})
		return
	}

	var payload any
	decodeErr := json.Unmarshal(body, &payload)
	statusCode := http.StatusOK
	if decodeErr != nil {
		statusCode = http.StatusBadRequest
	}
	eventName, messageID := describePayload(payload)

	webhookDelivery := model.WebhookDelivery{
		DestinationID: destinationID,
		EventName:     truncate(eventName, eventNameMaxLength),
		MessageID:     truncate(messageID, messageIDMaxLength),
		Delivered:     decodeErr == nil,
		StatusCode:    statusCode,
		Payload:       string(body),
		RemoteAddress: context.ClientIP(),
		UserAgent:     truncate(context.Request.UserAgent(), userAgentMaxLength),
	}
	if _, recordErr := handlers.store.Record(context.Request.Context(), webhookDelivery); recordErr != nil {
		handlers.logger.Warn(logEventRecordDelivery, zap.String(logFieldDestination, destinationID), zap.Error(recordErr))
		context.JSON(http.StatusInternalServerError, gin.H{"error": errorValueSaveFailed})
		return
	}

	if decodeErr != nil {
		handlers.metrics.observe(destinationID, outcomeFailed, len(body))
		context.JSON(http.StatusBadRequest, gin.H{"error": errorValueInvalidJSON})
		return
	}
	handlers.metrics.observe(destinationID, outcomeDelivered, len(body))
	context.JSON(http.StatusOK, gin.H{"status": "ok"})
}

// DeliveryStats returns the delivered, failed and total counts of a destination.
func (handlers *Handlers) DeliveryStats(context *gin.Context) {
	destinationID := strings.TrimSpace(context.Param(routeParameterDestination))
	stats, statsErr := handlers.store.Stats(context.Request.Context(), destinationID)
	if statsErr != nil {
		handlers.logger.Warn(logEventReadStats, zap.String(logFieldDestination, destinationID), zap.Error(statsErr))
		context.JSON(http.StatusInternalServerError, gin.H{"error": errorValueQueryFailed})
		return
	}
	context.JSON(http.StatusOK, stats)
}

// DestinationEvents lists the newest deliveries of a destination.
func (handlers *Handlers) DestinationEvents(context *gin.Context) {
	destinationID := strings.TrimSpace(context.Param(routeParameterDestination))
	limit := 0
	if rawLimit := strings.TrimSpace(context.Query(queryParameterLimit)); rawLimit != "" {
		parsedLimit, parseErr := strconv.Atoi(rawLimit)
		if parseErr != nil || parsedLimit <= 0 || parsedLimit > maxEventListLimit {
			context.JSON(http.StatusBadRequest, gin.H{"error": errorValueInvalidLimit})
			return
		}
		limit = parsedLimit
	}

	deliveries, listErr := handlers.store.Recent(context.Request.Context(), destinationID, limit)
	if listErr != nil {
		handlers.logger.Warn(logEventListDeliveries, zap.String(logFieldDestination, destinationID), zap.Error(listErr))
		context.JSON(http.StatusInternalServerError, gin.H{"error": errorValueQueryFailed})
		return
	}

	events := make([]eventView, 0, len(deliveries))
	for _, webhookDelivery := range deliveries {
		var payload any
		if decodeErr := json.Unmarshal([]byte(webhookDelivery.Payload), &payload); decodeErr != nil {
			payload = webhookDelivery.Payload
		}
		events = append(events, eventView{
			ID:         webhookDelivery.ID,
			Event:      webhookDelivery.EventName,
			MessageID:  webhookDelivery.MessageID,
			Delivered:  webhookDelivery.Delivered,
			StatusCode: webhookDelivery.StatusCode,
			ReceivedAt: webhookDelivery.ReceivedAt,
			Payload:    payload,
		})
	}
	context.JSON(http.StatusOK, events)
}

func (handlers *Handlers) Health(context *gin.Context) {
	context.JSON(http.StatusOK, gin.H{"status": "ok"})
}

// describePayload reads the event name and message id of a single event or of the first
// event of a batch.
func describePayload(payload any) (string, string) {
	switch typed := payload.(type) {
	case map[string]any:
		eventName := stringValue(typed, payloadKeyEvent)
		if eventName == "" {
			eventName = stringValue(typed, payloadKeyType)
		}
		return eventName, stringValue(typed, payloadKeyMessage)
	case []any:
		if len(typed) == 0 {
			return "", ""
		}
		return describePayload(typed[0])
	default:
		return "", ""
	}
}

func stringValue(values map[string]any, key string) string {
	text, isString := values[key].(string)
	if !isString {
		return ""
	}
	return strings.TrimSpace(text)
}

func truncate(value string, maxLength int) string {
	if len(value) <= maxLength {
		return value
	}
	return value[:maxLength]
}
