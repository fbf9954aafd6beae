package scenario

import (
	"context"
	"errors"

	"go.uber.org/zap"

	"github.com/MarkoPoloResearchLab/flowcheck/internal/delivery"
	"github.com/MarkoPoloResearchLab/flowcheck/internal/failures"
	"github.com/MarkoPoloResearchLab/flowcheck/internal/testdata"
)

// Catalog ids with a registered flow.
const (
	IDBasicFlow       = "basic_flow"
	IDEventTracking   = "event_tracking"
	IDErrorHandling   = "error_handling"
	IDWebhookDelivery = "webhook_delivery"
	IDEventTypes      = "event_types"
)

const (
	invalidLoginEmail    = "invalid@email.com"
	invalidLoginPassword = "wrongpassword"
	invalidWriteKey      = "invalid_write_key"
	defaultEventName     = "test_event"

	expectationLoggedIn             = "user logged in"
	expectationWebhookLoaded        = "webhook destination page loaded"
	expectationInvalidLogin         = "invalid credentials rejected"
	expectationInvalidWriteKey      = "invalid write key rejected"
	expectationMalformedEvent       = "malformed event rejected"
	expectationAPIStats             = "destination stats report the delivery"
	detailLoginIndicatorMissing     = "no signed-in control after login"
	detailWebhookPageMissing        = "destination details never appeared"
	detailAccepted                  = "accepted with status %d"
	detailUnexpectedRejection       = "rejected as %s instead of validation: %v"
	detailLoginAcceptedInvalidCreds = "login with %s succeeded"

	logEventEventSent     = "scenario_event_sent"
	logEventBaselineRead  = "scenario_baseline_read"
	logEventDeliveryFound = "scenario_delivery_confirmed"
	logFieldEventName     = "event"
	logFieldStatusCode    = "status"
	logFieldDelivered     = "delivered"
	logFieldExpected      = "expected"
)

// Flow executes one scenario against its harness.
type Flow func(ctx context.Context, harness *Harness) error

// DefaultFlows maps catalog ids to their flows.
func DefaultFlows() map[string]Flow {
	return map[string]Flow{
		IDBasicFlow:       basicFlow,
		IDEventTracking:   eventTrackingFlow,
		IDErrorHandling:   errorHandlingFlow,
		IDWebhookDelivery: webhookDeliveryFlow,
		IDEventTypes:      eventTypesFlow,
	}
}

// ingestion is what a signed-in user reads off the connections page to send events.
type ingestion struct {
	dataPlaneURL string
	writeKey     string
}

func signIn(ctx context.Context, harness *Harness) error {
	credentials := harness.Config.Credentials
	if loginErr := harness.Login.Login(ctx, credentials.Email, credentials.Password); loginErr != nil {
		return loginErr
	}
	if !harness.Login.IsLoggedIn(ctx) {
		return failures.Assertf(expectationLoggedIn, detailLoginIndicatorMissing)
	}
	return nil
}

func discoverIngestion(ctx context.Context, harness *Harness) (ingestion, error) {
	if openErr := harness.Connections.Open(ctx); openErr != nil {
		return ingestion{}, openErr
	}
	dataPlaneURL, urlErr := harness.Connections.DataPlaneURL(ctx)
	if urlErr != nil {
		return ingestion{}, urlErr
	}
	writeKey, keyErr := harness.Connections.HTTPSourceWriteKey(ctx, "")
	if keyErr != nil {
		return ingestion{}, keyErr
	}
	return ingestion{dataPlaneURL: dataPlaneURL, writeKey: writeKey}, nil
}

func prepare(ctx context.Context, harness *Harness) (ingestion, error) {
	if signInErr := signIn(ctx, harness); signInErr != nil {
		return ingestion{}, signInErr
	}
	return discoverIngestion(ctx, harness)
}

// openWebhook opens the webhook destination from the connections page.
func openWebhook(ctx context.Context, harness *Harness) error {
	if openErr := harness.Connections.Open(ctx); openErr != nil {
		return openErr
	}
	if clickErr := harness.Connections.OpenWebhookDestination(ctx, ""); clickErr != nil {
		return clickErr
	}
	if !harness.Webhook.IsLoaded(ctx) {
		return failures.Assertf(expectationWebhookLoaded, detailWebhookPageMissing)
	}
	return harness.Webhook.OpenEventsTab(ctx)
}

func send(ctx context.Context, harness *Harness, target ingestion, eventName string) error {
	event := harness.Data.Event(eventName)
	receipt, sendErr := harness.API.SendEvent(ctx, event, target.writeKey, target.dataPlaneURL)
	if sendErr != nil {
		return sendErr
	}
	harness.Logger.Info(logEventEventSent,
		zap.String(logFieldEventName, eventName),
		zap.Int(logFieldStatusCode, receipt.StatusCode),
	)
	return nil
}

func awaitDelivered(ctx context.Context, harness *Harness, expected int) (delivery.Stats, error) {
	run := harness.Config.Run
	stats, awaitErr := harness.Webhook.AwaitDelivered(ctx, expected, run.WebhookTimeout, run.DeliveryPollInterval)
	if awaitErr != nil {
		return stats, awaitErr
	}
	if validationErr := testdata.ValidateStats(stats); validationErr != nil {
		return stats, validationErr
	}
	harness.Logger.Info(logEventDeliveryFound, zap.Int(logFieldDelivered, stats.Received), zap.Int(logFieldExpected, expected))
	return stats, nil
}

func eventNames(harness *Harness) []string {
	if len(harness.Definition.Events) == 0 {
		return []string{defaultEventName}
	}
	return harness.Definition.Events
}

// confirmThroughAPI cross-checks delivery through the destination stats endpoint when one is
// configured.
func confirmThroughAPI(ctx context.Context, harness *Harness, expected int) error {
	destinationID := harness.Config.Run.WebhookDestinationID
	if harness.Config.API.WebhookURL == "" || destinationID == "" {
		return nil
	}
	read := func(readContext context.Context) (delivery.Stats, error) {
		return harness.API.GetDeliveryStats(readContext, destinationID)
	}
	run := harness.Config.Run
	_, awaitErr := delivery.Await(ctx, harness.Logger, read, expected, run.WebhookTimeout, run.DeliveryPollInterval)
	if awaitErr != nil {
		var assertionFailure *failures.AssertionFailure
		if errors.As(awaitErr, &assertionFailure) {
			return &failures.AssertionFailure{Expectation: expectationAPIStats, Detail: assertionFailure.Detail}
		}
		return awaitErr
	}
	return nil
}

func basicFlow(ctx context.Context, harness *Harness) error {
	target, prepareErr := prepare(ctx, harness)
	if prepareErr != nil {
		return prepareErr
	}
	if sendErr := send(ctx, harness, target, eventNames(harness)[0]); sendErr != nil {
		return sendErr
	}
	if openErr := openWebhook(ctx, harness); openErr != nil {
		return openErr
	}
	if _, awaitErr := awaitDelivered(ctx, harness, 1); awaitErr != nil {
		return awaitErr
	}
	return confirmThroughAPI(ctx, harness, 1)
}

func eventTrackingFlow(ctx context.Context, harness *Harness) error {
	target, prepareErr := prepare(ctx, harness)
	if prepareErr != nil {
		return prepareErr
	}
	names := eventNames(harness)
	for _, eventName := range names {
		if sendErr := send(ctx, harness, target, eventName); sendErr != nil {
			return sendErr
		}
	}
	if openErr := openWebhook(ctx, harness); openErr != nil {
		return openErr
	}
	_, awaitErr := awaitDelivered(ctx, harness, len(names))
	return awaitErr
}

func webhookDeliveryFlow(ctx context.Context, harness *Harness) error {
	target, prepareErr := prepare(ctx, harness)
	if prepareErr != nil {
		return prepareErr
	}
	if openErr := openWebhook(ctx, harness); openErr != nil {
		return openErr
	}
	baseline, baselineErr := harness.Webhook.DeliveryStats(ctx)
	if baselineErr != nil {
		return baselineErr
	}
	harness.Logger.Info(logEventBaselineRead, zap.Int(logFieldDelivered, baseline.Received))
	if sendErr := send(ctx, harness, target, eventNames(harness)[0]); sendErr != nil {
		return sendErr
	}
	_, awaitErr := awaitDelivered(ctx, harness, baseline.Received+1)
	return awaitErr
}

func eventTypesFlow(ctx context.Context, harness *Harness) error {
	target, prepareErr := prepare(ctx, harness)
	if prepareErr != nil {
		return prepareErr
	}
	if openErr := openWebhook(ctx, harness); openErr != nil {
		return openErr
	}
	baseline, baselineErr := harness.Webhook.DeliveryStats(ctx)
	if baselineErr != nil {
		return baselineErr
	}
	for index, eventName := range eventNames(harness) {
		if sendErr := send(ctx, harness, target, eventName); sendErr != nil {
			return sendErr
		}
		if _, awaitErr := awaitDelivered(ctx, harness, baseline.Received+index+1); awaitErr != nil {
			return awaitErr
		}
	}
	return nil
}

func errorHandlingFlow(ctx context.Context, harness *Harness) error {
	invalidLoginErr := harness.Login.Login(ctx, invalidLoginEmail, invalidLoginPassword)
	if invalidLoginErr == nil {
		return failures.Assertf(expectationInvalidLogin, detailLoginAcceptedInvalidCreds, invalidLoginEmail)
	}
	var assertionFailure *failures.AssertionFailure
	if !errors.As(invalidLoginErr, &assertionFailure) {
		return invalidLoginErr
	}

	target, prepareErr := prepare(ctx, harness)
	if prepareErr != nil {
		return prepareErr
	}

	invalidKeyEvent := testdata.NewEventBuilder().Name(defaultEventName).Build()
	if rejectionErr := expectRejection(ctx, harness, expectationInvalidWriteKey, invalidKeyEvent, invalidWriteKey, target.dataPlaneURL); rejectionErr != nil {
		return rejectionErr
	}
	malformedEvent := testdata.NewEventBuilder().Name("").Build()
	return expectRejection(ctx, harness, expectationMalformedEvent, malformedEvent, target.writeKey, target.dataPlaneURL)
}

func expectRejection(ctx context.Context, harness *Harness, expectation string, event testdata.Event, writeKey string, dataPlaneURL string) error {
	receipt, sendErr := harness.API.SendEvent(ctx, event, writeKey, dataPlaneURL)
	if sendErr == nil {
		return failures.Assertf(expectation, detailAccepted, receipt.StatusCode)
	}
	var validationError *failures.ValidationError
	if !errors.As(sendErr, &validationError) {
		return failures.Assertf(expectation, detailUnexpectedRejection, failures.KindOf(sendErr), sendErr)
	}
	return nil
}
