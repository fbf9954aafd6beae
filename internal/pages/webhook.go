package pages

import (
	"context"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/MarkoPoloResearchLab/flowcheck/internal/browser"
	"github.com/MarkoPoloResearchLab/flowcheck/internal/delivery"
	"github.com/MarkoPoloResearchLab/flowcheck/internal/failures"
)

const (
	fieldStatus    = "status"
	fieldTimestamp = "timestamp"
	fieldPayload   = "payload"

	expectationEventsTab = "events tab displayed"
	detailNoEventsTab    = "neither the events tab nor the events list is shown"

	logEventEventsTabOpened  = "events_tab_opened"
	logEventEventsListed     = "destination_events_listed"
	logEventCountsRead       = "destination_counts_read"
	logEventEventsRefreshed  = "destination_events_refreshed"
	logFieldDelivered        = "delivered"
	logFieldFailed           = "failed"
	logFieldTotal            = "total"
	logFieldRefreshMechanism = "mechanism"
	refreshMechanismButton   = "button"
	refreshMechanismReload   = "reload"
)

// Webhook destination page locators.
var (
	WebhookPageLoaded = browser.CSS("webhook destination content", ".events-section, .events-list, [data-testid='events'], .webhook-destination-page, [data-testid='webhook-destination'], .destination-details")
	EventsTab         = browser.CSS("events tab", "a[href*='events'], .events-tab, [data-testid='events-tab']")
	EventsSection     = browser.CSS("events section", ".events-section, .events-list, [data-testid='events']")
	EventItem         = browser.CSS("event item", ".event-item, .event-card, [data-testid*='event']")
	DeliveredCount    = browser.CSS("delivered count", ".delivered-count, .success-count, [data-testid='delivered-count']")
	FailedCount       = browser.CSS("failed count", ".failed-count, .error-count, [data-testid='failed-count']")
	TotalCount        = browser.CSS("total count", ".total-count, .events-count, [data-testid='total-count']")
	RefreshButton     = browser.CSS("refresh button", ".refresh-btn, .refresh-button, [data-testid='refresh']")
	EventSearchInput  = browser.CSS("event search", "input[placeholder*='search events'], .search-events")
)

var (
	eventFields = map[string]string{
		fieldStatus:    ".event-status, .status-badge, .delivery-status",
		fieldTimestamp: ".event-timestamp, .event-time, .timestamp",
		fieldPayload:   ".event-payload, .event-data, .payload",
	}
	deliveredStatuses = []string{"delivered", "success", "200"}
)

// DestinationEvent is one row of a destination's event list.
type DestinationEvent struct {
	Status    string
	Timestamp string
	Payload   string
}

// Delivered reports whether the row's status marks a successful delivery.
func (event DestinationEvent) Delivered() bool {
	return containsFold(deliveredStatuses, event.Status)
}

// WebhookDestinationPage reads delivery results of a webhook destination.
type WebhookDestinationPage struct {
	actor  *browser.Actor
	logger *zap.Logger
	timing timing
}

func NewWebhookDestinationPage(actor *browser.Actor, logger *zap.Logger) *WebhookDestinationPage {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &WebhookDestinationPage{actor: actor, logger: logger, timing: defaultTiming()}
}

func (page *WebhookDestinationPage) IsLoaded(ctx context.Context) bool {
	return page.actor.IsPresent(ctx, WebhookPageLoaded, page.timing.probe)
}

// OpenEventsTab clicks the events tab. Pages that list events without a tab are accepted.
func (page *WebhookDestinationPage) OpenEventsTab(ctx context.Context) error {
	if !page.actor.IsPresent(ctx, EventsTab, page.timing.probe) {
		if page.actor.IsPresent(ctx, EventsSection, page.timing.probe) {
			return nil
		}
		return failures.Assertf(expectationEventsTab, detailNoEventsTab)
	}
	if clickErr := page.actor.Click(ctx, EventsTab); clickErr != nil {
		return clickErr
	}
	page.logger.Info(logEventEventsTabOpened)
	return sleep(ctx, page.timing.settle)
}

// Events lists the event rows, newest first as the page shows them.
func (page *WebhookDestinationPage) Events(ctx context.Context) ([]DestinationEvent, error) {
	if !page.actor.IsPresent(ctx, EventItem, page.timing.probe) {
		return nil, nil
	}
	rows, collectErr := page.actor.Collect(ctx, EventItem, eventFields)
	if collectErr != nil {
		return nil, collectErr
	}
	events := make([]DestinationEvent, 0, len(rows))
	for _, row := range rows {
		events = append(events, DestinationEvent{Status: row[fieldStatus], Timestamp: row[fieldTimestamp], Payload: row[fieldPayload]})
	}
	page.logger.Debug(logEventEventsListed, zap.Int(logFieldCount, len(events)))
	return events, nil
}

// LatestEvent returns the first listed event.
func (page *WebhookDestinationPage) LatestEvent(ctx context.Context) (DestinationEvent, bool, error) {
	events, listErr := page.Events(ctx)
	if listErr != nil || len(events) == 0 {
		return DestinationEvent{}, false, listErr
	}
	return events[0], true, nil
}

// SearchEvents filters the event list by term when the page offers a search box.
func (page *WebhookDestinationPage) SearchEvents(ctx context.Context, term string) ([]DestinationEvent, error) {
	if page.actor.IsPresent(ctx, EventSearchInput, page.timing.probe) {
		if typeErr := page.actor.Type(ctx, EventSearchInput, term); typeErr != nil {
			return nil, typeErr
		}
		if sleepErr := sleep(ctx, page.timing.settle); sleepErr != nil {
			return nil, sleepErr
		}
	}
	return page.Events(ctx)
}

// DeliveryStats reads the summary counters. When no total is shown the event rows are
// counted, a delivered status counting as delivered and anything else as failed. A shown
// delivered counter is kept when the rows are missing or count fewer deliveries.
func (page *WebhookDestinationPage) DeliveryStats(ctx context.Context) (delivery.Stats, error) {
	var stats delivery.Stats
	stats.Received = page.readCounter(ctx, DeliveredCount)
	stats.Failed = page.readCounter(ctx, FailedCount)
	stats.Total = page.readCounter(ctx, TotalCount)

	if stats.Total == 0 {
		events, listErr := page.Events(ctx)
		if listErr != nil {
			return delivery.Stats{}, listErr
		}
		counted := countEvents(events)
		if len(events) > 0 && counted.Received >= stats.Received {
			stats = counted
		} else {
			stats.Total = stats.Received + stats.Failed
		}
	}

	page.logger.Debug(logEventCountsRead,
		zap.Int(logFieldDelivered, stats.Received),
		zap.Int(logFieldFailed, stats.Failed),
		zap.Int(logFieldTotal, stats.Total),
	)
	return stats, nil
}

func countEvents(events []DestinationEvent) delivery.Stats {
	stats := delivery.Stats{Total: len(events)}
	for _, event := range events {
		if event.Delivered() {
			stats.Received++
		} else {
			stats.Failed++
		}
	}
	return stats
}

func (page *WebhookDestinationPage) readCounter(ctx context.Context, counter browser.Locator) int {
	if !page.actor.IsPresent(ctx, counter, page.timing.probe) {
		return 0
	}
	text, readErr := page.actor.Page().Text(ctx, counter)
	if readErr != nil {
		return 0
	}
	return firstNumber(strings.TrimSpace(text))
}

// Refresh clicks the refresh button, or reloads the page when there is none.
func (page *WebhookDestinationPage) Refresh(ctx context.Context) error {
	if page.actor.IsPresent(ctx, RefreshButton, page.timing.probe) {
		if clickErr := page.actor.Click(ctx, RefreshButton); clickErr != nil {
			return clickErr
		}
		page.logger.Debug(logEventEventsRefreshed, zap.String(logFieldRefreshMechanism, refreshMechanismButton))
		return sleep(ctx, page.timing.settle)
	}
	if reloadErr := page.actor.Page().Reload(ctx); reloadErr != nil {
		return reloadErr
	}
	page.logger.Debug(logEventEventsRefreshed, zap.String(logFieldRefreshMechanism, refreshMechanismReload))
	return sleep(ctx, page.timing.reloadSettle)
}

// AwaitDelivered polls the page until expected events show as delivered, refreshing before
// every read after the first. Failed reads are retried by the poll, so they leave no
// screenshots; the caller captures one if the wait fails.
func (page *WebhookDestinationPage) AwaitDelivered(ctx context.Context, expected int, timeout time.Duration, interval time.Duration) (delivery.Stats, error) {
	polling := *page
	polling.actor = page.actor.WithoutScreenshots()
	firstRead := true
	read := func(readContext context.Context) (delivery.Stats, error) {
		if !firstRead {
			if refreshErr := polling.Refresh(readContext); refreshErr != nil {
				return delivery.Stats{}, refreshErr
			}
		}
		firstRead = false
		return polling.DeliveryStats(readContext)
	}
	return delivery.Await(ctx, page.logger, read, expected, timeout, interval)
}
