package pages

import (
	"context"
	"strings"

	"go.uber.org/zap"

	"github.com/MarkoPoloResearchLab/flowcheck/internal/browser"
	"github.com/MarkoPoloResearchLab/flowcheck/internal/failures"
)

const (
	connectionsPath = "/connections"

	fieldName     = "name"
	fieldType     = "type"
	fieldWriteKey = "write_key"

	expectationConnectionsLoaded = "connections page loaded"
	expectationDataPlaneURL      = "data plane URL displayed"
	expectationWriteKey          = "HTTP source write key displayed"
	expectationWebhookListed     = "webhook destination listed"
	detailNoDataPlaneURL         = "no http(s) URL in %d candidate elements"
	detailNoWriteKey             = "no HTTP source with a write key among %d sources (name %q)"
	detailNoWebhook              = "no webhook destination among %d destinations (name %q)"
	detailNavigationFailed       = "neither %s nor the navigation link showed the page"

	logEventConnectionsOpened  = "connections_page_opened"
	logEventDataPlaneFound     = "data_plane_url_found"
	logEventSourcesListed      = "sources_listed"
	logEventDestinationsListed = "destinations_listed"
	logEventWebhookOpened      = "webhook_destination_opened"
)

// Connections page locators. Data plane candidates are tried in order.
var (
	ConnectionsNavLink     = browser.CSS("connections link", "a[href*='connections'], a[href*='sources'], .connections-nav, [data-testid='connections']")
	ConnectionsLoaded      = browser.CSS("connections content", ".sources-section, .sources-list, [data-testid='sources'], .destinations-section, .destinations-list, [data-testid='destinations'], .connections-page, [data-testid='connections-page']")
	SourceItem             = browser.CSS("source item", ".source-item, .source-card, [data-testid*='source']")
	DestinationItem        = browser.CSS("destination item", ".destination-item, .destination-card, [data-testid*='destination']")
	SourceSearchInput      = browser.CSS("source search", "input[placeholder*='search'], input[type='search'], .search-input")
	DataPlaneURLCandidates = []browser.Locator{
		browser.CSS("data plane url", ".data-plane-url, [data-testid='data-plane-url'], .endpoint-url"),
		browser.CSS("api endpoint", ".endpoint, .api-endpoint"),
		browser.CSS("data plane test id", "[data-testid='data-plane']"),
		browser.CSS("url display", ".url-display, .endpoint-url"),
		browser.CSS("code block", "code, .code-block"),
		browser.XPath("endpoint text", "//*[contains(text(), 'dataplane') or contains(text(), 'endpoint')]"),
	}
)

var (
	sourceFields = map[string]string{
		fieldName:     ".source-name, .source-title, h3, h4",
		fieldType:     ".source-type, .source-category, .badge",
		fieldWriteKey: ".write-key, .api-key, [data-testid='write-key'], .key-value",
	}
	destinationFields = map[string]string{
		fieldName: ".destination-name, .destination-title, h3, h4",
		fieldType: ".destination-type, .destination-category, .badge",
	}
	httpSourceTypes         = []string{"http", "webhook", "api"}
	webhookDestinationTypes = []string{"webhook", "http"}
)

// Source is one row of the sources list.
type Source struct {
	Name     string
	Type     string
	WriteKey string
}

// IsHTTP reports whether the source accepts events over HTTP.
func (source Source) IsHTTP() bool {
	return containsFold(httpSourceTypes, source.Type)
}

// Destination is one row of the destinations list.
type Destination struct {
	Name string
	Type string

	position int
}

// IsWebhook reports whether the destination forwards events to a webhook.
func (destination Destination) IsWebhook() bool {
	return containsFold(webhookDestinationTypes, destination.Type)
}

// ConnectionsPage lists sources and destinations.
type ConnectionsPage struct {
	actor          *browser.Actor
	connectionsURL string
	logger         *zap.Logger
	timing         timing
}

func NewConnectionsPage(actor *browser.Actor, baseURL string, logger *zap.Logger) *ConnectionsPage {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &ConnectionsPage{actor: actor, connectionsURL: joinURL(baseURL, connectionsPath), logger: logger, timing: defaultTiming()}
}

// Open navigates to the connections page, falling back to the navigation link when the
// direct URL does not show it.
func (page *ConnectionsPage) Open(ctx context.Context) error {
	if navigateErr := page.actor.Navigate(ctx, page.connectionsURL); navigateErr != nil {
		return navigateErr
	}
	if page.IsLoaded(ctx) {
		page.logger.Info(logEventConnectionsOpened, zap.String(logFieldURL, page.connectionsURL))
		return nil
	}
	if !page.actor.IsPresent(ctx, ConnectionsNavLink, page.timing.probe) {
		return failures.Assertf(expectationConnectionsLoaded, detailNavigationFailed, page.connectionsURL)
	}
	if clickErr := page.actor.Click(ctx, ConnectionsNavLink); clickErr != nil {
		return clickErr
	}
	if waitErr := page.actor.WaitFor(ctx, ConnectionsLoaded); waitErr != nil {
		return waitErr
	}
	page.logger.Info(logEventConnectionsOpened, zap.String(logFieldLocator, ConnectionsNavLink.String()))
	return nil
}

func (page *ConnectionsPage) IsLoaded(ctx context.Context) bool {
	return page.actor.IsPresent(ctx, ConnectionsLoaded, page.timing.probe)
}

// DataPlaneURL returns the first http(s) URL shown in the data plane candidates.
func (page *ConnectionsPage) DataPlaneURL(ctx context.Context) (string, error) {
	for _, candidate := range DataPlaneURLCandidates {
		if !page.actor.IsPresent(ctx, candidate, page.timing.probe) {
			continue
		}
		text, readErr := page.actor.Page().Text(ctx, candidate)
		if readErr != nil {
			continue
		}
		if dataPlaneURL := httpURLPattern.FindString(text); dataPlaneURL != "" {
			page.logger.Info(logEventDataPlaneFound, zap.String(logFieldURL, dataPlaneURL), zap.String(logFieldLocator, candidate.String()))
			return dataPlaneURL, nil
		}
	}
	return "", failures.Assertf(expectationDataPlaneURL, detailNoDataPlaneURL, len(DataPlaneURLCandidates))
}

// Sources lists the sources shown on the page. An empty list is not an error.
func (page *ConnectionsPage) Sources(ctx context.Context) ([]Source, error) {
	rows, collectErr := page.collect(ctx, SourceItem, sourceFields)
	if collectErr != nil {
		return nil, collectErr
	}
	sources := make([]Source, 0, len(rows))
	for _, row := range rows {
		if strings.TrimSpace(row[fieldName]) == "" {
			continue
		}
		sources = append(sources, Source{Name: row[fieldName], Type: row[fieldType], WriteKey: row[fieldWriteKey]})
	}
	page.logger.Info(logEventSourcesListed, zap.Int(logFieldCount, len(sources)))
	return sources, nil
}

// HTTPSourceWriteKey returns the write key of the first HTTP source, or of the HTTP source
// called name when name is set.
func (page *ConnectionsPage) HTTPSourceWriteKey(ctx context.Context, name string) (string, error) {
	sources, listErr := page.Sources(ctx)
	if listErr != nil {
		return "", listErr
	}
	for _, source := range sources {
		if !source.IsHTTP() || source.WriteKey == "" {
			continue
		}
		if name != "" && !strings.EqualFold(source.Name, name) {
			continue
		}
		return source.WriteKey, nil
	}
	return "", failures.Assertf(expectationWriteKey, detailNoWriteKey, len(sources), name)
}

// Destinations lists the destinations shown on the page.
func (page *ConnectionsPage) Destinations(ctx context.Context) ([]Destination, error) {
	rows, collectErr := page.collect(ctx, DestinationItem, destinationFields)
	if collectErr != nil {
		return nil, collectErr
	}
	destinations := make([]Destination, 0, len(rows))
	for index, row := range rows {
		if strings.TrimSpace(row[fieldName]) == "" {
			continue
		}
		destinations = append(destinations, Destination{Name: row[fieldName], Type: row[fieldType], position: index})
	}
	page.logger.Info(logEventDestinationsListed, zap.Int(logFieldCount, len(destinations)))
	return destinations, nil
}

// OpenWebhookDestination clicks the first webhook destination, or the one called name.
func (page *ConnectionsPage) OpenWebhookDestination(ctx context.Context, name string) error {
	destinations, listErr := page.Destinations(ctx)
	if listErr != nil {
		return listErr
	}
	for _, destination := range destinations {
		if !destination.IsWebhook() {
			continue
		}
		if name != "" && !strings.EqualFold(destination.Name, name) {
			continue
		}
		if clickErr := page.actor.ClickRow(ctx, DestinationItem, destination.position); clickErr != nil {
			return clickErr
		}
		page.logger.Info(logEventWebhookOpened, zap.String(logFieldName, destination.Name))
		return nil
	}
	return failures.Assertf(expectationWebhookListed, detailNoWebhook, len(destinations), name)
}

// SearchSources types term into the source search box when there is one and lists the
// sources shown afterwards.
func (page *ConnectionsPage) SearchSources(ctx context.Context, term string) ([]Source, error) {
	if page.actor.IsPresent(ctx, SourceSearchInput, page.timing.probe) {
		if typeErr := page.actor.Type(ctx, SourceSearchInput, term); typeErr != nil {
			return nil, typeErr
		}
		if sleepErr := sleep(ctx, page.timing.settle); sleepErr != nil {
			return nil, sleepErr
		}
	}
	sources, listErr := page.Sources(ctx)
	if listErr != nil {
		return nil, listErr
	}
	page.logger.Debug(logEventSourcesListed, zap.String(logFieldSearchTerm, term), zap.Int(logFieldCount, len(sources)))
	return sources, nil
}

func (page *ConnectionsPage) collect(ctx context.Context, item browser.Locator, fields map[string]string) ([]map[string]string, error) {
	if !page.actor.IsPresent(ctx, item, page.timing.probe) {
		return nil, nil
	}
	return page.actor.Collect(ctx, item, fields)
}
