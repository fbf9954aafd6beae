package scenario

import (
	"context"

	"go.uber.org/zap"

	"github.com/MarkoPoloResearchLab/flowcheck/internal/apiclient"
	"github.com/MarkoPoloResearchLab/flowcheck/internal/browser"
	"github.com/MarkoPoloResearchLab/flowcheck/internal/config"
	"github.com/MarkoPoloResearchLab/flowcheck/internal/delivery"
	"github.com/MarkoPoloResearchLab/flowcheck/internal/pages"
	"github.com/MarkoPoloResearchLab/flowcheck/internal/testdata"
)

// EventAPI is the part of the API client a scenario uses.
type EventAPI interface {
	SendEvent(ctx context.Context, event testdata.Event, writeKey string, dataPlaneURL string) (apiclient.DeliveryReceipt, error)
	GetDeliveryStats(ctx context.Context, destinationID string) (delivery.Stats, error)
}

// SessionFactory opens the browser page a scenario owns. The returned function releases it.
type SessionFactory func(ctx context.Context, configuration config.BrowserConfig, logger *zap.Logger) (browser.Page, func(), error)

// APIFactory builds the API client a scenario owns.
type APIFactory func(configuration config.APIConfig, logger *zap.Logger) EventAPI

// Harness is everything one scenario execution works with. It belongs to a single
// scenario and is never shared.
type Harness struct {
	Config      *config.ResolvedConfig
	Definition  testdata.ScenarioDefinition
	Actor       *browser.Actor
	Login       *pages.LoginPage
	Connections *pages.ConnectionsPage
	Webhook     *pages.WebhookDestinationPage
	API         EventAPI
	Data        *testdata.Generator
	Logger      *zap.Logger
}

func newHarness(configuration *config.ResolvedConfig, definition testdata.ScenarioDefinition, actor *browser.Actor, api EventAPI, data *testdata.Generator, logger *zap.Logger) *Harness {
	return &Harness{
		Config:      configuration,
		Definition:  definition,
		Actor:       actor,
		Login:       pages.NewLoginPage(actor, configuration.BaseURL, logger),
		Connections: pages.NewConnectionsPage(actor, configuration.BaseURL, logger),
		Webhook:     pages.NewWebhookDestinationPage(actor, logger),
		API:         api,
		Data:        data,
		Logger:      logger,
	}
}

// ChromedpSessions opens a real browser per scenario.
func ChromedpSessions(ctx context.Context, configuration config.BrowserConfig, logger *zap.Logger) (browser.Page, func(), error) {
	session, sessionErr := browser.NewSession(ctx, configuration, logger)
	if sessionErr != nil {
		return nil, nil, sessionErr
	}
	return session, session.Close, nil
}

// HTTPClients builds a fresh API client per scenario.
func HTTPClients(configuration config.APIConfig, logger *zap.Logger) EventAPI {
	return apiclient.NewClient(configuration, nil, logger)
}
