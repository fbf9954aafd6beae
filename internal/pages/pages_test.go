package pages

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/MarkoPoloResearchLab/flowcheck/internal/browser"
	"github.com/MarkoPoloResearchLab/flowcheck/internal/config"
	"github.com/MarkoPoloResearchLab/flowcheck/internal/failures"
	"github.com/MarkoPoloResearchLab/flowcheck/internal/testutil"
)

const (
	testBaseURL      = "https://app.rudderstack.test/"
	testEmail        = "qa@example.com"
	testPassword     = "secret"
	testWriteKey     = "2Ab3CdEfGhIjKlMnOpQrStUvWxYz0123"
	testDataPlaneURL = "https://hosted.rudderlabs.test"
)

var fastTiming = timing{
	probe:        50 * time.Millisecond,
	settle:       0,
	reloadSettle: 0,
	outcomePoll:  5 * time.Millisecond,
}

func newTestActor(testingT *testing.T, page *testutil.FakePage) *browser.Actor {
	testingT.Helper()
	recorder := browser.NewScreenshotRecorder(filepath.Join(testingT.TempDir(), "screenshots"), nil)
	return browser.NewActor(page, config.BrowserConfig{
		ActionTimeout: 100 * time.Millisecond,
		MaxAttempts:   2,
		RetryDelay:    time.Millisecond,
	}, recorder, nil)
}

func TestFirstNumber(testingT *testing.T) {
	testCases := []struct {
		text     string
		expected int
	}{
		{text: "12 delivered", expected: 12},
		{text: "Delivered: 7 of 9", expected: 7},
		{text: "none", expected: 0},
		{text: "", expected: 0},
	}
	for _, testCase := range testCases {
		testCase := testCase
		testingT.Run(testCase.text, func(testingT *testing.T) {
			require.Equal(testingT, testCase.expected, firstNumber(testCase.text))
		})
	}
}

func TestJoinURL(testingT *testing.T) {
	require.Equal(testingT, "https://app.rudderstack.test/login", joinURL(testBaseURL, loginPath))
	require.Equal(testingT, "https://app.rudderstack.test/connections", joinURL("https://app.rudderstack.test", "connections"))
}

func showLoginForm(page *testutil.FakePage) {
	page.Show(LoginEmailInput).Show(LoginPasswordInput).Show(LoginSubmitButton)
}

func TestLoginSucceedsWhenFormGoesAway(testingT *testing.T) {
	fakePage := testutil.NewFakePage()
	showLoginForm(fakePage)
	fakePage.OnClick(LoginSubmitButton, func(page *testutil.FakePage) {
		page.Hide(LoginEmailInput).Hide(LoginPasswordInput).Hide(LoginSubmitButton).Show(LoggedInIndicator)
	})
	loginPage := NewLoginPage(newTestActor(testingT, fakePage), testBaseURL, nil)
	loginPage.timing = fastTiming

	require.NoError(testingT, loginPage.Login(context.Background(), testEmail, testPassword))
	require.Equal(testingT, []string{"https://app.rudderstack.test/login"}, fakePage.Navigations())
	require.Equal(testingT, testEmail, fakePage.Typed()[LoginEmailInput.Query])
	require.Equal(testingT, testPassword, fakePage.Typed()[LoginPasswordInput.Query])
	require.True(testingT, loginPage.IsLoggedIn(context.Background()))
}

func TestLoginRejectedCarriesErrorText(testingT *testing.T) {
	fakePage := testutil.NewFakePage()
	showLoginForm(fakePage)
	fakePage.OnClick(LoginSubmitButton, func(page *testutil.FakePage) {
		page.SetText(LoginErrorMessage, "Invalid email or password")
	})
	loginPage := NewLoginPage(newTestActor(testingT, fakePage), testBaseURL, nil)
	loginPage.timing = fastTiming

	loginErr := loginPage.Login(context.Background(), testEmail, "wrong")

	var assertionFailure *failures.AssertionFailure
	require.ErrorAs(testingT, loginErr, &assertionFailure)
	require.Contains(testingT, assertionFailure.Detail, "Invalid email or password")
	require.False(testingT, failures.IsTransient(loginErr))
	require.False(testingT, loginPage.IsLoggedIn(context.Background()))
}

func TestLoginUnclearOutcomeFailsAfterActionTimeout(testingT *testing.T) {
	fakePage := testutil.NewFakePage()
	showLoginForm(fakePage)
	loginPage := NewLoginPage(newTestActor(testingT, fakePage), testBaseURL, nil)
	loginPage.timing = fastTiming

	startedAt := time.Now()
	loginErr := loginPage.Login(context.Background(), testEmail, testPassword)

	var assertionFailure *failures.AssertionFailure
	require.ErrorAs(testingT, loginErr, &assertionFailure)
	require.Contains(testingT, assertionFailure.Detail, "still on the login form")
	require.Less(testingT, time.Since(startedAt), 2*time.Second)
}

func TestLoginMissingFormIsPageInteractionError(testingT *testing.T) {
	fakePage := testutil.NewFakePage()
	loginPage := NewLoginPage(newTestActor(testingT, fakePage), testBaseURL, nil)
	loginPage.timing = fastTiming

	loginErr := loginPage.Login(context.Background(), testEmail, testPassword)

	var interactionError *failures.PageInteractionError
	require.ErrorAs(testingT, loginErr, &interactionError)
	require.Equal(testingT, LoginEmailInput.Name, interactionError.Locator)
	require.Equal(testingT, 1, fakePage.Screenshots())
}

func TestLogout(testingT *testing.T) {
	fakePage := testutil.NewFakePage().Show(LoggedInIndicator).Show(LogoutControl)
	fakePage.OnClick(LogoutControl, func(page *testutil.FakePage) {
		page.Hide(LoggedInIndicator).Hide(LogoutControl)
		showLoginForm(page)
	})
	loginPage := NewLoginPage(newTestActor(testingT, fakePage), testBaseURL, nil)
	loginPage.timing = fastTiming

	require.NoError(testingT, loginPage.Logout(context.Background()))
	require.True(testingT, loginPage.IsLoaded(context.Background()))
	require.NoError(testingT, loginPage.Logout(context.Background()))
	require.Len(testingT, fakePage.Clicks(), 1)
}

func TestLogoutWithoutControlFails(testingT *testing.T) {
	fakePage := testutil.NewFakePage().Show(LoggedInIndicator)
	loginPage := NewLoginPage(newTestActor(testingT, fakePage), testBaseURL, nil)
	loginPage.timing = fastTiming

	var assertionFailure *failures.AssertionFailure
	require.ErrorAs(testingT, loginPage.Logout(context.Background()), &assertionFailure)
}

func newConnectionsFixture(testingT *testing.T) (*testutil.FakePage, *ConnectionsPage) {
	testingT.Helper()
	fakePage := testutil.NewFakePage().Show(ConnectionsLoaded)
	fakePage.SetRows(SourceItem, []map[string]string{
		{fieldName: "JS SDK", fieldType: "JavaScript", fieldWriteKey: "js-key"},
		{fieldName: "", fieldType: "HTTP", fieldWriteKey: "orphan-key"},
		{fieldName: "HTTP Source", fieldType: "HTTP", fieldWriteKey: testWriteKey},
		{fieldName: "Backend API", fieldType: "api", fieldWriteKey: "api-key"},
	})
	fakePage.SetRows(DestinationItem, []map[string]string{
		{fieldName: "Warehouse", fieldType: "Snowflake"},
		{fieldName: "Request Catcher", fieldType: "Webhook"},
		{fieldName: "Audit Hook", fieldType: "http"},
	})
	connectionsPage := NewConnectionsPage(newTestActor(testingT, fakePage), testBaseURL, nil)
	connectionsPage.timing = fastTiming
	return fakePage, connectionsPage
}

func TestConnectionsOpenDirectURL(testingT *testing.T) {
	fakePage, connectionsPage := newConnectionsFixture(testingT)

	require.NoError(testingT, connectionsPage.Open(context.Background()))
	require.Equal(testingT, []string{"https://app.rudderstack.test/connections"}, fakePage.Navigations())
	require.Empty(testingT, fakePage.Clicks())
}

func TestConnectionsOpenFallsBackToNavigationLink(testingT *testing.T) {
	fakePage := testutil.NewFakePage().Show(ConnectionsNavLink)
	fakePage.OnClick(ConnectionsNavLink, func(page *testutil.FakePage) {
		page.Show(ConnectionsLoaded)
	})
	connectionsPage := NewConnectionsPage(newTestActor(testingT, fakePage), testBaseURL, nil)
	connectionsPage.timing = fastTiming

	require.NoError(testingT, connectionsPage.Open(context.Background()))
	require.Equal(testingT, []string{ConnectionsNavLink.Query}, fakePage.Clicks())
}

func TestConnectionsOpenWithoutPageOrLinkFails(testingT *testing.T) {
	connectionsPage := NewConnectionsPage(newTestActor(testingT, testutil.NewFakePage()), testBaseURL, nil)
	connectionsPage.timing = fastTiming

	var assertionFailure *failures.AssertionFailure
	require.ErrorAs(testingT, connectionsPage.Open(context.Background()), &assertionFailure)
}

func TestDataPlaneURLExtractsFirstHTTPURL(testingT *testing.T) {
	fakePage, connectionsPage := newConnectionsFixture(testingT)
	fakePage.SetText(DataPlaneURLCandidates[0], "no url here")
	fakePage.SetText(DataPlaneURLCandidates[4], "curl -u key: "+testDataPlaneURL+"/v1/track -d '{}'")

	dataPlaneURL, urlErr := connectionsPage.DataPlaneURL(context.Background())
	require.NoError(testingT, urlErr)
	require.Equal(testingT, testDataPlaneURL+"/v1/track", dataPlaneURL)
}

func TestDataPlaneURLMissing(testingT *testing.T) {
	_, connectionsPage := newConnectionsFixture(testingT)

	_, urlErr := connectionsPage.DataPlaneURL(context.Background())
	var assertionFailure *failures.AssertionFailure
	require.ErrorAs(testingT, urlErr, &assertionFailure)
}

func TestSourcesSkipsUnnamedRows(testingT *testing.T) {
	_, connectionsPage := newConnectionsFixture(testingT)

	sources, listErr := connectionsPage.Sources(context.Background())
	require.NoError(testingT, listErr)
	require.Equal(testingT, []Source{
		{Name: "JS SDK", Type: "JavaScript", WriteKey: "js-key"},
		{Name: "HTTP Source", Type: "HTTP", WriteKey: testWriteKey},
		{Name: "Backend API", Type: "api", WriteKey: "api-key"},
	}, sources)
}

func TestSourcesEmptyPage(testingT *testing.T) {
	connectionsPage := NewConnectionsPage(newTestActor(testingT, testutil.NewFakePage()), testBaseURL, nil)
	connectionsPage.timing = fastTiming

	sources, listErr := connectionsPage.Sources(context.Background())
	require.NoError(testingT, listErr)
	require.Empty(testingT, sources)
}

func TestHTTPSourceWriteKey(testingT *testing.T) {
	testCases := []struct {
		name        string
		sourceName  string
		expectedKey string
		expectError bool
	}{
		{name: "first http source", sourceName: "", expectedKey: testWriteKey},
		{name: "named api source", sourceName: "backend api", expectedKey: "api-key"},
		{name: "named non http source", sourceName: "JS SDK", expectError: true},
		{name: "unknown source", sourceName: "missing", expectError: true},
	}
	for _, testCase := range testCases {
		testCase := testCase
		testingT.Run(testCase.name, func(testingT *testing.T) {
			_, connectionsPage := newConnectionsFixture(testingT)
			writeKey, keyErr := connectionsPage.HTTPSourceWriteKey(context.Background(), testCase.sourceName)
			if testCase.expectError {
				var assertionFailure *failures.AssertionFailure
				require.ErrorAs(testingT, keyErr, &assertionFailure)
				return
			}
			require.NoError(testingT, keyErr)
			require.Equal(testingT, testCase.expectedKey, writeKey)
		})
	}
}

func TestOpenWebhookDestinationClicksMatchingRow(testingT *testing.T) {
	testCases := []struct {
		name             string
		destinationName  string
		expectedRowClick string
	}{
		{name: "first webhook", destinationName: "", expectedRowClick: DestinationItem.Query + "#1"},
		{name: "named http destination", destinationName: "audit hook", expectedRowClick: DestinationItem.Query + "#2"},
	}
	for _, testCase := range testCases {
		testCase := testCase
		testingT.Run(testCase.name, func(testingT *testing.T) {
			fakePage, connectionsPage := newConnectionsFixture(testingT)
			require.NoError(testingT, connectionsPage.OpenWebhookDestination(context.Background(), testCase.destinationName))
			require.Equal(testingT, []string{testCase.expectedRowClick}, fakePage.RowClicks())
		})
	}
}

func TestOpenWebhookDestinationMissing(testingT *testing.T) {
	fakePage, connectionsPage := newConnectionsFixture(testingT)

	openErr := connectionsPage.OpenWebhookDestination(context.Background(), "Warehouse")
	var assertionFailure *failures.AssertionFailure
	require.ErrorAs(testingT, openErr, &assertionFailure)
	require.Empty(testingT, fakePage.RowClicks())
}

func TestSearchSourcesTypesTerm(testingT *testing.T) {
	fakePage, connectionsPage := newConnectionsFixture(testingT)
	fakePage.Show(SourceSearchInput)

	sources, searchErr := connectionsPage.SearchSources(context.Background(), "HTTP")
	require.NoError(testingT, searchErr)
	require.Equal(testingT, "HTTP", fakePage.Typed()[SourceSearchInput.Query])
	require.Len(testingT, sources, 3)
}

func newWebhookFixture(testingT *testing.T, fakePage *testutil.FakePage) *WebhookDestinationPage {
	testingT.Helper()
	webhookPage := NewWebhookDestinationPage(newTestActor(testingT, fakePage), nil)
	webhookPage.timing = fastTiming
	return webhookPage
}

func TestDeliveryStatsFromCounters(testingT *testing.T) {
	fakePage := testutil.NewFakePage().
		SetText(DeliveredCount, "5 delivered").
		SetText(FailedCount, "Failed: 1").
		SetText(TotalCount, "6 events")
	webhookPage := newWebhookFixture(testingT, fakePage)

	stats, statsErr := webhookPage.DeliveryStats(context.Background())
	require.NoError(testingT, statsErr)
	require.Equal(testingT, 5, stats.Received)
	require.Equal(testingT, 1, stats.Failed)
	require.Equal(testingT, 6, stats.Total)
}

func TestDeliveryStatsCountsRowsWithoutTotal(testingT *testing.T) {
	fakePage := testutil.NewFakePage().SetRows(EventItem, []map[string]string{
		{fieldStatus: "Delivered"},
		{fieldStatus: "200"},
		{fieldStatus: "success"},
		{fieldStatus: "500 Internal Server Error"},
	})
	webhookPage := newWebhookFixture(testingT, fakePage)

	stats, statsErr := webhookPage.DeliveryStats(context.Background())
	require.NoError(testingT, statsErr)
	require.Equal(testingT, 3, stats.Received)
	require.Equal(testingT, 1, stats.Failed)
	require.Equal(testingT, 4, stats.Total)
	require.InDelta(testingT, 75.0, stats.SuccessRate(), 0.001)
}

func TestDeliveryStatsKeepsDeliveredCounterWithoutTotal(testingT *testing.T) {
	testCases := []struct {
		name              string
		rows              []map[string]string
		expectedDelivered int
		expectedTotal     int
	}{
		{name: "no rows", rows: nil, expectedDelivered: 4, expectedTotal: 5},
		{name: "fewer delivered rows", rows: []map[string]string{{fieldStatus: "delivered"}, {fieldStatus: "failed"}}, expectedDelivered: 4, expectedTotal: 5},
		{name: "rows count more", rows: []map[string]string{
			{fieldStatus: "delivered"}, {fieldStatus: "delivered"}, {fieldStatus: "200"},
			{fieldStatus: "success"}, {fieldStatus: "delivered"}, {fieldStatus: "failed"},
		}, expectedDelivered: 5, expectedTotal: 6},
	}

	for _, testCase := range testCases {
		testCase := testCase
		testingT.Run(testCase.name, func(testingT *testing.T) {
			fakePage := testutil.NewFakePage().
				SetText(DeliveredCount, "4 delivered").
				SetText(FailedCount, "1 failed")
			if testCase.rows != nil {
				fakePage.SetRows(EventItem, testCase.rows)
			}
			webhookPage := newWebhookFixture(testingT, fakePage)

			stats, statsErr := webhookPage.DeliveryStats(context.Background())
			require.NoError(testingT, statsErr)
			require.Equal(testingT, testCase.expectedDelivered, stats.Received)
			require.Equal(testingT, testCase.expectedTotal, stats.Total)
		})
	}
}

func TestDeliveryStatsEmptyPage(testingT *testing.T) {
	webhookPage := newWebhookFixture(testingT, testutil.NewFakePage())

	stats, statsErr := webhookPage.DeliveryStats(context.Background())
	require.NoError(testingT, statsErr)
	require.Zero(testingT, stats.Total)
}

func TestRefreshPrefersButton(testingT *testing.T) {
	withButton := testutil.NewFakePage().Show(RefreshButton)
	require.NoError(testingT, newWebhookFixture(testingT, withButton).Refresh(context.Background()))
	require.Equal(testingT, []string{RefreshButton.Query}, withButton.Clicks())
	require.Zero(testingT, withButton.Reloads())

	withoutButton := testutil.NewFakePage()
	require.NoError(testingT, newWebhookFixture(testingT, withoutButton).Refresh(context.Background()))
	require.Equal(testingT, 1, withoutButton.Reloads())
}

func TestOpenEventsTab(testingT *testing.T) {
	withTab := testutil.NewFakePage().Show(EventsTab)
	require.NoError(testingT, newWebhookFixture(testingT, withTab).OpenEventsTab(context.Background()))
	require.Equal(testingT, []string{EventsTab.Query}, withTab.Clicks())

	inlineEvents := testutil.NewFakePage().Show(EventsSection)
	require.NoError(testingT, newWebhookFixture(testingT, inlineEvents).OpenEventsTab(context.Background()))

	var assertionFailure *failures.AssertionFailure
	require.ErrorAs(testingT, newWebhookFixture(testingT, testutil.NewFakePage()).OpenEventsTab(context.Background()), &assertionFailure)
}

func TestLatestEvent(testingT *testing.T) {
	fakePage := testutil.NewFakePage().SetRows(EventItem, []map[string]string{
		{fieldStatus: "delivered", fieldTimestamp: "10:02", fieldPayload: `{"event":"purchase"}`},
		{fieldStatus: "failed", fieldTimestamp: "10:01"},
	})
	webhookPage := newWebhookFixture(testingT, fakePage)

	latest, found, latestErr := webhookPage.LatestEvent(context.Background())
	require.NoError(testingT, latestErr)
	require.True(testingT, found)
	require.Equal(testingT, DestinationEvent{Status: "delivered", Timestamp: "10:02", Payload: `{"event":"purchase"}`}, latest)

	_, emptyFound, emptyErr := newWebhookFixture(testingT, testutil.NewFakePage()).LatestEvent(context.Background())
	require.NoError(testingT, emptyErr)
	require.False(testingT, emptyFound)
}

func TestAwaitDeliveredRefreshesBetweenReads(testingT *testing.T) {
	fakePage := testutil.NewFakePage().SetText(TotalCount, "1").SetText(DeliveredCount, "0")
	fakePage.OnReload(func(page *testutil.FakePage) {
		if page.Reloads() >= 2 {
			page.SetText(DeliveredCount, "1")
		}
	})
	webhookPage := newWebhookFixture(testingT, fakePage)

	stats, awaitErr := webhookPage.AwaitDelivered(context.Background(), 1, 2*time.Second, 5*time.Millisecond)
	require.NoError(testingT, awaitErr)
	require.Equal(testingT, 1, stats.Received)
	require.Equal(testingT, 2, fakePage.Reloads())
}

func TestAwaitDeliveredTimesOut(testingT *testing.T) {
	fakePage := testutil.NewFakePage().SetText(TotalCount, "3").SetText(DeliveredCount, "1")
	webhookPage := newWebhookFixture(testingT, fakePage)

	stats, awaitErr := webhookPage.AwaitDelivered(context.Background(), 2, 50*time.Millisecond, 5*time.Millisecond)
	var assertionFailure *failures.AssertionFailure
	require.ErrorAs(testingT, awaitErr, &assertionFailure)
	require.Equal(testingT, 1, stats.Received)
}

func TestAwaitDeliveredWithStuckRefreshLeavesNoScreenshots(testingT *testing.T) {
	screenshotDirectory := filepath.Join(testingT.TempDir(), "screenshots")
	fakePage := testutil.NewFakePage().
		Show(RefreshButton).
		FailClicks(RefreshButton, errors.New("element not actionable"))
	actor := browser.NewActor(fakePage, config.BrowserConfig{
		ActionTimeout: 100 * time.Millisecond,
		MaxAttempts:   3,
		RetryDelay:    time.Millisecond,
	}, browser.NewScreenshotRecorder(screenshotDirectory, nil), nil)
	webhookPage := NewWebhookDestinationPage(actor, nil)
	webhookPage.timing = fastTiming

	_, awaitErr := webhookPage.AwaitDelivered(context.Background(), 1, 300*time.Millisecond, 20*time.Millisecond)

	var assertionFailure *failures.AssertionFailure
	require.ErrorAs(testingT, awaitErr, &assertionFailure)
	require.Zero(testingT, fakePage.Screenshots())
	_, statErr := os.Stat(screenshotDirectory)
	require.True(testingT, os.IsNotExist(statErr))

	require.Error(testingT, webhookPage.Refresh(context.Background()))
	require.Equal(testingT, 1, fakePage.Screenshots())
}
