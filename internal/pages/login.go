package pages

import (
	"context"
	"time"

	"go.uber.org/zap"

	"github.com/MarkoPoloResearchLab/flowcheck/internal/browser"
	"github.com/MarkoPoloResearchLab/flowcheck/internal/failures"
)

const (
	loginPath = "/login"

	expectationLoginAccepted = "login accepted"
	expectationLoggedOut     = "user logged out"
	detailLoginRejected      = "login rejected: %s"
	detailLoginUnclear       = "still on the login form after %s"
	detailLogoutMissing      = "no logout control found"
	detailLogoutIneffective  = "still logged in after logout"

	logEventLoginSubmitted = "login_submitted"
	logEventLoginSucceeded = "login_succeeded"
	logEventLoginRejected  = "login_rejected"
	logEventLogoutDone     = "logout_completed"
)

// Login page locators.
var (
	LoginEmailInput    = browser.CSS("email input", "input[type='email'], input[name='email'], #email")
	LoginPasswordInput = browser.CSS("password input", "input[type='password'], input[name='password'], #password")
	LoginSubmitButton  = browser.CSS("login button", "button[type='submit'], input[type='submit'], .login-btn, #login")
	LoginErrorMessage  = browser.CSS("login error", ".error-message, .alert-danger, .invalid-feedback")
	LoggedInIndicator  = browser.CSS("logged-in indicator", ".user-menu, .profile-menu, .account-menu, [data-testid='user-menu'], .dashboard, .home-page, [href*='logout']")
	LogoutControl      = browser.CSS("logout control", "[href*='logout'], .logout-btn, [data-testid='logout'], button[onclick*='logout']")
)

// LoginPage signs a user in and out.
type LoginPage struct {
	actor    *browser.Actor
	loginURL string
	logger   *zap.Logger
	timing   timing
}

func NewLoginPage(actor *browser.Actor, baseURL string, logger *zap.Logger) *LoginPage {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &LoginPage{actor: actor, loginURL: joinURL(baseURL, loginPath), logger: logger, timing: defaultTiming()}
}

// URL is the address Open navigates to.
func (page *LoginPage) URL() string {
	return page.loginURL
}

// Open navigates to the login form and waits for the email field.
func (page *LoginPage) Open(ctx context.Context) error {
	if navigateErr := page.actor.Navigate(ctx, page.loginURL); navigateErr != nil {
		return navigateErr
	}
	return page.actor.WaitFor(ctx, LoginEmailInput)
}

// IsLoaded reports whether the login form is shown.
func (page *LoginPage) IsLoaded(ctx context.Context) bool {
	return page.actor.IsPresent(ctx, LoginEmailInput, page.timing.probe) &&
		page.actor.IsPresent(ctx, LoginPasswordInput, page.timing.probe)
}

// Login submits the credentials and waits for the outcome. A displayed error or a login
// form that never goes away is an AssertionFailure.
func (page *LoginPage) Login(ctx context.Context, email string, password string) error {
	if openErr := page.Open(ctx); openErr != nil {
		return openErr
	}
	if typeErr := page.actor.Type(ctx, LoginEmailInput, email); typeErr != nil {
		return typeErr
	}
	if typeErr := page.actor.Type(ctx, LoginPasswordInput, password); typeErr != nil {
		return typeErr
	}
	if clickErr := page.actor.Click(ctx, LoginSubmitButton); clickErr != nil {
		return clickErr
	}
	page.logger.Info(logEventLoginSubmitted, zap.String(logFieldURL, page.loginURL))
	return page.awaitOutcome(ctx)
}

func (page *LoginPage) awaitOutcome(ctx context.Context) error {
	outcomeTimeout := page.actor.ActionTimeout()
	deadline := time.Now().Add(outcomeTimeout)
	for {
		if message, shown := page.ErrorMessage(ctx); shown {
			page.logger.Warn(logEventLoginRejected, zap.String(logFieldErrorMessage, message))
			return failures.Assertf(expectationLoginAccepted, detailLoginRejected, message)
		}
		if !page.IsLoaded(ctx) {
			page.logger.Info(logEventLoginSucceeded)
			return nil
		}
		if !time.Now().Before(deadline) {
			return failures.Assertf(expectationLoginAccepted, detailLoginUnclear, outcomeTimeout)
		}
		if sleepErr := sleep(ctx, page.timing.outcomePoll); sleepErr != nil {
			return sleepErr
		}
	}
}

// ErrorMessage returns the login error text when one is displayed.
func (page *LoginPage) ErrorMessage(ctx context.Context) (string, bool) {
	if !page.actor.IsPresent(ctx, LoginErrorMessage, page.timing.probe) {
		return "", false
	}
	message, readErr := page.actor.Page().Text(ctx, LoginErrorMessage)
	if readErr != nil {
		return "", false
	}
	return message, true
}

// IsLoggedIn reports whether the login form is gone and a signed-in control is shown.
func (page *LoginPage) IsLoggedIn(ctx context.Context) bool {
	if page.IsLoaded(ctx) {
		return false
	}
	return page.actor.IsPresent(ctx, LoggedInIndicator, page.timing.probe)
}

// Logout signs out when a user is signed in. It is a no-op otherwise.
func (page *LoginPage) Logout(ctx context.Context) error {
	if !page.IsLoggedIn(ctx) {
		return nil
	}
	if !page.actor.IsPresent(ctx, LogoutControl, page.timing.probe) {
		return failures.Assertf(expectationLoggedOut, detailLogoutMissing)
	}
	if clickErr := page.actor.Click(ctx, LogoutControl); clickErr != nil {
		return clickErr
	}
	if sleepErr := sleep(ctx, page.timing.settle); sleepErr != nil {
		return sleepErr
	}
	if page.IsLoggedIn(ctx) {
		return failures.Assertf(expectationLoggedOut, detailLogoutIneffective)
	}
	page.logger.Info(logEventLogoutDone)
	return nil
}
