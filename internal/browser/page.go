// Package browser drives a Chromium page and wraps every element interaction in the
// page retry policy.
package browser

import (
	"context"
	"strings"
)

// Strategy selects how a locator query is evaluated.
type Strategy string

const (
	StrategyCSS   Strategy = "css"
	StrategyXPath Strategy = "xpath"
)

// Locator names an element on a page.
type Locator struct {
	Name     string
	Query    string
	Strategy Strategy
}

// CSS builds a CSS selector locator. A comma separated query matches its alternatives in
// document order.
func CSS(name string, query string) Locator {
	return Locator{Name: name, Query: query, Strategy: StrategyCSS}
}

// XPath builds an XPath locator.
func XPath(name string, query string) Locator {
	return Locator{Name: name, Query: query, Strategy: StrategyXPath}
}

func (locator Locator) String() string {
	if strings.TrimSpace(locator.Name) != "" {
		return locator.Name
	}
	return locator.Query
}

// Page is the low-level browser capability. Calls block until ctx is done or the
// element condition holds; none of them retries.
type Page interface {
	Navigate(ctx context.Context, targetURL string) error
	WaitVisible(ctx context.Context, locator Locator) error
	Click(ctx context.Context, locator Locator) error
	// SendKeys replaces the element's value with text.
	SendKeys(ctx context.Context, locator Locator, text string) error
	Text(ctx context.Context, locator Locator) (string, error)
	// Collect returns, for each element matching item, the trimmed text of each field's
	// CSS selector evaluated inside that element. Missing fields are empty.
	Collect(ctx context.Context, item Locator, fields map[string]string) ([]map[string]string, error)
	// ClickRow clicks the index-th element matching item.
	ClickRow(ctx context.Context, item Locator, index int) error
	Reload(ctx context.Context) error
	Location(ctx context.Context) (string, error)
	CaptureScreenshot(ctx context.Context) ([]byte, error)
	ClearCookies(ctx context.Context) error
}
