package testutil

import (
	"context"
	"errors"
	"fmt"
	"maps"
	"sync"

	"github.com/MarkoPoloResearchLab/flowcheck/internal/browser"
)

// ErrElementNotVisible is returned by FakePage for elements that are not shown.
var ErrElementNotVisible = errors.New("element not visible")

// FakeScreenshotBytes is the image FakePage returns from CaptureScreenshot.
var FakeScreenshotBytes = []byte("\x89PNG\r\n\x1a\nfake")

// FakePage is an in-memory browser.Page keyed by locator query. Elements are visible
// when Show has been called for their query; clicks can trigger scripted transitions.
type FakePage struct {
	mutex             sync.Mutex
	visible           map[string]bool
	texts             map[string]string
	boundTexts        map[string]func() string
	rows              map[string][]map[string]string
	visibilityFaults  map[string]int
	clickFaults       map[string]error
	clickHandlers     map[string]func(page *FakePage)
	rowClickHandlers  map[string]func(page *FakePage, index int)
	reloadHandler     func(page *FakePage)
	location          string
	navigations       []string
	clicks            []string
	rowClicks         []string
	typed             map[string]string
	reloads           int
	screenshots       int
	waitCalls         map[string]int
	screenshotFailure error
}

func NewFakePage() *FakePage {
	return &FakePage{
		visible:          map[string]bool{},
		texts:            map[string]string{},
		boundTexts:       map[string]func() string{},
		rows:             map[string][]map[string]string{},
		visibilityFaults: map[string]int{},
		clickFaults:      map[string]error{},
		clickHandlers:    map[string]func(page *FakePage){},
		rowClickHandlers: map[string]func(page *FakePage, index int){},
		typed:            map[string]string{},
		waitCalls:        map[string]int{},
	}
}

// Show makes the element for locator visible.
func (page *FakePage) Show(locator browser.Locator) *FakePage {
	page.mutex.Lock()
	defer page.mutex.Unlock()
	page.visible[locator.Query] = true
	return page
}

// Hide makes the element for locator invisible.
func (page *FakePage) Hide(locator browser.Locator) *FakePage {
	page.mutex.Lock()
	defer page.mutex.Unlock()
	delete(page.visible, locator.Query)
	return page
}

// SetText shows locator with text.
func (page *FakePage) SetText(locator browser.Locator, text string) *FakePage {
	page.mutex.Lock()
	defer page.mutex.Unlock()
	page.visible[locator.Query] = true
	page.texts[locator.Query] = text
	return page
}

// BindText shows locator with text computed on every read.
func (page *FakePage) BindText(locator browser.Locator, text func() string) *FakePage {
	page.mutex.Lock()
	defer page.mutex.Unlock()
	page.visible[locator.Query] = true
	page.boundTexts[locator.Query] = text
	return page
}

// SetRows shows item with the given rows for Collect.
func (page *FakePage) SetRows(item browser.Locator, rows []map[string]string) *FakePage {
	page.mutex.Lock()
	defer page.mutex.Unlock()
	page.visible[item.Query] = true
	page.rows[item.Query] = rows
	return page
}

// FailVisibility makes the next count waits on locator fail even when it is shown.
func (page *FakePage) FailVisibility(locator browser.Locator, count int) *FakePage {
	page.mutex.Lock()
	defer page.mutex.Unlock()
	page.visibilityFaults[locator.Query] = count
	return page
}

// FailClicks makes every click on a shown locator return err.
func (page *FakePage) FailClicks(locator browser.Locator, err error) *FakePage {
	page.mutex.Lock()
	defer page.mutex.Unlock()
	page.clickFaults[locator.Query] = err
	return page
}

// OnClick runs handler after each click on locator.
func (page *FakePage) OnClick(locator browser.Locator, handler func(page *FakePage)) *FakePage {
	page.mutex.Lock()
	defer page.mutex.Unlock()
	page.clickHandlers[locator.Query] = handler
	return page
}

// OnRowClick runs handler after each ClickRow on item.
func (page *FakePage) OnRowClick(item browser.Locator, handler func(page *FakePage, index int)) *FakePage {
	page.mutex.Lock()
	defer page.mutex.Unlock()
	page.rowClickHandlers[item.Query] = handler
	return page
}

// OnReload runs handler after each reload.
func (page *FakePage) OnReload(handler func(page *FakePage)) *FakePage {
	page.mutex.Lock()
	defer page.mutex.Unlock()
	page.reloadHandler = handler
	return page
}

// FailScreenshots makes CaptureScreenshot return err.
func (page *FakePage) FailScreenshots(err error) *FakePage {
	page.mutex.Lock()
	defer page.mutex.Unlock()
	page.screenshotFailure = err
	return page
}

func (page *FakePage) Navigate(ctx context.Context, targetURL string) error {
	if ctx.Err() != nil {
		return ctx.Err()
	}
	page.mutex.Lock()
	defer page.mutex.Unlock()
	page.location = targetURL
	page.navigations = append(page.navigations, targetURL)
	return nil
}

func (page *FakePage) WaitVisible(ctx context.Context, locator browser.Locator) error {
	if ctx.Err() != nil {
		return ctx.Err()
	}
	page.mutex.Lock()
	defer page.mutex.Unlock()
	page.waitCalls[locator.Query]++
	if remaining := page.visibilityFaults[locator.Query]; remaining > 0 {
		page.visibilityFaults[locator.Query] = remaining - 1
		return fmt.Errorf("%s: %w", locator, ErrElementNotVisible)
	}
	if !page.visible[locator.Query] {
		return fmt.Errorf("%s: %w", locator, ErrElementNotVisible)
	}
	return nil
}

func (page *FakePage) Click(ctx context.Context, locator browser.Locator) error {
	if visibleErr := page.WaitVisible(ctx, locator); visibleErr != nil {
		return visibleErr
	}
	page.mutex.Lock()
	if clickErr := page.clickFaults[locator.Query]; clickErr != nil {
		page.mutex.Unlock()
		return clickErr
	}
	page.clicks = append(page.clicks, locator.Query)
	handler := page.clickHandlers[locator.Query]
	page.mutex.Unlock()
	if handler != nil {
		handler(page)
	}
	return nil
}

func (page *FakePage) SendKeys(ctx context.Context, locator browser.Locator, text string) error {
	if ctx.Err() != nil {
		return ctx.Err()
	}
	page.mutex.Lock()
	defer page.mutex.Unlock()
	page.typed[locator.Query] = text
	return nil
}

func (page *FakePage) Text(ctx context.Context, locator browser.Locator) (string, error) {
	if ctx.Err() != nil {
		return "", ctx.Err()
	}
	page.mutex.Lock()
	defer page.mutex.Unlock()
	if !page.visible[locator.Query] {
		return "", fmt.Errorf("%s: %w", locator, ErrElementNotVisible)
	}
	if text, bound := page.boundTexts[locator.Query]; bound {
		return text(), nil
	}
	return page.texts[locator.Query], nil
}

func (page *FakePage) Collect(ctx context.Context, item browser.Locator, fields map[string]string) ([]map[string]string, error) {
	if ctx.Err() != nil {
		return nil, ctx.Err()
	}
	page.mutex.Lock()
	defer page.mutex.Unlock()
	collected := make([]map[string]string, 0, len(page.rows[item.Query]))
	for _, row := range page.rows[item.Query] {
		projected := make(map[string]string, len(fields))
		for key := range fields {
			projected[key] = row[key]
		}
		collected = append(collected, projected)
	}
	return collected, nil
}

func (page *FakePage) ClickRow(ctx context.Context, item browser.Locator, index int) error {
	if ctx.Err() != nil {
		return ctx.Err()
	}
	page.mutex.Lock()
	if index < 0 || index >= len(page.rows[item.Query]) {
		page.mutex.Unlock()
		return fmt.Errorf("row %d of %s not found", index, item)
	}
	page.rowClicks = append(page.rowClicks, fmt.Sprintf("%s#%d", item.Query, index))
	handler := page.rowClickHandlers[item.Query]
	page.mutex.Unlock()
	if handler != nil {
		handler(page, index)
	}
	return nil
}

func (page *FakePage) Reload(ctx context.Context) error {
	if ctx.Err() != nil {
		return ctx.Err()
	}
	page.mutex.Lock()
	page.reloads++
	handler := page.reloadHandler
	page.mutex.Unlock()
	if handler != nil {
		handler(page)
	}
	return nil
}

func (page *FakePage) Location(ctx context.Context) (string, error) {
	if ctx.Err() != nil {
		return "", ctx.Err()
	}
	page.mutex.Lock()
	defer page.mutex.Unlock()
	return page.location, nil
}

func (page *FakePage) CaptureScreenshot(ctx context.Context) ([]byte, error) {
	if ctx.Err() != nil {
		return nil, ctx.Err()
	}
	page.mutex.Lock()
	defer page.mutex.Unlock()
	if page.screenshotFailure != nil {
		return nil, page.screenshotFailure
	}
	page.screenshots++
	return FakeScreenshotBytes, nil
}

func (page *FakePage) ClearCookies(ctx context.Context) error {
	return ctx.Err()
}

// Navigations returns every visited URL in order.
func (page *FakePage) Navigations() []string {
	page.mutex.Lock()
	defer page.mutex.Unlock()
	return append([]string(nil), page.navigations...)
}

// Clicks returns the queries clicked in order.
func (page *FakePage) Clicks() []string {
	page.mutex.Lock()
	defer page.mutex.Unlock()
	return append([]string(nil), page.clicks...)
}

// RowClicks returns "query#index" entries for every ClickRow.
func (page *FakePage) RowClicks() []string {
	page.mutex.Lock()
	defer page.mutex.Unlock()
	return append([]string(nil), page.rowClicks...)
}

// Typed returns the latest text sent to each query.
func (page *FakePage) Typed() map[string]string {
	page.mutex.Lock()
	defer page.mutex.Unlock()
	return maps.Clone(page.typed)
}

func (page *FakePage) Reloads() int {
	page.mutex.Lock()
	defer page.mutex.Unlock()
	return page.reloads
}

func (page *FakePage) Screenshots() int {
	page.mutex.Lock()
	defer page.mutex.Unlock()
	return page.screenshots
}

// WaitCalls returns how many times locator was waited on.
func (page *FakePage) WaitCalls(locator browser.Locator) int {
	page.mutex.Lock()
	defer page.mutex.Unlock()
	return page.waitCalls[locator.Query]
}
