// Package pages models the login, connections and webhook destination screens of the
// control plane on top of a browser.Actor.
package pages

import (
	"context"
	"regexp"
	"strconv"
	"strings"
	"time"
)

const (
	defaultProbeTimeout  = 2 * time.Second
	defaultSettleDelay   = 2 * time.Second
	defaultReloadSettle  = 3 * time.Second
	defaultOutcomePoll   = 250 * time.Millisecond
	pathSeparator        = "/"
	logFieldLocator      = "locator"
	logFieldCount        = "count"
	logFieldURL          = "url"
	logFieldName         = "name"
	logFieldSearchTerm   = "term"
	logFieldErrorMessage = "message"
)

var (
	firstNumberPattern = regexp.MustCompile(`\d+`)
	httpURLPattern     = regexp.MustCompile(`https?://[^\s<>"']+`)
)

// timing holds the waits between page transitions. Tests shorten them.
type timing struct {
	probe        time.Duration
	settle       time.Duration
	reloadSettle time.Duration
	outcomePoll  time.Duration
}

func defaultTiming() timing {
	return timing{
		probe:        defaultProbeTimeout,
		settle:       defaultSettleDelay,
		reloadSettle: defaultReloadSettle,
		outcomePoll:  defaultOutcomePoll,
	}
}

func joinURL(baseURL string, path string) string {
	return strings.TrimRight(baseURL, pathSeparator) + pathSeparator + strings.TrimLeft(path, pathSeparator)
}

// firstNumber returns the first run of digits in text, or zero.
func firstNumber(text string) int {
	match := firstNumberPattern.FindString(text)
	if match == "" {
		return 0
	}
	number, parseErr := strconv.Atoi(match)
	if parseErr != nil {
		return 0
	}
	return number
}

func sleep(ctx context.Context, delay time.Duration) error {
	if delay <= 0 {
		return ctx.Err()
	}
	timer := time.NewTimer(delay)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}

func containsFold(candidates []string, value string) bool {
	normalized := strings.ToLower(strings.TrimSpace(value))
	for _, candidate := range candidates {
		if candidate == normalized {
			return true
		}
	}
	return false
}
