package browser

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

type stubScreenshotPage struct {
	Page
	image []byte
	err   error
}

func (page stubScreenshotPage) CaptureScreenshot(context.Context) ([]byte, error) {
	return page.image, page.err
}

func TestScreenshotRecorderWritesSequencedFiles(testingT *testing.T) {
	directory := filepath.Join(testingT.TempDir(), "nested", "screenshots")
	recorder := NewScreenshotRecorder(directory, nil)
	recorder.now = func() time.Time { return time.Date(2026, 3, 4, 5, 6, 7, 8_000_000, time.UTC) }
	page := stubScreenshotPage{image: []byte("png")}

	firstPath, firstErr := recorder.Capture(context.Background(), page, "click submit button")
	require.NoError(testingT, firstErr)
	secondPath, secondErr := recorder.Capture(context.Background(), page, "click submit button")
	require.NoError(testingT, secondErr)

	require.Equal(testingT, filepath.Join(directory, "click_submit_button_20260304T050607.008Z_001.png"), firstPath)
	require.Equal(testingT, filepath.Join(directory, "click_submit_button_20260304T050607.008Z_002.png"), secondPath)
	content, readErr := os.ReadFile(firstPath)
	require.NoError(testingT, readErr)
	require.Equal(testingT, []byte("png"), content)
}

func TestScreenshotRecorderSanitizesLabels(testingT *testing.T) {
	testCases := []struct {
		name           string
		label          string
		expectedPrefix string
	}{
		{name: "selector characters", label: "wait input[type='email']", expectedPrefix: "wait_input_type_email_"},
		{name: "empty label", label: "", expectedPrefix: "screenshot_"},
		{name: "only punctuation", label: "***", expectedPrefix: "screenshot_"},
	}

	for _, testCase := range testCases {
		testCase := testCase
		testingT.Run(testCase.name, func(testingT *testing.T) {
			recorder := NewScreenshotRecorder(testingT.TempDir(), nil)
			require.True(testingT, strings.HasPrefix(recorder.fileName(testCase.label), testCase.expectedPrefix))
		})
	}
}

func TestScreenshotRecorderReturnsCaptureErrors(testingT *testing.T) {
	directory := filepath.Join(testingT.TempDir(), "never-created")
	recorder := NewScreenshotRecorder(directory, nil)
	captureErr := errors.New("target closed")

	path, err := recorder.Capture(context.Background(), stubScreenshotPage{err: captureErr}, "label")

	require.ErrorIs(testingT, err, captureErr)
	require.Empty(testingT, path)
	_, statErr := os.Stat(directory)
	require.ErrorIs(testingT, statErr, os.ErrNotExist)
}
