package browser

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"strings"
	"sync/atomic"
	"time"

	"go.uber.org/zap"
)

const (
	screenshotTimestampLayout   = "20060102T150405.000Z"
	screenshotExtension         = ".png"
	screenshotDirectoryMode     = 0o755
	screenshotFileMode          = 0o644
	defaultScreenshotLabel      = "screenshot"
	errorMessageCaptureFailed   = "capture screenshot"
	errorMessageCreateDirectory = "create screenshot directory"
	errorMessageWriteScreenshot = "write screenshot"
	logEventScreenshotCaptured  = "screenshot_captured"
)

var unsafeLabelCharacters = regexp.MustCompile(`[^A-Za-z0-9_-]+`)

// ScreenshotRecorder stores page screenshots under a directory with timestamped names.
type ScreenshotRecorder struct {
	directory string
	logger    *zap.Logger
	now       func() time.Time
	sequence  atomic.Uint64
}

func NewScreenshotRecorder(directory string, logger *zap.Logger) *ScreenshotRecorder {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &ScreenshotRecorder{directory: directory, logger: logger, now: time.Now}
}

// Capture writes one PNG of page and returns its path.
func (recorder *ScreenshotRecorder) Capture(ctx context.Context, page Page, label string) (string, error) {
	image, captureErr := page.CaptureScreenshot(ctx)
	if captureErr != nil {
		return "", fmt.Errorf("%s: %w", errorMessageCaptureFailed, captureErr)
	}
	if mkdirErr := os.MkdirAll(recorder.directory, screenshotDirectoryMode); mkdirErr != nil {
		return "", fmt.Errorf("%s: %w", errorMessageCreateDirectory, mkdirErr)
	}

	path := filepath.Join(recorder.directory, recorder.fileName(label))
	if writeErr := os.WriteFile(path, image, screenshotFileMode); writeErr != nil {
		return "", fmt.Errorf("%s: %w", errorMessageWriteScreenshot, writeErr)
	}
	recorder.logger.Info(logEventScreenshotCaptured, zap.String("path", path), zap.String("label", label))
	return path, nil
}

func (recorder *ScreenshotRecorder) fileName(label string) string {
	sanitized := strings.Trim(unsafeLabelCharacters.ReplaceAllString(label, "_"), "_")
	if sanitized == "" {
		sanitized = defaultScreenshotLabel
	}
	timestamp := recorder.now().UTC().Format(screenshotTimestampLayout)
	return fmt.Sprintf("%s_%s_%03d%s", sanitized, timestamp, recorder.sequence.Add(1), screenshotExtension)
}
