// Package report writes run summaries as JSON and, optionally, HTML files.
package report

import (
	"bytes"
	_ "embed"
	"encoding/json"
	"errors"
	"fmt"
	"html/template"
	"os"
	"path/filepath"
	"time"

	"go.uber.org/zap"

	"github.com/MarkoPoloResearchLab/flowcheck/internal/config"
	"github.com/MarkoPoloResearchLab/flowcheck/internal/scenario"
)

const (
	reportFilePrefix      = "run-"
	jsonExtension         = ".json"
	htmlExtension         = ".html"
	reportDirectoryMode   = 0o755
	reportFileMode        = 0o644
	runTemplateName       = "run"
	displayTimeLayout     = time.RFC3339
	durationRounding      = time.Millisecond
	logEventReportWritten = "report_written"

	errorMessageCreateDirectory = "create report directory"
	errorMessageEncodeJSON      = "encode json report"
	errorMessageRenderHTML      = "render html report"
	errorMessageWriteReport     = "write report"
)

// ErrMissingRunID is returned for summaries without an id.
var ErrMissingRunID = errors.New("report: run id is required")

//go:embed templates/run.tmpl
var runTemplateHTML string

var runTemplate = template.Must(template.New(runTemplateName).Parse(runTemplateHTML))

// Artifacts names the files written for one run. HTMLPath is empty when HTML is disabled.
type Artifacts struct {
	JSONPath string
	HTMLPath string
}

// Document is the JSON report layout.
type Document struct {
	scenario.RunSummary
	Passed   int    `json:"passed"`
	Failed   int    `json:"failed"`
	Skipped  int    `json:"skipped"`
	Duration string `json:"duration"`
	Success  bool   `json:"success"`
}

// Writer stores reports under the configured report directory.
type Writer struct {
	directory    string
	generateHTML bool
	logger       *zap.Logger
}

func NewWriter(configuration config.ReportConfig, logger *zap.Logger) *Writer {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Writer{directory: configuration.ReportDirectory, generateHTML: configuration.GenerateHTMLReport, logger: logger}
}

// Write stores summary as run-<id>.json and, when enabled, run-<id>.html.
func (writer *Writer) Write(summary scenario.RunSummary) (Artifacts, error) {
	if summary.ID == "" {
		return Artifacts{}, ErrMissingRunID
	}
	if mkdirErr := os.MkdirAll(writer.directory, reportDirectoryMode); mkdirErr != nil {
		return Artifacts{}, fmt.Errorf("%s: %w", errorMessageCreateDirectory, mkdirErr)
	}

	var artifacts Artifacts
	encoded, encodeErr := json.MarshalIndent(NewDocument(summary), "", "  ")
	if encodeErr != nil {
		return Artifacts{}, fmt.Errorf("%s: %w", errorMessageEncodeJSON, encodeErr)
	}
	artifacts.JSONPath = writer.path(summary.ID, jsonExtension)
	if writeErr := os.WriteFile(artifacts.JSONPath, encoded, reportFileMode); writeErr != nil {
		return Artifacts{}, fmt.Errorf("%s: %w", errorMessageWriteReport, writeErr)
	}

	if writer.generateHTML {
		var buffer bytes.Buffer
		if renderErr := runTemplate.Execute(&buffer, writer.view(summary)); renderErr != nil {
			return artifacts, fmt.Errorf("%s: %w", errorMessageRenderHTML, renderErr)
		}
		htmlPath := writer.path(summary.ID, htmlExtension)
		if writeErr := os.WriteFile(htmlPath, buffer.Bytes(), reportFileMode); writeErr != nil {
			return artifacts, fmt.Errorf("%s: %w", errorMessageWriteReport, writeErr)
		}
		artifacts.HTMLPath = htmlPath
	}

	writer.logger.Info(logEventReportWritten,
		zap.String("json", artifacts.JSONPath),
		zap.String("html", artifacts.HTMLPath),
	)
	return artifacts, nil
}

// NewDocument adds the derived totals to summary.
func NewDocument(summary scenario.RunSummary) Document {
	return Document{
		RunSummary: summary,
		Passed:     summary.Passed(),
		Failed:     summary.Failed(),
		Skipped:    summary.Skipped(),
		Duration:   summary.Duration().Round(durationRounding).String(),
		Success:    summary.Succeeded(),
	}
}

func (writer *Writer) path(runID string, extension string) string {
	return filepath.Join(writer.directory, reportFilePrefix+runID+extension)
}

type runView struct {
	ID          string
	Environment string
	BaseURL     string
	Selection   string
	StartedAt   string
	Duration    string
	Passed      int
	Failed      int
	Skipped     int
	Rows        []rowView
}

type rowView struct {
	ScenarioID string
	Name       string
	Status     string
	Attempts   int
	Duration   string
	ErrorKind  string
	Message    string
	Screenshot string
}

func (writer *Writer) view(summary scenario.RunSummary) runView {
	view := runView{
		ID:          summary.ID,
		Environment: summary.Environment,
		BaseURL:     summary.BaseURL,
		Selection:   summary.Selection,
		StartedAt:   summary.StartedAt.Format(displayTimeLayout),
		Duration:    summary.Duration().Round(durationRounding).String(),
		Passed:      summary.Passed(),
		Failed:      summary.Failed(),
		Skipped:     summary.Skipped(),
		Rows:        make([]rowView, 0, len(summary.Results)),
	}
	for _, result := range summary.Results {
		view.Rows = append(view.Rows, rowView{
			ScenarioID: result.ScenarioID,
			Name:       result.Name,
			Status:     string(result.Status),
			Attempts:   result.Attempts,
			Duration:   result.Duration.Round(durationRounding).String(),
			ErrorKind:  string(result.ErrorKind),
			Message:    result.Message,
			Screenshot: writer.relativePath(result.ScreenshotPath),
		})
	}
	return view
}

// relativePath makes screenshot links work when the report directory is opened elsewhere.
func (writer *Writer) relativePath(path string) string {
	if path == "" {
		return ""
	}
	absoluteDirectory, directoryErr := filepath.Abs(writer.directory)
	absolutePath, pathErr := filepath.Abs(path)
	if directoryErr != nil || pathErr != nil {
		return filepath.ToSlash(path)
	}
	relative, relativeErr := filepath.Rel(absoluteDirectory, absolutePath)
	if relativeErr != nil {
		return filepath.ToSlash(path)
	}
	return filepath.ToSlash(relative)
}
