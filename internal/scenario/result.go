package scenario

import (
	"strings"
	"time"

	"github.com/MarkoPoloResearchLab/flowcheck/internal/failures"
	"github.com/MarkoPoloResearchLab/flowcheck/internal/model"
)

// Status is the outcome of one scenario.
type Status string

const (
	StatusPassed  Status = model.StatusPassed
	StatusFailed  Status = model.StatusFailed
	StatusSkipped Status = model.StatusSkipped
)

// Result records one scenario execution.
type Result struct {
	ScenarioID     string        `json:"scenario_id"`
	Name           string        `json:"name"`
	Tags           []string      `json:"tags,omitempty"`
	Status         Status        `json:"status"`
	Attempts       int           `json:"attempts"`
	StartedAt      time.Time     `json:"started_at"`
	Duration       time.Duration `json:"duration"`
	ErrorKind      failures.Kind `json:"error_kind,omitempty"`
	Message        string        `json:"message,omitempty"`
	ScreenshotPath string        `json:"screenshot_path,omitempty"`
}

// Selection chooses the scenarios of a run: a single scenario by id, or every scenario
// carrying one of Tags. No tags and no id select the whole catalog.
type Selection struct {
	Tags         []string
	ScenarioName string
}

func (selection Selection) String() string {
	switch {
	case selection.ScenarioName != "":
		return "scenario:" + selection.ScenarioName
	case len(selection.Tags) > 0:
		return "tags:" + strings.Join(selection.Tags, ",")
	default:
		return "all"
	}
}

// RunSummary aggregates the results of one run in selection order.
type RunSummary struct {
	ID          string    `json:"id"`
	Environment string    `json:"environment"`
	BaseURL     string    `json:"base_url"`
	Selection   string    `json:"selection"`
	StartedAt   time.Time `json:"started_at"`
	FinishedAt  time.Time `json:"finished_at"`
	Results     []Result  `json:"results"`
}

func (summary RunSummary) count(status Status) int {
	total := 0
	for _, result := range summary.Results {
		if result.Status == status {
			total++
		}
	}
	return total
}

func (summary RunSummary) Passed() int {
	return summary.count(StatusPassed)
}

func (summary RunSummary) Failed() int {
	return summary.count(StatusFailed)
}

func (summary RunSummary) Skipped() int {
	return summary.count(StatusSkipped)
}

// Succeeded reports whether no scenario failed.
func (summary RunSummary) Succeeded() bool {
	return summary.Failed() == 0
}

func (summary RunSummary) Duration() time.Duration {
	return summary.FinishedAt.Sub(summary.StartedAt)
}

// Record converts the summary into its history row.
func (summary RunSummary) Record() model.RunRecord {
	record := model.RunRecord{
		ID:          summary.ID,
		Environment: summary.Environment,
		BaseURL:     summary.BaseURL,
		Selection:   summary.Selection,
		Passed:      summary.Passed(),
		Failed:      summary.Failed(),
		Skipped:     summary.Skipped(),
		StartedAt:   summary.StartedAt,
		FinishedAt:  summary.FinishedAt,
	}
	for _, result := range summary.Results {
		record.Scenarios = append(record.Scenarios, model.ScenarioRecord{
			RunID:          summary.ID,
			ScenarioID:     result.ScenarioID,
			Name:           result.Name,
			Status:         string(result.Status),
			Attempts:       result.Attempts,
			Duration:       result.Duration,
			ErrorKind:      string(result.ErrorKind),
			Message:        result.Message,
			ScreenshotPath: result.ScreenshotPath,
		})
	}
	return record
}
