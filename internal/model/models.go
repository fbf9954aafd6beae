package model

import "time"

// Scenario outcomes persisted with each ScenarioRecord.
const (
	StatusPassed  = "passed"
	StatusFailed  = "failed"
	StatusSkipped = "skipped"
)

type RunRecord struct {
	ID          string           `gorm:"primaryKey;size:36"`
	Environment string           `gorm:"not null;size:16"`
	BaseURL     string           `gorm:"not null;size:500"`
	Selection   string           `gorm:"size:200"`
	Passed      int              `gorm:"not null"`
	Failed      int              `gorm:"not null"`
	Skipped     int              `gorm:"not null"`
	StartedAt   time.Time        `gorm:"index;not null"`
	FinishedAt  time.Time        `gorm:"not null"`
	Scenarios   []ScenarioRecord `gorm:"foreignKey:RunID;constraint:OnDelete:CASCADE"`
	CreatedAt   time.Time        `gorm:"autoCreateTime"`
}

// Succeeded reports whether every scenario of the run passed.
func (record RunRecord) Succeeded() bool {
	return record.Failed == 0
}

type ScenarioRecord struct {
	ID             string        `gorm:"primaryKey;size:36"`
	RunID          string        `gorm:"index;not null;size:36"`
	ScenarioID     string        `gorm:"not null;size:100"`
	Name           string        `gorm:"not null;size:200"`
	Status         string        `gorm:"not null;size:16"`
	Attempts       int           `gorm:"not null"`
	Duration       time.Duration `gorm:"not null"`
	ErrorKind      string        `gorm:"size:32"`
	Message        string        `gorm:"size:4000"`
	ScreenshotPath string        `gorm:"size:1000"`
}

type WebhookDelivery struct {
	ID            string    `gorm:"primaryKey;size:36"`
	DestinationID string    `gorm:"index;not null;size:200"`
	EventName     string    `gorm:"size:200"`
	MessageID     string    `gorm:"size:100"`
	Delivered     bool      `gorm:"not null"`
	StatusCode    int       `gorm:"not null"`
	Payload       string    `gorm:"type:text"`
	RemoteAddress string    `gorm:"size:64"`
	UserAgent     string    `gorm:"size:400"`
	ReceivedAt    time.Time `gorm:"index;not null"`
}
