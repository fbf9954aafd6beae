package storage

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"gorm.io/gorm"

	"github.com/MarkoPoloResearchLab/flowcheck/internal/model"
)

const (
	defaultRecentRunLimit       = 10
	errorMessageSaveRun         = "storage: save run"
	errorMessageListRuns        = "storage: list runs"
	errorMessageMissingRunID    = "storage: missing run id"
	orderStartedAtDescending    = "started_at DESC"
	associationScenarioRecords  = "Scenarios"
	orderScenarioRecordsByIndex = "rowid ASC"
)

// ErrMissingRunID indicates a run record without an identifier.
var ErrMissingRunID = errors.New(errorMessageMissingRunID)

// RunHistory persists completed runs and their scenario results.
type RunHistory struct {
	database *gorm.DB
}

func NewRunHistory(database *gorm.DB) *RunHistory {
	return &RunHistory{database: database}
}

// Save stores record with its scenarios in one transaction. Scenario rows without an id
// receive one.
func (history *RunHistory) Save(ctx context.Context, record model.RunRecord) error {
	if strings.TrimSpace(record.ID) == "" {
		return ErrMissingRunID
	}
	for index := range record.Scenarios {
		record.Scenarios[index].RunID = record.ID
		if record.Scenarios[index].ID == "" {
			record.Scenarios[index].ID = NewID()
		}
	}
	saveErr := history.database.WithContext(ctx).Transaction(func(transaction *gorm.DB) error {
		return transaction.Create(&record).Error
	})
	if saveErr != nil {
		return fmt.Errorf("%s: %w", errorMessageSaveRun, saveErr)
	}
	return nil
}

// Recent returns up to limit runs, newest first, with scenarios in recorded order.
func (history *RunHistory) Recent(ctx context.Context, limit int) ([]model.RunRecord, error) {
	if limit <= 0 {
		limit = defaultRecentRunLimit
	}
	var records []model.RunRecord
	queryErr := history.database.WithContext(ctx).
		Preload(associationScenarioRecords, func(database *gorm.DB) *gorm.DB {
			return database.Order(orderScenarioRecordsByIndex)
		}).
		Order(orderStartedAtDescending).
		Limit(limit).
		Find(&records).Error
	if queryErr != nil {
		return nil, fmt.Errorf("%s: %w", errorMessageListRuns, queryErr)
	}
	return records, nil
}
