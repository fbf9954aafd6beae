package storage

import (
	"context"
	"fmt"
	"time"

	"gorm.io/gorm"

	"github.com/MarkoPoloResearchLab/flowcheck/internal/delivery"
	"github.com/MarkoPoloResearchLab/flowcheck/internal/model"
)

const (
	defaultDeliveryListLimit      = 100
	errorMessageRecordDelivery    = "storage: record delivery"
	errorMessageCountDeliveries   = "storage: count deliveries"
	errorMessageListDeliveries    = "storage: list deliveries"
	errorMessagePruneDeliveries   = "storage: prune deliveries"
	whereDestinationID            = "destination_id = ?"
	whereReceivedBefore           = "received_at < ?"
	orderReceivedAtDescending     = "received_at DESC"
	selectDeliveredAndTotalCounts = "COALESCE(SUM(CASE WHEN delivered THEN 1 ELSE 0 END), 0) AS delivered, COUNT(*) AS total"
)

// DeliveryStore keeps payloads received by the local webhook sink.
type DeliveryStore struct {
	database *gorm.DB
	now      func() time.Time
}

func NewDeliveryStore(database *gorm.DB) *DeliveryStore {
	return &DeliveryStore{database: database, now: time.Now}
}

// Record stores delivery, assigning an id and receive time when missing.
func (store *DeliveryStore) Record(ctx context.Context, webhookDelivery model.WebhookDelivery) (model.WebhookDelivery, error) {
	if webhookDelivery.ID == "" {
		webhookDelivery.ID = NewID()
	}
	if webhookDelivery.ReceivedAt.IsZero() {
		webhookDelivery.ReceivedAt = store.now().UTC()
	}
	if createErr := store.database.WithContext(ctx).Create(&webhookDelivery).Error; createErr != nil {
		return model.WebhookDelivery{}, fmt.Errorf("%s: %w", errorMessageRecordDelivery, createErr)
	}
	return webhookDelivery, nil
}

type deliveryCounts struct {
	Delivered int
	Total     int
}

// Stats counts the deliveries of destinationID.
func (store *DeliveryStore) Stats(ctx context.Context, destinationID string) (delivery.Stats, error) {
	var counts deliveryCounts
	queryErr := store.database.WithContext(ctx).
		Model(&model.WebhookDelivery{}).
		Select(selectDeliveredAndTotalCounts).
		Where(whereDestinationID, destinationID).
		Scan(&counts).Error
	if queryErr != nil {
		return delivery.Stats{}, fmt.Errorf("%s: %w", errorMessageCountDeliveries, queryErr)
	}
	return delivery.Stats{
		Received: counts.Delivered,
		Failed:   counts.Total - counts.Delivered,
		Total:    counts.Total,
	}, nil
}

// Recent lists up to limit deliveries of destinationID, newest first.
func (store *DeliveryStore) Recent(ctx context.Context, destinationID string, limit int) ([]model.WebhookDelivery, error) {
	if limit <= 0 {
		limit = defaultDeliveryListLimit
	}
	var deliveries []model.WebhookDelivery
	queryErr := store.database.WithContext(ctx).
		Where(whereDestinationID, destinationID).
		Order(orderReceivedAtDescending).
		Limit(limit).
		Find(&deliveries).Error
	if queryErr != nil {
		return nil, fmt.Errorf("%s: %w", errorMessageListDeliveries, queryErr)
	}
	return deliveries, nil
}

// PruneBefore deletes deliveries received before cutoff and returns how many were removed.
func (store *DeliveryStore) PruneBefore(ctx context.Context, cutoff time.Time) (int64, error) {
	result := store.database.WithContext(ctx).Where(whereReceivedBefore, cutoff.UTC()).Delete(&model.WebhookDelivery{})
	if result.Error != nil {
		return 0, fmt.Errorf("%s: %w", errorMessagePruneDeliveries, result.Error)
	}
	return result.RowsAffected, nil
}
