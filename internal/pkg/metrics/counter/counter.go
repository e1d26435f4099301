package counter

import (
	"context"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/gofiber/fiber/v2/log"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/lensbook/backend/app/models"
	"github.com/lensbook/backend/internal/pkg/cache"
	"github.com/lensbook/backend/internal/pkg/database"
)

// Pending webhook counters live in Redis hashes keyed by tenant id and are
// periodically drained into the tenant_webhook_stats table.
const (
	receivedKey  = "webhook:counters:received"
	duplicateKey = "webhook:counters:duplicate"
	failedKey    = "webhook:counters:failed"
)

// Stats is the hook handed to the webhook pipeline. Counter errors are
// logged and dropped; counting never interferes with delivery.
type Stats struct{}

func (Stats) Received(tenantID string) {
	if err := AddReceived(tenantID); err != nil {
		log.Warnf("[Counter] received increment failed for %s: %v", tenantID, err)
	}
}

func (Stats) Duplicate(tenantID string) {
	if err := AddDuplicate(tenantID); err != nil {
		log.Warnf("[Counter] duplicate increment failed for %s: %v", tenantID, err)
	}
}

func (Stats) Failed(tenantID string) {
	if err := AddFailed(tenantID); err != nil {
		log.Warnf("[Counter] failed increment failed for %s: %v", tenantID, err)
	}
}

// AddReceived increments the pending received counter for a tenant
func AddReceived(tenantID string) error {
	return cache.GetClient().HIncrBy(context.Background(), receivedKey, tenantID, 1).Err()
}

// AddDuplicate increments the pending duplicate-delivery counter for a tenant
func AddDuplicate(tenantID string) error {
	return cache.GetClient().HIncrBy(context.Background(), duplicateKey, tenantID, 1).Err()
}

// AddFailed increments the pending failed-event counter for a tenant
func AddFailed(tenantID string) error {
	return cache.GetClient().HIncrBy(context.Background(), failedKey, tenantID, 1).Err()
}

// FlushAll drains all pending counters into the database
func FlushAll() error {
	if err := flushHashToStats(receivedKey, "received_count"); err != nil {
		return err
	}
	if err := flushHashToStats(duplicateKey, "duplicate_count"); err != nil {
		return err
	}
	return flushHashToStats(failedKey, "failed_count")
}

// StartFlusher drains the counters on the given interval until stop is
// closed.
func StartFlusher(interval time.Duration, stop <-chan struct{}) {
	go func() {
		ticker := time.NewTicker(interval)
		defer ticker.Stop()
		for {
			select {
			case <-stop:
				if err := FlushAll(); err != nil {
					log.Errorf("[Counter] Final flush failed: %v", err)
				}
				return
			case <-ticker.C:
				if err := FlushAll(); err != nil {
					log.Errorf("[Counter] Flush failed: %v", err)
				}
			}
		}
	}()
}

// flushHashToStats drains one Redis hash atomically and applies the batched
// increments as upserts. RENAME to a temporary key keeps in-flight increments
// safe while draining.
func flushHashToStats(redisKey, column string) error {
	ctx := context.Background()
	rdb := cache.GetClient()

	tmpKey := fmt.Sprintf("%s:tmp:%d", redisKey, time.Now().UnixNano())
	if err := rdb.Do(ctx, "RENAME", redisKey, tmpKey).Err(); err != nil {
		// Missing key means nothing to flush
		if strings.Contains(strings.ToLower(err.Error()), "no such key") || err.Error() == "redis: nil" {
			return nil
		}
		return err
	}
	defer rdb.Del(ctx, tmpKey)

	data, err := rdb.HGetAll(ctx, tmpKey).Result()
	if err != nil {
		return err
	}

	db := database.GetDB()
	for tenantID, raw := range data {
		inc := parseCount(raw)
		if tenantID == "" || inc == 0 {
			continue
		}
		row := &models.TenantWebhookStats{TenantID: tenantID}
		setColumn(row, column, inc)
		err := db.Clauses(clause.OnConflict{
			Columns:   []clause.Column{{Name: "tenant_id"}},
			DoUpdates: clause.Assignments(map[string]interface{}{column: gorm.Expr(column+" + ?", inc)}),
		}).Create(row).Error
		if err != nil {
			return err
		}
	}
	return nil
}

func setColumn(row *models.TenantWebhookStats, column string, inc int64) {
	switch column {
	case "received_count":
		row.ReceivedCount = inc
	case "duplicate_count":
		row.DuplicateCount = inc
	case "failed_count":
		row.FailedCount = inc
	}
}

func parseCount(raw string) int64 {
	n, err := strconv.ParseInt(raw, 10, 64)
	if err != nil {
		return 0
	}
	return n
}
