package database

import (
	"fmt"

	"gorm.io/gorm"

	"github.com/drallgood/catalog-summarizer/internal/logger"
)

const activeJobIndex = "idx_summary_jobs_active_book"

// ensureActiveJobIndex adds a partial unique index allowing one pending or
// processing job per book. MySQL has no partial indexes; there the queue's own
// serialization is the only guard.
func ensureActiveJobIndex(db *gorm.DB, log *logger.Logger) error {
	switch db.Dialector.Name() {
	case "sqlite", "postgres":
	default:
		log.Debug("Skipping partial index on active jobs", map[string]interface{}{
			"dialect": db.Dialector.Name(),
		})
		return nil
	}

	stmt := fmt.Sprintf(
		"CREATE UNIQUE INDEX IF NOT EXISTS %s ON summary_jobs (book_id) WHERE status IN ('pending', 'processing')",
		activeJobIndex,
	)
	if err := db.Exec(stmt).Error; err != nil {
		return fmt.Errorf("failed to create %s: %w", activeJobIndex, err)
	}
	return nil
}
