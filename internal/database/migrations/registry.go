package migrations

import (
	"gorm.io/gorm"

	"github.com/jmylchreest/vodarr/internal/models"
)

// AllMigrations returns every schema migration in version order.
//   - 001: media catalog and keyframe index tables
//   - 002: lookup index for nearest-keyframe queries
func AllMigrations() []Migration {
	return []Migration{
		migration001Schema(),
		migration002KeyframeLookupIndex(),
	}
}

func migration001Schema() Migration {
	return Migration{
		Version:     "001",
		Description: "Create media_items and keyframes tables",
		Up: func(tx *gorm.DB) error {
			return tx.AutoMigrate(&models.MediaItem{}, &models.Keyframe{})
		},
		Down: func(tx *gorm.DB) error {
			for _, table := range []string{"keyframes", "media_items"} {
				if err := tx.Migrator().DropTable(table); err != nil {
					return err
				}
			}
			return nil
		},
	}
}

const keyframeLookupIndex = "idx_keyframes_media_ts"

func migration002KeyframeLookupIndex() Migration {
	return Migration{
		Version:     "002",
		Description: "Add (media_id, timestamp_ms) index on keyframes",
		Up: func(tx *gorm.DB) error {
			if tx.Migrator().HasIndex(&models.Keyframe{}, keyframeLookupIndex) {
				return nil
			}
			return tx.Exec("CREATE INDEX " + keyframeLookupIndex + " ON keyframes (media_id, timestamp_ms)").Error
		},
		Down: func(tx *gorm.DB) error {
			return tx.Migrator().DropIndex(&models.Keyframe{}, keyframeLookupIndex)
		},
	}
}
