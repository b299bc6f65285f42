package ledger

import (
	"context"

	"github.com/coder/quartz"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/ncwatch/ncwatch/internal/models"
)

// RestoreStore persists the upload limits torrents had before their server was
// throttled. Every operation is a single statement.
type RestoreStore struct {
	db    *gorm.DB
	clock quartz.Clock
}

func NewRestoreStore(db *gorm.DB, clock quartz.Clock) *RestoreStore {
	return &RestoreStore{db: db, clock: clock}
}

// Load returns the record of the server. The boolean is false when the server
// has no record, i.e. it is not in a throttled cycle.
func (r *RestoreStore) Load(ctx context.Context, server string) (models.UploadLimits, bool, error) {
	var records []models.RestoreRecord
	err := r.db.WithContext(ctx).Where("server_name = ?", server).Limit(1).Find(&records).Error
	if err != nil {
		return nil, false, wrapPersistence("load restore record", err)
	}
	if len(records) == 0 {
		return nil, false, nil
	}
	limits := records[0].Limits
	if limits == nil {
		limits = models.UploadLimits{}
	}
	return limits, true, nil
}

// Save creates or replaces the record of the server.
func (r *RestoreStore) Save(ctx context.Context, server string, limits models.UploadLimits) error {
	if limits == nil {
		limits = models.UploadLimits{}
	}
	rec := models.RestoreRecord{ServerName: server, Limits: limits, UpdatedAt: r.clock.Now()}
	err := r.db.WithContext(ctx).Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "server_name"}},
		DoUpdates: clause.AssignmentColumns([]string{"limits", "updated_at"}),
	}).Create(&rec).Error
	return wrapPersistence("save restore record", err)
}

// Delete removes the record of the server. Deleting a missing record is not an
// error.
func (r *RestoreStore) Delete(ctx context.Context, server string) error {
	err := r.db.WithContext(ctx).Where("server_name = ?", server).Delete(&models.RestoreRecord{}).Error
	return wrapPersistence("delete restore record", err)
}
