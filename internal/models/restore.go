package models

import "time"

// RestoreRecord remembers the upload limits a server's torrents had before the
// server was throttled. Its existence marks the server as being in a
// throttled remediation cycle.
type RestoreRecord struct {
	ServerName string       `gorm:"primaryKey;not null" json:"server"`
	Limits     UploadLimits `gorm:"type:text;not null" json:"limits"`
	UpdatedAt  time.Time    `json:"updated_at"`
}

func (RestoreRecord) TableName() string {
	return "restore_records"
}
