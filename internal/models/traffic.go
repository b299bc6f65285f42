package models

import "time"

// TrafficSample is one observation of a server's cumulative transfer counters.
// Samples are only ever appended.
type TrafficSample struct {
	ID         int64  `gorm:"primaryKey;not null" json:"-"`
	ServerName string `gorm:"not null;index:idx_traffic_server_time,priority:1" json:"server"`
	// Timestamp is stored as Unix milliseconds.
	Timestamp int64 `gorm:"not null;index:idx_traffic_server_time,priority:2" json:"timestamp"`
	UpTotal   int64 `gorm:"not null" json:"up_total"`
	DlTotal   int64 `gorm:"not null" json:"dl_total"`
	State     State `gorm:"not null" json:"state"`
	// Reachable is false when the torrent client could not be reached. The
	// counters of such a sample are meaningless and stored as zero.
	Reachable bool `gorm:"not null" json:"reachable"`
}

func (TrafficSample) TableName() string {
	return "traffic_log"
}

func (s TrafficSample) Time() time.Time {
	return fromMillis(s.Timestamp)
}

// NewTrafficSample builds a reachable sample taken at the given time.
func NewTrafficSample(server string, at time.Time, state State, up, dl int64) TrafficSample {
	return TrafficSample{
		ServerName: server,
		Timestamp:  toMillis(at),
		UpTotal:    up,
		DlTotal:    dl,
		State:      state,
		Reachable:  true,
	}
}
