package models

import "time"

// StateEvent is a contiguous period during which a server stayed in one state.
// At most one event per server is open (EndTime is nil); the partial unique
// index enforces this inside the database as well.
type StateEvent struct {
	ID         int64  `gorm:"primaryKey;not null" json:"-"`
	ServerName string `gorm:"not null;index:idx_state_events_server;index:idx_state_events_open,unique,where:end_time IS NULL" json:"server"`
	StartTime  int64  `gorm:"not null" json:"start_time"`
	EndTime    *int64 `json:"end_time"`
	State      State  `gorm:"not null" json:"state"`
	// Duration in milliseconds. For the open event it is refreshed on every
	// sample; for a closed event it is EndTime - StartTime.
	Duration int64 `gorm:"not null" json:"duration"`
}

func (StateEvent) TableName() string {
	return "state_events"
}

func (e StateEvent) Start() time.Time {
	return fromMillis(e.StartTime)
}

// End returns the end of the event, or the zero time when it is still open.
func (e StateEvent) End() time.Time {
	if e.EndTime == nil {
		return time.Time{}
	}
	return fromMillis(*e.EndTime)
}

func (e StateEvent) IsOpen() bool {
	return e.EndTime == nil
}

func (e StateEvent) Elapsed() time.Duration {
	return time.Duration(e.Duration) * time.Millisecond
}

// Close ends the event at the given time.
func (e *StateEvent) Close(at time.Time) {
	end := toMillis(at)
	e.EndTime = &end
	e.Duration = end - e.StartTime
}

// Refresh updates the duration of an open event to reflect the given time.
// The duration never decreases, so a late sample cannot shorten the event.
func (e *StateEvent) Refresh(at time.Time) {
	if d := toMillis(at) - e.StartTime; d > e.Duration {
		e.Duration = d
	}
}

// OpenEvent starts a new event for the server.
func OpenEvent(server string, state State, at time.Time) StateEvent {
	return StateEvent{ServerName: server, StartTime: toMillis(at), State: state}
}

// Overlap returns how much of the event falls inside [from, to]. An open event
// is treated as lasting until now.
func (e StateEvent) Overlap(from, to, now time.Time) time.Duration {
	end := toMillis(now)
	if e.EndTime != nil {
		end = *e.EndTime
	}
	lo, hi := toMillis(from), toMillis(to)
	if e.StartTime > lo {
		lo = e.StartTime
	}
	if end < hi {
		hi = end
	}
	if hi <= lo {
		return 0
	}
	return time.Duration(hi-lo) * time.Millisecond
}
