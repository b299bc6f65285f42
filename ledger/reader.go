package ledger

import (
	"context"
	"time"

	"emperror.dev/errors"
	"gorm.io/gorm"

	"github.com/ncwatch/ncwatch/internal/models"
)

// Reader is the set of queries the statistics are computed from.
type Reader interface {
	// SamplesSince returns the samples taken at or after since, oldest first.
	SamplesSince(ctx context.Context, server string, since time.Time) ([]models.TrafficSample, error)
	// SamplesBetween returns the samples taken within [from, to], oldest first.
	SamplesBetween(ctx context.Context, server string, from, to time.Time) ([]models.TrafficSample, error)
	// FirstSampleTime returns the time of the earliest sample, or false when the
	// server has never been sampled.
	FirstSampleTime(ctx context.Context, server string) (time.Time, bool, error)
	// OpenEvent returns the current event of the server, or nil.
	OpenEvent(ctx context.Context, server string) (*models.StateEvent, error)
	// EventsOverlapping returns the events in the given state that ended at or
	// after since, plus the open event when it is in that state.
	EventsOverlapping(ctx context.Context, server string, state models.State, since time.Time) ([]models.StateEvent, error)
	// ClosedDuration is the total duration of every closed event in the state.
	ClosedDuration(ctx context.Context, server string, state models.State) (time.Duration, error)
}

var _ Reader = reader{}

type reader struct {
	db *gorm.DB
}

func (r reader) SamplesSince(ctx context.Context, server string, since time.Time) ([]models.TrafficSample, error) {
	var samples []models.TrafficSample
	err := r.db.WithContext(ctx).
		Where("server_name = ? AND timestamp >= ?", server, since.UnixMilli()).
		Order("timestamp ASC, id ASC").
		Find(&samples).Error
	return samples, errors.Wrap(err, "ledger: could not query samples")
}

func (r reader) SamplesBetween(ctx context.Context, server string, from, to time.Time) ([]models.TrafficSample, error) {
	var samples []models.TrafficSample
	err := r.db.WithContext(ctx).
		Where("server_name = ? AND timestamp >= ? AND timestamp <= ?", server, from.UnixMilli(), to.UnixMilli()).
		Order("timestamp ASC, id ASC").
		Find(&samples).Error
	return samples, errors.Wrap(err, "ledger: could not query samples")
}

func (r reader) FirstSampleTime(ctx context.Context, server string) (time.Time, bool, error) {
	var first []int64
	err := r.db.WithContext(ctx).Model(&models.TrafficSample{}).
		Where("server_name = ?", server).
		Order("timestamp ASC").
		Limit(1).
		Pluck("timestamp", &first).Error
	if err != nil {
		return time.Time{}, false, errors.Wrap(err, "ledger: could not query first sample")
	}
	if len(first) == 0 {
		return time.Time{}, false, nil
	}
	return time.UnixMilli(first[0]), true, nil
}

func (r reader) OpenEvent(ctx context.Context, server string) (*models.StateEvent, error) {
	var events []models.StateEvent
	err := r.db.WithContext(ctx).
		Where("server_name = ? AND end_time IS NULL", server).
		Order("start_time DESC").
		Limit(1).
		Find(&events).Error
	if err != nil {
		return nil, errors.Wrap(err, "ledger: could not query open event")
	}
	if len(events) == 0 {
		return nil, nil
	}
	return &events[0], nil
}

func (r reader) EventsOverlapping(ctx context.Context, server string, state models.State, since time.Time) ([]models.StateEvent, error) {
	var events []models.StateEvent
	err := r.db.WithContext(ctx).
		Where("server_name = ? AND state = ? AND (end_time IS NULL OR end_time >= ?)", server, state, since.UnixMilli()).
		Order("start_time ASC").
		Find(&events).Error
	return events, errors.Wrap(err, "ledger: could not query events")
}

func (r reader) ClosedDuration(ctx context.Context, server string, state models.State) (time.Duration, error) {
	var total int64
	err := r.db.WithContext(ctx).Model(&models.StateEvent{}).
		Select("COALESCE(SUM(duration), 0)").
		Where("server_name = ? AND state = ? AND end_time IS NOT NULL", server, state).
		Scan(&total).Error
	if err != nil {
		return 0, errors.Wrap(err, "ledger: could not sum event durations")
	}
	return time.Duration(total) * time.Millisecond, nil
}
