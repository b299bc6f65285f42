package ledger

import (
	"context"
	"sync"
	"time"

	"emperror.dev/errors"
	"github.com/apex/log"
	"github.com/coder/quartz"
	"gorm.io/gorm"

	"github.com/ncwatch/ncwatch/internal/models"
)

// ErrPersistence is matched by every error caused by a failed ledger or restore
// record write. A failed write never leaves a partial update behind.
var ErrPersistence = errors.Sentinel("ledger: persistence failure")

type persistenceError struct {
	op  string
	err error
}

func (e *persistenceError) Error() string {
	return "ledger: " + e.op + ": " + e.err.Error()
}

func (e *persistenceError) Unwrap() error {
	return e.err
}

func (e *persistenceError) Is(target error) bool {
	return target == ErrPersistence
}

func wrapPersistence(op string, err error) error {
	if err == nil {
		return nil
	}
	return errors.WithStackDepth(&persistenceError{op: op, err: err}, 1)
}

// Store is the append-only sample ledger and the per-server state event
// history derived from it.
type Store struct {
	reader
	clock quartz.Clock

	mu    sync.Mutex
	locks map[string]*sync.Mutex
}

// New returns a store backed by the given database. The clock provides the
// time for Record; tests pass a mock.
func New(db *gorm.DB, clock quartz.Clock) *Store {
	return &Store{
		reader: reader{db: db},
		clock:  clock,
		locks:  make(map[string]*sync.Mutex),
	}
}

// Now returns the current time of the store's clock.
func (s *Store) Now() time.Time {
	return s.clock.Now()
}

func (s *Store) lock(server string) *sync.Mutex {
	s.mu.Lock()
	defer s.mu.Unlock()
	l, ok := s.locks[server]
	if !ok {
		l = &sync.Mutex{}
		s.locks[server] = l
	}
	return l
}

// Record appends a sample taken now and advances the server's state events.
// It returns true only when an open event in another state was closed and a
// new one opened.
func (s *Store) Record(ctx context.Context, server string, state models.State, up, dl int64) (bool, error) {
	return s.RecordAt(ctx, server, state, up, dl, s.clock.Now())
}

// RecordAt is Record with an explicit sample time.
func (s *Store) RecordAt(ctx context.Context, server string, state models.State, up, dl int64, at time.Time) (bool, error) {
	return s.record(ctx, models.NewTrafficSample(server, at, state, up, dl))
}

// RecordUnreachable records that the server's torrent client could not be
// reached. The state is still tracked, but the sample does not take part in
// traffic accounting.
func (s *Store) RecordUnreachable(ctx context.Context, server string, state models.State) (bool, error) {
	sample := models.NewTrafficSample(server, s.clock.Now(), state, 0, 0)
	sample.Reachable = false
	return s.record(ctx, sample)
}

func (s *Store) record(ctx context.Context, sample models.TrafficSample) (bool, error) {
	if !sample.State.Valid() {
		return false, errors.Errorf("ledger: refusing to record state %q for %s", sample.State, sample.ServerName)
	}

	l := s.lock(sample.ServerName)
	l.Lock()
	defer l.Unlock()

	var changed bool
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		changed = false
		if err := tx.Create(&sample).Error; err != nil {
			return errors.Wrap(err, "append sample")
		}

		at := sample.Time()
		open, err := (reader{db: tx}).OpenEvent(ctx, sample.ServerName)
		if err != nil {
			return err
		}
		if open == nil {
			ev := models.OpenEvent(sample.ServerName, sample.State, at)
			return errors.Wrap(tx.Create(&ev).Error, "open event")
		}
		if open.State == sample.State {
			open.Refresh(at)
			return errors.Wrap(tx.Model(open).Update("duration", open.Duration).Error, "refresh event")
		}

		open.Close(at)
		err = tx.Model(open).Updates(map[string]interface{}{
			"end_time": *open.EndTime,
			"duration": open.Duration,
		}).Error
		if err != nil {
			return errors.Wrap(err, "close event")
		}
		ev := models.OpenEvent(sample.ServerName, sample.State, at)
		if err := tx.Create(&ev).Error; err != nil {
			return errors.Wrap(err, "open event")
		}
		changed = true
		return nil
	})
	if err != nil {
		return false, wrapPersistence("record "+sample.ServerName, err)
	}

	if changed {
		log.WithFields(log.Fields{"server": sample.ServerName, "state": sample.State}).Info("server changed state")
	}
	return changed, nil
}

// View runs fn against a consistent snapshot of the ledger. A concurrent
// Record is either entirely visible to fn or not at all.
func (s *Store) View(ctx context.Context, fn func(r Reader) error) error {
	return s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		return fn(reader{db: tx})
	})
}

// Ping reports whether the underlying database is reachable.
func (s *Store) Ping(ctx context.Context) error {
	sqlDB, err := s.db.DB()
	if err != nil {
		return errors.WithStack(err)
	}
	return errors.WithStack(sqlDB.PingContext(ctx))
}
