package models

import (
	"database/sql/driver"
	"time"

	"emperror.dev/errors"
	"github.com/goccy/go-json"
)

// State is the throttle state of a server as derived from the control panel.
type State string

const (
	StateHigh    State = "high"
	StateLow     State = "low"
	StateUnknown State = "unknown"
)

// Valid reports whether the state may be written to the ledger. StateUnknown is
// only ever reported for servers that have no samples yet.
func (s State) Valid() bool {
	return s == StateHigh || s == StateLow
}

// StateFromThrottled maps the boolean reported by the control panel onto a
// state.
func StateFromThrottled(throttled bool) State {
	if throttled {
		return StateLow
	}
	return StateHigh
}

// UploadLimits maps a torrent hash onto the upload limit, in bytes per second,
// that it had before the server was throttled. Zero means unlimited.
type UploadLimits map[string]int64

// Value implements driver.Valuer, storing the limits as a JSON document.
func (u UploadLimits) Value() (driver.Value, error) {
	if u == nil {
		return "{}", nil
	}
	b, err := json.Marshal(map[string]int64(u))
	if err != nil {
		return nil, errors.WithStack(err)
	}
	return string(b), nil
}

// Scan implements sql.Scanner.
func (u *UploadLimits) Scan(src interface{}) error {
	var b []byte
	switch v := src.(type) {
	case nil:
		*u = UploadLimits{}
		return nil
	case string:
		b = []byte(v)
	case []byte:
		b = v
	default:
		return errors.Errorf("models: cannot scan %T into UploadLimits", src)
	}
	m := make(map[string]int64)
	if err := json.Unmarshal(b, &m); err != nil {
		return errors.WithStack(err)
	}
	*u = m
	return nil
}

func toMillis(t time.Time) int64 {
	return t.UnixMilli()
}

func fromMillis(ms int64) time.Time {
	return time.UnixMilli(ms)
}
