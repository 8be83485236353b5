package ratelimit

import (
	"encoding/json"
	"fmt"
	"time"
)

// Field selects one of the two daily counters kept per client.
type Field int

const (
	// FieldVisitError counts failed box code lookups.
	FieldVisitError Field = iota
	// FieldUpload counts upload attempts.
	FieldUpload
)

// String returns the field's name in the stored payload.
func (f Field) String() string {
	switch f {
	case FieldVisitError:
		return "visit_error_count"
	case FieldUpload:
		return "upload_count"
	default:
		return "unknown"
	}
}

// Record is a snapshot of one client's counters for the current day.
// Mutating a Record never changes store state.
type Record struct {
	VisitErrorCount int64 `json:"visit_error_count"`
	UploadCount     int64 `json:"upload_count"`
	// ExpiresAt is the local midnight at which the counters reset. It is
	// recomputed on every write.
	ExpiresAt time.Time `json:"-"`
}

// Count returns the value of the selected counter.
func (r Record) Count(f Field) int64 {
	switch f {
	case FieldVisitError:
		return r.VisitErrorCount
	case FieldUpload:
		return r.UploadCount
	default:
		return 0
	}
}

// Expired reports whether the record no longer counts at now.
func (r Record) Expired(now time.Time) bool {
	return !r.ExpiresAt.IsZero() && !now.Before(r.ExpiresAt)
}

func (r *Record) bump(f Field) {
	switch f {
	case FieldVisitError:
		r.VisitErrorCount++
	case FieldUpload:
		r.UploadCount++
	}
}

func encodeRecord(r Record) ([]byte, error) {
	return json.Marshal(r)
}

func decodeRecord(data []byte) (Record, error) {
	var r Record
	if err := json.Unmarshal(data, &r); err != nil {
		return Record{}, fmt.Errorf("%w: %v", ErrMalformedRecord, err)
	}
	if r.VisitErrorCount < 0 || r.UploadCount < 0 {
		return Record{}, fmt.Errorf("%w: negative counter", ErrMalformedRecord)
	}
	return r, nil
}
