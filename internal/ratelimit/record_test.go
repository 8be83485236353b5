package ratelimit

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestFieldString(t *testing.T) {
	assert.Equal(t, "visit_error_count", FieldVisitError.String())
	assert.Equal(t, "upload_count", FieldUpload.String())
	assert.Equal(t, "unknown", Field(42).String())
}

func TestRecordCountAndBump(t *testing.T) {
	var r Record
	r.bump(FieldVisitError)
	r.bump(FieldVisitError)
	r.bump(FieldUpload)

	assert.Equal(t, int64(2), r.Count(FieldVisitError))
	assert.Equal(t, int64(1), r.Count(FieldUpload))
	assert.Equal(t, int64(0), r.Count(Field(42)))
}

func TestRecordExpired(t *testing.T) {
	midnight := time.Date(2024, 1, 2, 0, 0, 0, 0, time.UTC)
	r := Record{ExpiresAt: midnight}

	assert.False(t, r.Expired(midnight.Add(-time.Second)))
	assert.True(t, r.Expired(midnight))
	assert.True(t, r.Expired(midnight.Add(time.Hour)))
	assert.False(t, Record{}.Expired(midnight), "zero expiry never expires")
}

func TestEncodeDecodeOmitsExpiry(t *testing.T) {
	data, err := encodeRecord(Record{VisitErrorCount: 3, UploadCount: 1, ExpiresAt: time.Now()})
	require.NoError(t, err)
	assert.JSONEq(t, `{"visit_error_count":3,"upload_count":1}`, string(data))

	r, err := decodeRecord(data)
	require.NoError(t, err)
	assert.Equal(t, int64(3), r.VisitErrorCount)
	assert.True(t, r.ExpiresAt.IsZero())
}

func TestDecodeRecordMalformed(t *testing.T) {
	tests := []struct {
		name string
		data string
	}{
		{"not json", "garbage"},
		{"wrong type", `{"visit_error_count":"three"}`},
		{"negative", `{"visit_error_count":-1,"upload_count":0}`},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := decodeRecord([]byte(tt.data))
			assert.ErrorIs(t, err, ErrMalformedRecord)
		})
	}
}
