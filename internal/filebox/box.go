// Package filebox stores short-lived text snippets and files behind a short
// pickup code. A box can be taken exactly once before it expires.
package filebox

import (
	"errors"
	"fmt"
	"strings"
	"time"
)

var (
	// ErrNotFound is returned for unknown, expired or already taken boxes.
	ErrNotFound = errors.New("filebox not found")
	// ErrDuplicateCode is returned by Store.Create when the code is in use.
	ErrDuplicateCode = errors.New("filebox code already in use")
	// ErrInvalidCode is returned when a code is not well-formed.
	ErrInvalidCode = errors.New("invalid filebox code")
)

// ValidationError describes a rejected create request.
type ValidationError struct {
	Field  string
	Reason string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("invalid %s: %s", e.Field, e.Reason)
}

// FileType is the kind of payload a box holds.
type FileType int

const (
	// FileTypeFile is an uploaded file.
	FileTypeFile FileType = 1
	// FileTypeText is a text snippet.
	FileTypeText FileType = 2
)

// String returns the name stored in the database.
func (t FileType) String() string {
	switch t {
	case FileTypeFile:
		return "file"
	case FileTypeText:
		return "text"
	default:
		return "unknown"
	}
}

// ParseFileType accepts the stored name ("file", "text").
func ParseFileType(s string) (FileType, error) {
	switch strings.ToLower(s) {
	case "file":
		return FileTypeFile, nil
	case "text":
		return FileTypeText, nil
	default:
		return 0, fmt.Errorf("unknown file type %q", s)
	}
}

// Valid reports whether t is a known type.
func (t FileType) Valid() bool {
	return t == FileTypeFile || t == FileTypeText
}

// Box is one stored snippet or file.
type Box struct {
	ID       int64
	Code     string
	Name     string
	Size     int64
	FileType FileType
	Text     string
	// FilePath is relative to the configured upload directory.
	FilePath  string
	CreatedAt time.Time
	ExpiresAt time.Time
	UsedAt    *time.Time
}

// Taken reports whether the box has been retrieved.
func (b *Box) Taken() bool {
	return b.UsedAt != nil
}

// Expired reports whether the box can no longer be retrieved at now.
func (b *Box) Expired(now time.Time) bool {
	return !now.Before(b.ExpiresAt)
}

// Reclaimable reports whether the sweeper may delete the box.
func (b *Box) Reclaimable(now time.Time) bool {
	return b.Taken() || b.Expired(now)
}
