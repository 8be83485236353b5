package filebox

import (
	"context"
	"crypto/rand"
	"errors"
	"fmt"
	"io"
	"math/big"
	"os"
	"path/filepath"
	"strings"
	"unicode/utf8"

	"github.com/google/uuid"

	"github.com/startdusk/filebox/internal/clock"
	"github.com/startdusk/filebox/internal/config"
	"github.com/startdusk/filebox/internal/logger"
	"github.com/startdusk/filebox/internal/metrics"
)

const codeAlphabet = "abcdefghijklmnopqrstuvwxyz0123456789"

// maxCodeAttempts bounds regeneration after ErrDuplicateCode.
const maxCodeAttempts = 10

// CreateRequest is a validated-on-create box submission.
type CreateRequest struct {
	Name         string
	DurationDays int
	FileType     FileType
	Text         string
	// FileName and File are used for file boxes only.
	FileName string
	File     io.Reader
}

// Service implements box creation and one-time retrieval.
type Service struct {
	store   Store
	cfg     config.BoxConfig
	now     clock.Func
	newCode func(n int) (string, error)
	log     *logger.ComponentLogger
}

// ServiceOption customises a Service.
type ServiceOption func(*Service)

// WithServiceClock replaces the wall clock.
func WithServiceClock(now clock.Func) ServiceOption {
	return func(s *Service) {
		if now != nil {
			s.now = now
		}
	}
}

// WithCodeGenerator replaces the random code generator.
func WithCodeGenerator(gen func(n int) (string, error)) ServiceOption {
	return func(s *Service) {
		if gen != nil {
			s.newCode = gen
		}
	}
}

// NewService creates a service storing boxes in store and files under
// cfg.UploadPath.
func NewService(store Store, cfg config.BoxConfig, opts ...ServiceOption) *Service {
	s := &Service{
		store:   store,
		cfg:     cfg,
		now:     clock.Local,
		newCode: RandomCode,
		log:     logger.Get().WithComponent("filebox"),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// RandomCode returns n characters drawn uniformly from [a-z0-9].
func RandomCode(n int) (string, error) {
	var sb strings.Builder
	sb.Grow(n)
	base := big.NewInt(int64(len(codeAlphabet)))
	for i := 0; i < n; i++ {
		idx, err := rand.Int(rand.Reader, base)
		if err != nil {
			return "", fmt.Errorf("generate code: %w", err)
		}
		sb.WriteByte(codeAlphabet[idx.Int64()])
	}
	return sb.String(), nil
}

// ValidateCode checks that code has the configured length and alphabet.
func (s *Service) ValidateCode(code string) error {
	if len(code) != s.cfg.CodeLength {
		return ErrInvalidCode
	}
	for i := 0; i < len(code); i++ {
		if !strings.ContainsRune(codeAlphabet, rune(code[i])) {
			return ErrInvalidCode
		}
	}
	return nil
}

// Create validates req, stores any file and inserts the box under a fresh
// code.
func (s *Service) Create(ctx context.Context, req CreateRequest) (*Box, error) {
	if err := s.validate(req); err != nil {
		return nil, err
	}

	now := s.now()
	b := &Box{
		Name:      req.Name,
		FileType:  req.FileType,
		CreatedAt: now,
		ExpiresAt: now.AddDate(0, 0, req.DurationDays),
	}

	var dir string
	switch req.FileType {
	case FileTypeText:
		b.Text = req.Text
		b.Size = int64(len(req.Text))
	case FileTypeFile:
		var err error
		dir, err = s.saveFile(b, req)
		if err != nil {
			return nil, err
		}
	}

	if err := s.insert(ctx, b); err != nil {
		if dir != "" {
			_ = os.RemoveAll(dir)
		}
		return nil, err
	}

	metrics.RecordBoxCreated(b.FileType.String())
	s.log.Info("filebox created", logger.Fields{
		"id":         b.ID,
		"file_type":  b.FileType.String(),
		"size":       b.Size,
		"expires_at": b.ExpiresAt,
	})
	return b, nil
}

func (s *Service) insert(ctx context.Context, b *Box) error {
	for attempt := 0; attempt < maxCodeAttempts; attempt++ {
		code, err := s.newCode(s.cfg.CodeLength)
		if err != nil {
			return err
		}
		b.Code = code

		err = s.store.Create(ctx, b)
		if !errors.Is(err, ErrDuplicateCode) {
			return err
		}
		s.log.Debug("code collision, regenerating", logger.Fields{"attempt": attempt + 1})
	}
	return fmt.Errorf("no free code after %d attempts: %w", maxCodeAttempts, ErrDuplicateCode)
}

func (s *Service) validate(req CreateRequest) error {
	if utf8.RuneCountInString(req.Name) > s.cfg.MaxNameLength {
		return &ValidationError{Field: "name", Reason: fmt.Sprintf("more than %d characters", s.cfg.MaxNameLength)}
	}
	if req.DurationDays < 1 || req.DurationDays > s.cfg.MaxDurationDays {
		return &ValidationError{Field: "duration_day", Reason: fmt.Sprintf("must be between 1 and %d", s.cfg.MaxDurationDays)}
	}

	switch req.FileType {
	case FileTypeText:
		n := utf8.RuneCountInString(req.Text)
		if n == 0 {
			return &ValidationError{Field: "text", Reason: "empty"}
		}
		if n > s.cfg.MaxTextLength {
			return &ValidationError{Field: "text", Reason: fmt.Sprintf("more than %d characters", s.cfg.MaxTextLength)}
		}
	case FileTypeFile:
		if req.File == nil {
			return &ValidationError{Field: "file", Reason: "empty"}
		}
	default:
		return &ValidationError{Field: "file_type", Reason: "must be 1 (file) or 2 (text)"}
	}
	return nil
}

// saveFile writes the upload to <upload_path>/<uuid>/<name> and returns the
// directory it created.
func (s *Service) saveFile(b *Box, req CreateRequest) (string, error) {
	name := sanitizeFileName(req.FileName)
	rel := filepath.Join(uuid.NewString(), name)
	dir := filepath.Join(s.cfg.UploadPath, filepath.Dir(rel))

	if err := os.MkdirAll(dir, 0o755); err != nil {
		return "", fmt.Errorf("create upload dir: %w", err)
	}

	f, err := os.Create(filepath.Join(s.cfg.UploadPath, rel))
	if err != nil {
		_ = os.RemoveAll(dir)
		return "", fmt.Errorf("create upload file: %w", err)
	}

	n, err := io.Copy(f, io.LimitReader(req.File, s.cfg.MaxFileSize+1))
	closeErr := f.Close()
	if err == nil {
		err = closeErr
	}
	if err != nil {
		_ = os.RemoveAll(dir)
		return "", fmt.Errorf("write upload file: %w", err)
	}
	if n > s.cfg.MaxFileSize {
		_ = os.RemoveAll(dir)
		return "", &ValidationError{Field: "file", Reason: fmt.Sprintf("larger than %d bytes", s.cfg.MaxFileSize)}
	}

	if b.Name == "" {
		b.Name = name
	}
	b.FilePath = rel
	b.Size = n
	return dir, nil
}

func sanitizeFileName(name string) string {
	name = filepath.Base(strings.ReplaceAll(name, "\\", "/"))
	if name == "." || name == ".." || name == "/" || name == "" {
		return "file"
	}
	return name
}

// Get returns box metadata. Expired boxes are not found.
func (s *Service) Get(ctx context.Context, code string) (*Box, error) {
	if err := s.ValidateCode(code); err != nil {
		metrics.RecordBoxLookupFailure("invalid_code")
		return nil, err
	}

	b, err := s.store.GetByCode(ctx, code)
	if err == nil && b.Expired(s.now()) {
		err = ErrNotFound
	}
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			metrics.RecordBoxLookupFailure("not_found")
		}
		return nil, err
	}
	return b, nil
}

// Take retrieves a box exactly once.
func (s *Service) Take(ctx context.Context, code string) (*Box, error) {
	if err := s.ValidateCode(code); err != nil {
		metrics.RecordBoxLookupFailure("invalid_code")
		return nil, err
	}

	b, err := s.store.Take(ctx, code, s.now())
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			metrics.RecordBoxLookupFailure("not_found")
		}
		return nil, err
	}

	metrics.RecordBoxTaken(b.FileType.String())
	return b, nil
}

// Pickup takes a box once. A file box has its stored file opened before the
// box is marked used, so a missing file leaves the box available. The caller
// closes the returned file, which is nil for text boxes.
func (s *Service) Pickup(ctx context.Context, code string) (*Box, *os.File, error) {
	peek, err := s.Get(ctx, code)
	if err != nil {
		return nil, nil, err
	}
	if peek.Taken() {
		metrics.RecordBoxLookupFailure("not_found")
		return nil, nil, ErrNotFound
	}

	var f *os.File
	if peek.FileType == FileTypeFile {
		if f, err = s.Open(peek); err != nil {
			return nil, nil, err
		}
	}

	b, err := s.Take(ctx, code)
	if err != nil {
		if f != nil {
			_ = f.Close()
		}
		return nil, nil, err
	}
	return b, f, nil
}

// Open opens the stored file of a file box.
func (s *Service) Open(b *Box) (*os.File, error) {
	if b.FileType != FileTypeFile {
		return nil, fmt.Errorf("box %d holds no file", b.ID)
	}
	f, err := os.Open(filepath.Join(s.cfg.UploadPath, b.FilePath))
	if err != nil {
		return nil, fmt.Errorf("open stored file: %w", err)
	}
	return f, nil
}

// Ping checks the box store.
func (s *Service) Ping(ctx context.Context) error {
	return s.store.Ping(ctx)
}
