package filebox

import (
	"context"
	"database/sql"
	_ "embed"
	"errors"
	"fmt"
	"time"

	"github.com/lib/pq"
	semconv "go.opentelemetry.io/otel/semconv/v1.26.0"

	"github.com/startdusk/filebox/internal/tracing"
)

//go:embed schema.sql
var schema string

const uniqueViolation = "23505"

const boxColumns = `id, code, name, size, file_type, text, file_path, created_at, expired_at, used_at`

// PostgresStore persists boxes in PostgreSQL through lib/pq.
type PostgresStore struct {
	db *sql.DB
}

// OpenPostgres connects to databaseURL and verifies the connection.
func OpenPostgres(ctx context.Context, databaseURL string) (*PostgresStore, error) {
	connector, err := pq.NewConnector(databaseURL)
	if err != nil {
		return nil, fmt.Errorf("parse database url: %w", err)
	}
	db := sql.OpenDB(connector)
	db.SetMaxOpenConns(10)
	db.SetConnMaxIdleTime(5 * time.Minute)

	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := db.PingContext(pingCtx); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("connect to postgres: %w", err)
	}
	return NewPostgresStore(db), nil
}

// NewPostgresStore wraps an open database handle.
func NewPostgresStore(db *sql.DB) *PostgresStore {
	return &PostgresStore{db: db}
}

// Migrate creates the filebox table and its enum type if missing.
func (s *PostgresStore) Migrate(ctx context.Context) error {
	if _, err := s.db.ExecContext(ctx, schema); err != nil {
		return fmt.Errorf("migrate filebox schema: %w", err)
	}
	return nil
}

func (s *PostgresStore) Create(ctx context.Context, b *Box) (err error) {
	ctx, span := tracing.StartClientSpan(ctx, semconv.DBSystemPostgreSQL, "INSERT filebox")
	defer func() { tracing.EndSpan(span, err) }()

	query := `
		INSERT INTO filebox (code, name, size, file_type, text, file_path, created_at, expired_at)
		VALUES ($1, $2, $3, $4::file_type, $5, $6, $7, $8)
		RETURNING id
	`
	err = s.db.QueryRowContext(ctx, query,
		b.Code, b.Name, b.Size, b.FileType.String(), b.Text, b.FilePath, b.CreatedAt, b.ExpiresAt,
	).Scan(&b.ID)
	if err != nil {
		var pqErr *pq.Error
		if errors.As(err, &pqErr) && pqErr.Code == uniqueViolation {
			return ErrDuplicateCode
		}
		return fmt.Errorf("insert filebox: %w", err)
	}
	return nil
}

func (s *PostgresStore) GetByCode(ctx context.Context, code string) (b *Box, err error) {
	ctx, span := tracing.StartClientSpan(ctx, semconv.DBSystemPostgreSQL, "SELECT filebox")
	defer func() { tracing.EndSpan(span, err) }()

	row := s.db.QueryRowContext(ctx, `SELECT `+boxColumns+` FROM filebox WHERE code = $1`, code)
	b, err = scanBox(row)
	if err != nil {
		return nil, fmt.Errorf("get filebox: %w", err)
	}
	return b, nil
}

func (s *PostgresStore) Take(ctx context.Context, code string, now time.Time) (b *Box, err error) {
	ctx, span := tracing.StartClientSpan(ctx, semconv.DBSystemPostgreSQL, "UPDATE filebox")
	defer func() { tracing.EndSpan(span, err) }()

	query := `
		UPDATE filebox SET used_at = $1
		WHERE code = $2 AND used_at IS NULL AND expired_at > $1
		RETURNING ` + boxColumns
	b, err = scanBox(s.db.QueryRowContext(ctx, query, now, code))
	if err != nil {
		return nil, fmt.Errorf("take filebox: %w", err)
	}
	return b, nil
}

func (s *PostgresStore) DeleteExpired(ctx context.Context, now time.Time) (boxes []Box, err error) {
	ctx, span := tracing.StartClientSpan(ctx, semconv.DBSystemPostgreSQL, "DELETE filebox")
	defer func() { tracing.EndSpan(span, err) }()

	rows, err := s.db.QueryContext(ctx,
		`DELETE FROM filebox WHERE expired_at <= $1 OR used_at IS NOT NULL RETURNING `+boxColumns, now)
	if err != nil {
		return nil, fmt.Errorf("delete expired fileboxes: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		b, err := scanBox(rows)
		if err != nil {
			return nil, fmt.Errorf("scan deleted filebox: %w", err)
		}
		boxes = append(boxes, *b)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("delete expired fileboxes: %w", err)
	}
	return boxes, nil
}

func (s *PostgresStore) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

func (s *PostgresStore) Close() error {
	return s.db.Close()
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanBox(row rowScanner) (*Box, error) {
	var (
		b        Box
		fileType string
		usedAt   sql.NullTime
	)
	err := row.Scan(&b.ID, &b.Code, &b.Name, &b.Size, &fileType, &b.Text, &b.FilePath,
		&b.CreatedAt, &b.ExpiresAt, &usedAt)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, err
	}

	if b.FileType, err = ParseFileType(fileType); err != nil {
		return nil, err
	}
	if usedAt.Valid {
		t := usedAt.Time
		b.UsedAt = &t
	}
	return &b, nil
}
