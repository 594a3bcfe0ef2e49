package sqlstore

import (
	"context"
	"database/sql"
	_ "embed"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/jmoiron/sqlx"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
	_ "modernc.org/sqlite" // registers the "sqlite" database/sql driver

	"github.com/giantswarm/uma-oauth/instrumentation"
	"github.com/giantswarm/uma-oauth/storage"
)

// driverName is the database/sql driver registered by modernc.org/sqlite
const driverName = "sqlite"

//go:embed schema.sql
var schemaSQL string

// Store implements storage.ResourceSetStore and storage.PolicyStore on SQLite.
type Store struct {
	db     *sqlx.DB
	logger *slog.Logger

	instrumentation *instrumentation.Instrumentation
	tracer          trace.Tracer
}

var (
	_ storage.ResourceSetStore = (*Store)(nil)
	_ storage.PolicyStore      = (*Store)(nil)
)

// Open connects to the SQLite database described by dsn and creates the
// schema if needed.
func Open(ctx context.Context, dsn string) (*Store, error) {
	db, err := sqlx.ConnectContext(ctx, driverName, dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to open sqlite database: %w", err)
	}

	// SQLite allows a single writer, and every connection to ":memory:"
	// would see its own empty database.
	db.SetMaxOpenConns(1)

	if _, err := db.ExecContext(ctx, schemaSQL); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("failed to initialize schema: %w", err)
	}

	return &Store{db: db, logger: slog.Default()}, nil
}

// Close closes the underlying database connection.
func (s *Store) Close() error {
	return s.db.Close()
}

// SetLogger sets a custom logger
func (s *Store) SetLogger(logger *slog.Logger) {
	if logger != nil {
		s.logger = logger
	}
}

// SetInstrumentation enables tracing and operation metrics
func (s *Store) SetInstrumentation(inst *instrumentation.Instrumentation) {
	s.instrumentation = inst
	if inst != nil {
		s.tracer = inst.Tracer("storage")
	}
}

// ============================================================
// Rows
// ============================================================

type resourceSetRow struct {
	ID        string `db:"id"`
	Name      string `db:"name"`
	URI       string `db:"uri"`
	Type      string `db:"type"`
	IconURI   string `db:"icon_uri"`
	Scopes    string `db:"scopes"`
	Owner     string `db:"owner"`
	CreatedAt int64  `db:"created_at"`
	UpdatedAt int64  `db:"updated_at"`
}

func (r *resourceSetRow) toResourceSet(policyIDs []string) (*storage.ResourceSet, error) {
	rs := &storage.ResourceSet{
		ID:        r.ID,
		Name:      r.Name,
		URI:       r.URI,
		Type:      r.Type,
		IconURI:   r.IconURI,
		Owner:     r.Owner,
		PolicyIDs: policyIDs,
		CreatedAt: time.Unix(0, r.CreatedAt),
		UpdatedAt: time.Unix(0, r.UpdatedAt),
	}
	if err := json.Unmarshal([]byte(r.Scopes), &rs.Scopes); err != nil {
		return nil, fmt.Errorf("failed to decode scopes of resource set %s: %w", r.ID, err)
	}
	return rs, nil
}

type policyRow struct {
	ID             string `db:"id"`
	ResourceSetIDs string `db:"resource_set_ids"`
	Rules          string `db:"rules"`
	CreatedAt      int64  `db:"created_at"`
	UpdatedAt      int64  `db:"updated_at"`
}

func (r *policyRow) toPolicy() (*storage.Policy, error) {
	p := &storage.Policy{
		ID:        r.ID,
		CreatedAt: time.Unix(0, r.CreatedAt),
		UpdatedAt: time.Unix(0, r.UpdatedAt),
	}
	if err := json.Unmarshal([]byte(r.ResourceSetIDs), &p.ResourceSetIDs); err != nil {
		return nil, fmt.Errorf("failed to decode resource sets of policy %s: %w", r.ID, err)
	}
	if err := json.Unmarshal([]byte(r.Rules), &p.Rules); err != nil {
		return nil, fmt.Errorf("failed to decode rules of policy %s: %w", r.ID, err)
	}
	return p, nil
}

// encodeJSON marshals v, storing nil slices as an empty JSON array.
func encodeJSON[T any](v []T) (string, error) {
	if v == nil {
		v = []T{}
	}
	b, err := json.Marshal(v)
	if err != nil {
		return "", err
	}
	return string(b), nil
}

// ============================================================
// Helpers
// ============================================================

// withTx runs fn in a transaction, committing when it returns nil.
func (s *Store) withTx(ctx context.Context, fn func(*sqlx.Tx) error) error {
	tx, err := s.db.BeginTxx(ctx, nil)
	if err != nil {
		return fmt.Errorf("beginning transaction: %w", err)
	}
	if err := fn(tx); err != nil {
		_ = tx.Rollback()
		return err
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("committing transaction: %w", err)
	}
	return nil
}

func (s *Store) observe(ctx context.Context, operation string, fn func(context.Context) error) error {
	if s.tracer == nil {
		return fn(ctx)
	}

	ctx, span := s.tracer.Start(ctx, "storage."+operation,
		trace.WithAttributes(
			attribute.String(instrumentation.AttrStorageOperation, operation),
			attribute.String(instrumentation.AttrStorageType, "sqlite"),
		))
	defer span.End()

	start := time.Now()
	err := fn(ctx)

	result := "success"
	if err != nil {
		result = "error"
		instrumentation.RecordError(span, err)
	} else {
		instrumentation.SetSpanSuccess(span)
	}
	s.instrumentation.Metrics().RecordStorageOperation(ctx, operation, result, float64(time.Since(start).Microseconds())/1000)
	return err
}

func exists(ctx context.Context, q sqlx.QueryerContext, query string, args ...any) (bool, error) {
	var n int
	if err := sqlx.GetContext(ctx, q, &n, query, args...); err != nil {
		return false, err
	}
	return n > 0, nil
}

func policyIDsOf(ctx context.Context, q sqlx.QueryerContext, resourceSetID string) ([]string, error) {
	var ids []string
	err := sqlx.SelectContext(ctx, q, &ids,
		`SELECT policy_id FROM policy_attachments WHERE resource_set_id = ? ORDER BY position`,
		resourceSetID)
	if err != nil {
		return nil, fmt.Errorf("failed to load policy attachments: %w", err)
	}
	return ids, nil
}

func invalidInput(format string, args ...any) error {
	return fmt.Errorf("%w: "+format, append([]any{storage.ErrInvalidInput}, args...)...)
}

func isNoRows(err error) bool {
	return errors.Is(err, sql.ErrNoRows)
}
