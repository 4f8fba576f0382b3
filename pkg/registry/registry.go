// Package registry implements the symbol registry (component B): a
// reserve/claim/lookup lease protocol over identifiers so two concurrent
// coding tasks never invent the same symbol name, with TTL-based lazy
// expiry instead of a background sweeper.
//
// The conflict-check-then-insert idiom is grounded on tarsy's
// pkg/queue/worker.go claimNextSession, which runs a SELECT ... FOR UPDATE
// SKIP LOCKED inside a transaction before claiming a row. original_source's
// apps/symbol_registry/db.py instead opens a bare SERIALIZABLE transaction
// and lets Postgres's serialization-failure detection do the conflict
// check; this package follows original_source's SERIALIZABLE approach
// (simpler for an INSERT-shaped reservation, where there is no existing row
// to lock) but keeps tarsy's transaction-scoped claim-then-commit shape.
package registry

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgconn"

	"github.com/aibozo/codeurv2/pkg/config"
	"github.com/aibozo/codeurv2/pkg/models"
)

// ErrSymbolTaken is returned by Reserve when a live (non-expired) record
// already occupies the identity (repo, branch, fqName).
var ErrSymbolTaken = errors.New("registry: symbol already reserved or active")

// ErrLeaseNotFound is returned by Claim when no record has the given lease
// id, and by Lookup when no live record holds the identity.
var ErrLeaseNotFound = errors.New("registry: lease not found")

// ErrLeaseExpired is returned by Claim when the reservation's TTL has
// lapsed; the caller should Reserve again rather than retry the Claim.
var ErrLeaseExpired = errors.New("registry: lease expired")

// Registry is an explicit service object, not global mutable state.
type Registry struct {
	db  *sql.DB
	ttl time.Duration
}

// New constructs a Registry bound to db, defaulting reservation TTL from cfg.
func New(db *sql.DB, cfg config.RegistryConfig) *Registry {
	ttl := cfg.DefaultTTL
	if ttl <= 0 {
		ttl = 10 * time.Minute
	}
	return &Registry{db: db, ttl: ttl}
}

// Reserve attempts to claim (repo, branch, fqName) for planID. It runs in a
// SERIALIZABLE transaction: a concurrent Reserve for the same identity will
// have one side fail with a serialization_failure, which this method
// surfaces as ErrSymbolTaken after a single automatic retry (Postgres
// recommends retrying serialization failures, not treating them as fatal).
func (r *Registry) Reserve(ctx context.Context, planID string, sym models.SymbolRecord) (models.SymbolRecord, error) {
	for attempt := 0; attempt < 2; attempt++ {
		rec, err := r.tryReserve(ctx, planID, sym)
		if err == nil {
			return rec, nil
		}
		if isSerializationFailure(err) && attempt == 0 {
			continue
		}
		if isSerializationFailure(err) {
			return models.SymbolRecord{}, ErrSymbolTaken
		}
		return models.SymbolRecord{}, err
	}
	return models.SymbolRecord{}, ErrSymbolTaken
}

func (r *Registry) tryReserve(ctx context.Context, planID string, sym models.SymbolRecord) (models.SymbolRecord, error) {
	tx, err := r.db.BeginTx(ctx, &sql.TxOptions{Isolation: sql.LevelSerializable})
	if err != nil {
		return models.SymbolRecord{}, fmt.Errorf("begin serializable tx: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	now := time.Now()
	var liveCount int
	err = tx.QueryRowContext(ctx, `
		SELECT count(*) FROM symbol_records
		WHERE repo = $1 AND branch = $2 AND fq_name = $3
		  AND (status != 'reserved' OR reserved_until > $4)`,
		sym.Repo, sym.Branch, sym.FQName, now,
	).Scan(&liveCount)
	if err != nil {
		return models.SymbolRecord{}, fmt.Errorf("check live symbol: %w", err)
	}
	if liveCount > 0 {
		return models.SymbolRecord{}, ErrSymbolTaken
	}

	rec := sym
	rec.ID = uuid.NewString()
	rec.Status = models.SymbolReserved
	rec.PlanID = planID
	until := now.Add(r.ttl)
	rec.ReservedUntil = &until
	rec.CreatedAt = now

	_, err = tx.ExecContext(ctx, `
		INSERT INTO symbol_records (id, repo, branch, fq_name, kind, file_path, status, plan_id, reserved_until, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)`,
		rec.ID, rec.Repo, rec.Branch, rec.FQName, rec.Kind, rec.FilePath, rec.Status, rec.PlanID, rec.ReservedUntil, rec.CreatedAt,
	)
	if err != nil {
		return models.SymbolRecord{}, fmt.Errorf("insert symbol reservation: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return models.SymbolRecord{}, fmt.Errorf("commit reservation: %w", err)
	}
	return rec, nil
}

// Claim promotes a reserved symbol to active once the coding agent commits
// the file that defines it. It fails with ErrLeaseExpired (not a silent
// no-op) if the TTL lapsed before the commit landed, since the caller must
// then re-plan rather than trust a stale reservation.
func (r *Registry) Claim(ctx context.Context, leaseID, commitSHA string) (models.SymbolRecord, error) {
	tx, err := r.db.BeginTx(ctx, &sql.TxOptions{Isolation: sql.LevelSerializable})
	if err != nil {
		return models.SymbolRecord{}, fmt.Errorf("begin claim tx: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	rec, err := scanSymbol(tx.QueryRowContext(ctx, `
		SELECT id, repo, branch, fq_name, kind, file_path, status, plan_id, reserved_until, commit_sha, created_at
		FROM symbol_records WHERE id = $1 FOR UPDATE`, leaseID))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return models.SymbolRecord{}, ErrLeaseNotFound
		}
		return models.SymbolRecord{}, fmt.Errorf("select lease: %w", err)
	}

	if rec.Status != models.SymbolReserved {
		return models.SymbolRecord{}, fmt.Errorf("registry: lease %s is not reserved (status=%s)", leaseID, rec.Status)
	}
	if rec.ReservedUntil != nil && time.Now().After(*rec.ReservedUntil) {
		return models.SymbolRecord{}, ErrLeaseExpired
	}

	rec.Status = models.SymbolActive
	rec.CommitSHA = commitSHA
	_, err = tx.ExecContext(ctx, `
		UPDATE symbol_records SET status = $1, commit_sha = $2, reserved_until = NULL WHERE id = $3`,
		rec.Status, rec.CommitSHA, rec.ID)
	if err != nil {
		return models.SymbolRecord{}, fmt.Errorf("activate symbol: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return models.SymbolRecord{}, fmt.Errorf("commit claim: %w", err)
	}
	return rec, nil
}

// Lookup returns the current record for (repo, branch, fqName), treating a
// lapsed reservation as not-found (lazy expiry — there is no sweeper).
func (r *Registry) Lookup(ctx context.Context, repo, branch, fqName string) (models.SymbolRecord, error) {
	rec, err := scanSymbol(r.db.QueryRowContext(ctx, `
		SELECT id, repo, branch, fq_name, kind, file_path, status, plan_id, reserved_until, commit_sha, created_at
		FROM symbol_records WHERE repo = $1 AND branch = $2 AND fq_name = $3
		ORDER BY created_at DESC LIMIT 1`, repo, branch, fqName))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return models.SymbolRecord{}, ErrLeaseNotFound
		}
		return models.SymbolRecord{}, fmt.Errorf("lookup symbol: %w", err)
	}
	if rec.Expired(time.Now()) {
		return models.SymbolRecord{}, ErrLeaseNotFound
	}
	return rec, nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanSymbol(row rowScanner) (models.SymbolRecord, error) {
	var rec models.SymbolRecord
	var planID, commitSHA sql.NullString
	var reservedUntil sql.NullTime
	err := row.Scan(&rec.ID, &rec.Repo, &rec.Branch, &rec.FQName, &rec.Kind, &rec.FilePath,
		&rec.Status, &planID, &reservedUntil, &commitSHA, &rec.CreatedAt)
	if err != nil {
		return models.SymbolRecord{}, err
	}
	rec.PlanID = planID.String
	rec.CommitSHA = commitSHA.String
	if reservedUntil.Valid {
		t := reservedUntil.Time
		rec.ReservedUntil = &t
	}
	return rec, nil
}

// isSerializationFailure reports whether err is Postgres error code 40001,
// the serialization_failure SQLSTATE a SERIALIZABLE transaction raises on a
// detected conflict.
func isSerializationFailure(err error) bool {
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		return pgErr.Code == "40001"
	}
	return false
}
