package api

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/aibozo/codeurv2/pkg/models"
)

// ErrNotFound is returned by Repository.Get when id has no row.
var ErrNotFound = errors.New("api: change request not found")

// Repository is the hand-written-SQL-over-database/sql Store implementation,
// matching pkg/orchestrator's Store and pkg/registry's persistence style
// rather than introducing an ORM.
type Repository struct {
	db *sql.DB
}

// NewRepository wraps db for change_request persistence.
func NewRepository(db *sql.DB) *Repository {
	return &Repository{db: db}
}

// Create inserts a new change_requests row. cr.CreatedAt is not written;
// created_at always takes the database default.
func (r *Repository) Create(ctx context.Context, cr models.ChangeRequest) error {
	_, err := r.db.ExecContext(ctx, `
		INSERT INTO change_requests (id, requester, repo, branch, description)
		VALUES ($1, $2, $3, $4, $5)
	`, cr.ID, cr.Requester, cr.Repo, cr.Branch, cr.Description)
	if err != nil {
		return fmt.Errorf("insert change request %s: %w", cr.ID, err)
	}
	return nil
}

// Get fetches one change_requests row by id.
func (r *Repository) Get(ctx context.Context, id string) (models.ChangeRequest, error) {
	var cr models.ChangeRequest
	row := r.db.QueryRowContext(ctx, `
		SELECT id, requester, repo, branch, description, created_at
		FROM change_requests WHERE id = $1
	`, id)
	if err := row.Scan(&cr.ID, &cr.Requester, &cr.Repo, &cr.Branch, &cr.Description, &cr.CreatedAt); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return models.ChangeRequest{}, ErrNotFound
		}
		return models.ChangeRequest{}, fmt.Errorf("load change request %s: %w", id, err)
	}
	return cr, nil
}
