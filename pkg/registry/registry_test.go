package registry

import (
	"context"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/stretchr/testify/require"

	"github.com/aibozo/codeurv2/pkg/config"
	"github.com/aibozo/codeurv2/pkg/models"
)

func newMockRegistry(t *testing.T) (*Registry, sqlmock.Sqlmock) {
	t.Helper()
	db, mock, err := sqlmock.New(sqlmock.QueryMatcherOption(sqlmock.QueryMatcherRegexp))
	require.NoError(t, err)
	t.Cleanup(func() { _ = db.Close() })
	return New(db, config.RegistryConfig{DefaultTTL: time.Minute}), mock
}

func TestReserveInsertsWhenIdentityIsFree(t *testing.T) {
	r, mock := newMockRegistry(t)
	ctx := context.Background()

	mock.ExpectBegin()
	mock.ExpectQuery(`SELECT count\(\*\) FROM symbol_records`).
		WillReturnRows(sqlmock.NewRows([]string{"count"}).AddRow(0))
	mock.ExpectExec(`INSERT INTO symbol_records`).
		WillReturnResult(sqlmock.NewResult(1, 1))
	mock.ExpectCommit()

	rec, err := r.Reserve(ctx, "plan-1", models.SymbolRecord{
		Repo: "r", Branch: "main", FQName: "pkg.Foo", Kind: "func", FilePath: "pkg/foo.go",
	})
	require.NoError(t, err)
	require.Equal(t, models.SymbolReserved, rec.Status)
	require.Equal(t, "plan-1", rec.PlanID)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestReserveRejectsWhenIdentityIsLive(t *testing.T) {
	r, mock := newMockRegistry(t)
	ctx := context.Background()

	mock.ExpectBegin()
	mock.ExpectQuery(`SELECT count\(\*\) FROM symbol_records`).
		WillReturnRows(sqlmock.NewRows([]string{"count"}).AddRow(1))
	mock.ExpectRollback()

	_, err := r.Reserve(ctx, "plan-1", models.SymbolRecord{
		Repo: "r", Branch: "main", FQName: "pkg.Foo",
	})
	require.ErrorIs(t, err, ErrSymbolTaken)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestClaimPromotesReservedSymbol(t *testing.T) {
	r, mock := newMockRegistry(t)
	ctx := context.Background()

	future := time.Now().Add(time.Hour)
	mock.ExpectBegin()
	mock.ExpectQuery(`SELECT id, repo, branch, fq_name`).
		WillReturnRows(sqlmock.NewRows(
			[]string{"id", "repo", "branch", "fq_name", "kind", "file_path", "status", "plan_id", "reserved_until", "commit_sha", "created_at"},
		).AddRow("lease-1", "r", "main", "pkg.Foo", "func", "pkg/foo.go", string(models.SymbolReserved), "plan-1", future, nil, time.Now()))
	mock.ExpectExec(`UPDATE symbol_records SET status`).
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectCommit()

	rec, err := r.Claim(ctx, "lease-1", "deadbeef")
	require.NoError(t, err)
	require.Equal(t, models.SymbolActive, rec.Status)
	require.Equal(t, "deadbeef", rec.CommitSHA)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestClaimRejectsExpiredLease(t *testing.T) {
	r, mock := newMockRegistry(t)
	ctx := context.Background()

	past := time.Now().Add(-time.Hour)
	mock.ExpectBegin()
	mock.ExpectQuery(`SELECT id, repo, branch, fq_name`).
		WillReturnRows(sqlmock.NewRows(
			[]string{"id", "repo", "branch", "fq_name", "kind", "file_path", "status", "plan_id", "reserved_until", "commit_sha", "created_at"},
		).AddRow("lease-1", "r", "main", "pkg.Foo", "func", "pkg/foo.go", string(models.SymbolReserved), "plan-1", past, nil, time.Now()))
	mock.ExpectRollback()

	_, err := r.Claim(ctx, "lease-1", "deadbeef")
	require.ErrorIs(t, err, ErrLeaseExpired)
	require.NoError(t, mock.ExpectationsWereMet())
}
