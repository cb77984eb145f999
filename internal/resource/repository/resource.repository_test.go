package repository

import (
	"database/sql"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"kolab/internal/resource/model"
	"kolab/pkg/logger"
)

func init() {
	logger.Init()
}

func TestGetTree(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()

	updated := time.Date(2026, 2, 3, 4, 5, 6, 0, time.UTC)
	mock.ExpectQuery("SELECT id, name, kind, parent_id, updated_at FROM resources").
		WithArgs("document").
		WillReturnRows(sqlmock.NewRows([]string{"id", "name", "kind", "parent_id", "updated_at"}).
			AddRow("root", "root", "folder", nil, updated).
			AddRow("doc-1", "notes", "leaf", "root", updated))

	repo := NewResourceRepository(db)
	nodes, err := repo.GetTree(model.DomainDocument)
	require.NoError(t, err)
	require.Len(t, nodes, 2)

	assert.Equal(t, "", nodes[0].ParentID)
	assert.Equal(t, "root", nodes[1].ParentID)
	assert.Equal(t, model.DomainDocument, nodes[0].Domain)
	assert.Equal(t, updated.Format(time.RFC3339Nano), nodes[0].Revision)

	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestGetResource(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()

	updated := time.Date(2026, 2, 3, 4, 5, 6, 0, time.UTC)
	mock.ExpectQuery("SELECT id, content, updated_at FROM resources WHERE id").
		WithArgs("doc-1").
		WillReturnRows(sqlmock.NewRows([]string{"id", "content", "updated_at"}).
			AddRow("doc-1", []byte(`{"text":"hello"}`), updated))

	repo := NewResourceRepository(db)
	res, err := repo.GetResource("doc-1")
	require.NoError(t, err)
	assert.Equal(t, "doc-1", res.ID)
	assert.JSONEq(t, `{"text":"hello"}`, string(res.Content))
	assert.Equal(t, updated.Format(time.RFC3339Nano), res.Revision)

	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestGetResourceNotFound(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()

	mock.ExpectQuery("SELECT id, content, updated_at FROM resources WHERE id").
		WithArgs("missing").
		WillReturnError(sql.ErrNoRows)

	repo := NewResourceRepository(db)
	_, err = repo.GetResource("missing")
	assert.ErrorIs(t, err, sql.ErrNoRows)
}

func TestLogActivity(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()

	mock.ExpectExec("INSERT INTO activity_log").
		WithArgs("entry-1", "userA", "document", "doc-1", "lock_acquired", "notes").
		WillReturnResult(sqlmock.NewResult(0, 1))

	repo := NewResourceRepository(db)
	require.NoError(t, repo.LogActivity("entry-1", "userA", model.DomainDocument, "doc-1", "lock_acquired", "notes"))
	assert.NoError(t, mock.ExpectationsWereMet())
}
