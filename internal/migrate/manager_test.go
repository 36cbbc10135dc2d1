package migrate

import (
	"context"
	"testing"
	"testing/fstest"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"telemetra.io/migrations"
)

func TestSplitStatements(t *testing.T) {
	src := `-- leading comment; with a semicolon
create table a (id int);
insert into a values (1); -- trailing
insert into b (s) values ('x;y');

`
	got := splitStatements(src)
	require.Len(t, got, 3)
	assert.Equal(t, "create table a (id int)", got[0])
	assert.Equal(t, "insert into a values (1)", got[1])
	assert.Equal(t, "insert into b (s) values ('x;y')", got[2])
}

func TestCollectSQLOrdersByName(t *testing.T) {
	fsys := fstest.MapFS{
		"schema/0002_b.up.sql":   {Data: []byte("select 2;")},
		"schema/0001_a.up.sql":   {Data: []byte("select 1;")},
		"schema/0001_a.down.sql": {Data: []byte("select 0;")},
		"schema/README.md":       {Data: []byte("x")},
	}
	files, err := collectSQL(fsys, upSuffix)
	require.NoError(t, err)
	require.Len(t, files, 2)
	assert.Equal(t, "0001_a.up.sql", files[0].Base)
	assert.Equal(t, "schema/0001_a.up.sql", files[0].Path)
	assert.Equal(t, "0002_b.up.sql", files[1].Base)

	path, err := findFile(fsys, "0001_a.down.sql")
	require.NoError(t, err)
	assert.Equal(t, "schema/0001_a.down.sql", path)
}

func TestEmbeddedSchemaHasDownForEveryUp(t *testing.T) {
	ups, err := collectSQL(migrations.Schema, upSuffix)
	require.NoError(t, err)
	require.NotEmpty(t, ups)
	for _, up := range ups {
		_, err := findFile(migrations.Schema, up.Base[:len(up.Base)-len(upSuffix)]+downSuffix)
		assert.NoError(t, err, up.Base)
	}
}

func TestUpAppliesPendingOnly(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()

	fsys := fstest.MapFS{
		"0001_a.up.sql": {Data: []byte("create table a (id int);")},
		"0002_b.up.sql": {Data: []byte("create table b (id int); create index b_idx on b(id);")},
	}

	mock.ExpectExec(`create table if not exists schema_migrations`).WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectExec(`create table if not exists schema_seeds`).WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectQuery(`select name from schema_migrations`).
		WillReturnRows(sqlmock.NewRows([]string{"name"}).AddRow("0001_a.up.sql"))
	mock.ExpectBegin()
	mock.ExpectExec(`create table b`).WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectExec(`create index b_idx`).WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectExec(`insert into schema_migrations`).
		WithArgs("0002_b.up.sql", sqlmock.AnyArg()).
		WillReturnResult(sqlmock.NewResult(1, 1))
	mock.ExpectCommit()

	applied, err := NewManager(db, fsys, nil).Up(context.Background())
	require.NoError(t, err)
	assert.Equal(t, []string{"0002_b.up.sql"}, applied)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestDownWithoutHistory(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()

	mock.ExpectExec(`create table if not exists schema_migrations`).WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectExec(`create table if not exists schema_seeds`).WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectQuery(`select name from schema_migrations`).WillReturnRows(sqlmock.NewRows([]string{"name"}))

	_, err = NewManager(db, fstest.MapFS{}, nil).Down(context.Background())
	assert.ErrorIs(t, err, ErrNothingApplied)
	assert.NoError(t, mock.ExpectationsWereMet())
}
