package repository

import (
	"regexp"
	"sync"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"senarai/internal/list/model"
	"senarai/pkg/apperr"
	"senarai/pkg/logger"
)

func TestMain(m *testing.M) {
	logger.Init()
	m.Run()
}

const (
	maxPosQuery = "SELECT MAX(position) FROM items WHERE list_id = $1 AND parent_id IS NOT DISTINCT FROM $2"
	nodesQuery  = "SELECT id, parent_id, position FROM items WHERE list_id = $1"
)

var itemCols = []string{"id", "list_id", "text", "completed", "notes", "parent_id", "position", "created_at", "updated_at"}

func nowTime() time.Time { return time.Now() }

func TestCreateItemAppendsAfterLastSibling(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()

	repo := NewListRepository(db)

	mock.ExpectBegin()
	mock.ExpectQuery(regexp.QuoteMeta(maxPosQuery)).
		WithArgs("list-1", nil).
		WillReturnRows(sqlmock.NewRows([]string{"max"}).AddRow(2000))
	mock.ExpectQuery(regexp.QuoteMeta("INSERT INTO items")).
		WithArgs("list-1", "Milk", nil, int64(3000)).
		WillReturnRows(sqlmock.NewRows([]string{"id", "created_at", "updated_at"}).
			AddRow(int64(7), nowTime(), nowTime()))
	mock.ExpectCommit()

	item, err := repo.CreateItem("list-1", "Milk", nil)
	require.NoError(t, err)
	assert.EqualValues(t, 7, item.ID)
	assert.EqualValues(t, 3000, item.Position)
	assert.Nil(t, item.ParentID)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestCreateItemFirstSiblingStartsAtGap(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()

	repo := NewListRepository(db)

	mock.ExpectBegin()
	mock.ExpectQuery(regexp.QuoteMeta(maxPosQuery)).
		WithArgs("list-1", nil).
		WillReturnRows(sqlmock.NewRows([]string{"max"}).AddRow(nil))
	mock.ExpectQuery(regexp.QuoteMeta("INSERT INTO items")).
		WithArgs("list-1", "Milk", nil, int64(1000)).
		WillReturnRows(sqlmock.NewRows([]string{"id", "created_at", "updated_at"}).
			AddRow(int64(1), nowTime(), nowTime()))
	mock.ExpectCommit()

	item, err := repo.CreateItem("list-1", "Milk", nil)
	require.NoError(t, err)
	assert.EqualValues(t, 1000, item.Position)
	assert.NoError(t, mock.ExpectationsWereMet())
}

// Concurrent creates on the same list serialize on the per-list lock, so each
// one observes the previous insert and the assigned positions are distinct.
func TestConcurrentCreatesGetDistinctPositions(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()

	repo := NewListRepository(db)

	// Each transaction sees one more sibling than the last. The ordered
	// expectations only match if the create sections never interleave.
	for i := int64(0); i < 3; i++ {
		mock.ExpectBegin()
		var prior any
		if i > 0 {
			prior = i * 1000
		}
		mock.ExpectQuery(regexp.QuoteMeta(maxPosQuery)).
			WithArgs("list-1", nil).
			WillReturnRows(sqlmock.NewRows([]string{"max"}).AddRow(prior))
		mock.ExpectQuery(regexp.QuoteMeta("INSERT INTO items")).
			WithArgs("list-1", sqlmock.AnyArg(), nil, (i+1)*1000).
			WillReturnRows(sqlmock.NewRows([]string{"id", "created_at", "updated_at"}).
				AddRow(i+1, nowTime(), nowTime()))
		mock.ExpectCommit()
	}

	var wg sync.WaitGroup
	positions := make(chan int64, 3)
	for i := 0; i < 3; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			item, err := repo.CreateItem("list-1", "x", nil)
			if assert.NoError(t, err) {
				positions <- item.Position
			}
		}()
	}
	wg.Wait()
	close(positions)

	seen := map[int64]bool{}
	for pos := range positions {
		assert.False(t, seen[pos], "position %d assigned twice", pos)
		seen[pos] = true
	}
	assert.Len(t, seen, 3)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestMoveItemRebalancesWhenHeadroomExhausted(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()

	repo := NewListRepository(db)

	mock.ExpectBegin()
	// Positions 10 and 11 leave no integer between them.
	mock.ExpectQuery(regexp.QuoteMeta(nodesQuery)).
		WithArgs("list-1").
		WillReturnRows(sqlmock.NewRows([]string{"id", "parent_id", "position"}).
			AddRow(1, nil, 10).
			AddRow(2, nil, 11).
			AddRow(3, nil, 100))
	// The destination siblings are renumbered in the same transaction.
	mock.ExpectExec(regexp.QuoteMeta("UPDATE items SET position = $2 WHERE id = $1")).
		WithArgs(int64(1), int64(1000)).
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectExec(regexp.QuoteMeta("UPDATE items SET position = $2 WHERE id = $1")).
		WithArgs(int64(2), int64(2000)).
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectQuery(regexp.QuoteMeta("UPDATE items SET parent_id = $2, position = $3, updated_at = NOW()")).
		WithArgs(int64(3), nil, int64(1500)).
		WillReturnRows(sqlmock.NewRows(itemCols).
			AddRow(3, "list-1", "item", false, "", nil, 1500, nowTime(), nowTime()))
	mock.ExpectCommit()

	item, err := repo.MoveItem("list-1", model.MoveItemRequest{ItemID: 3, TargetID: 1})
	require.NoError(t, err)
	assert.EqualValues(t, 1500, item.Position)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestMoveItemRejectsCycleWithoutWriting(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()

	repo := NewListRepository(db)

	mock.ExpectBegin()
	mock.ExpectQuery(regexp.QuoteMeta(nodesQuery)).
		WithArgs("list-1").
		WillReturnRows(sqlmock.NewRows([]string{"id", "parent_id", "position"}).
			AddRow(1, nil, 1000).
			AddRow(2, 1, 1000))
	mock.ExpectRollback()

	// Nesting 1 under its own child 2. No UPDATE must run.
	_, err = repo.MoveItem("list-1", model.MoveItemRequest{ItemID: 1, TargetID: 2, Nest: true})
	assert.ErrorIs(t, err, apperr.ErrInvalidMove)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestDeleteItemNotFound(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()

	repo := NewListRepository(db)

	mock.ExpectExec(regexp.QuoteMeta("DELETE FROM items WHERE id = $1")).
		WithArgs(int64(99)).
		WillReturnResult(sqlmock.NewResult(0, 0))

	err = repo.DeleteItem(99)
	assert.ErrorIs(t, err, apperr.ErrNotFound)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestCanEdit(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()

	repo := NewListRepository(db)

	mock.ExpectQuery("SELECT EXISTS").
		WithArgs("list-1", "user1").
		WillReturnRows(sqlmock.NewRows([]string{"exists"}).AddRow(true))

	ok, err := repo.CanEdit("user1", "list-1")
	require.NoError(t, err)
	assert.True(t, ok)
	assert.NoError(t, mock.ExpectationsWereMet())
}
