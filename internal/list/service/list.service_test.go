package service

import (
	"regexp"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"senarai/internal/list/model"
	"senarai/internal/list/repository"
	"senarai/pkg/apperr"
	"senarai/pkg/logger"
	"senarai/socket"
)

func TestMain(m *testing.M) {
	logger.Init()
	m.Run()
}

func newService(t *testing.T) (*ListService, sqlmock.Sqlmock, *socket.Hub) {
	t.Helper()
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })

	// The hub is not running: published events land in the buffered channel
	// where the test can inspect them.
	hub := socket.NewHub()
	return NewListService(repository.NewListRepository(db), hub), mock, hub
}

func expectCanEdit(mock sqlmock.Sqlmock, listID, userID string, allowed bool) {
	mock.ExpectQuery("SELECT EXISTS").
		WithArgs(listID, userID).
		WillReturnRows(sqlmock.NewRows([]string{"exists"}).AddRow(allowed))
}

func takeEvent(t *testing.T, hub *socket.Hub) socket.Event {
	t.Helper()
	select {
	case evt := <-hub.Broadcast:
		return evt
	default:
		t.Fatal("expected a published event")
		return socket.Event{}
	}
}

func assertNoEvent(t *testing.T, hub *socket.Hub) {
	t.Helper()
	select {
	case evt := <-hub.Broadcast:
		t.Fatalf("unexpected event published: %+v", evt)
	default:
	}
}

func TestCreateItemPublishesAfterCommit(t *testing.T) {
	svc, mock, hub := newService(t)

	expectCanEdit(mock, "list-1", "user1", true)
	mock.ExpectBegin()
	mock.ExpectQuery(regexp.QuoteMeta("SELECT MAX(position) FROM items")).
		WithArgs("list-1", nil).
		WillReturnRows(sqlmock.NewRows([]string{"max"}).AddRow(nil))
	mock.ExpectQuery(regexp.QuoteMeta("INSERT INTO items")).
		WithArgs("list-1", "Milk", nil, int64(1000)).
		WillReturnRows(sqlmock.NewRows([]string{"id", "created_at", "updated_at"}).
			AddRow(int64(7), time.Now(), time.Now()))
	mock.ExpectCommit()

	item, err := svc.CreateItem("user1", model.CreateItemRequest{ListID: "list-1", Text: "Milk"})
	require.NoError(t, err)
	assert.EqualValues(t, 7, item.ID)

	evt := takeEvent(t, hub)
	assert.Equal(t, socket.ItemCreatedType, evt.Kind)
	assert.Equal(t, "list-1", evt.ListID)
	assert.Equal(t, "user1", evt.UserID)
	require.NotNil(t, evt.Item, "creates carry the full resulting record")
	assert.Equal(t, item, evt.Item)

	assertNoEvent(t, hub)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestCreateItemPermissionDenied(t *testing.T) {
	svc, mock, hub := newService(t)

	expectCanEdit(mock, "list-1", "intruder", false)

	_, err := svc.CreateItem("intruder", model.CreateItemRequest{ListID: "list-1", Text: "Milk"})
	assert.ErrorIs(t, err, apperr.ErrPermissionDenied)
	assertNoEvent(t, hub)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestCreateItemRetriesTransientFailure(t *testing.T) {
	svc, mock, hub := newService(t)

	expectCanEdit(mock, "list-1", "user1", true)

	// First attempt dies before commit; nothing was published, so the whole
	// operation retries and succeeds exactly once.
	mock.ExpectBegin().WillReturnError(assert.AnError)
	mock.ExpectBegin()
	mock.ExpectQuery(regexp.QuoteMeta("SELECT MAX(position) FROM items")).
		WithArgs("list-1", nil).
		WillReturnRows(sqlmock.NewRows([]string{"max"}).AddRow(nil))
	mock.ExpectQuery(regexp.QuoteMeta("INSERT INTO items")).
		WithArgs("list-1", "Milk", nil, int64(1000)).
		WillReturnRows(sqlmock.NewRows([]string{"id", "created_at", "updated_at"}).
			AddRow(int64(7), time.Now(), time.Now()))
	mock.ExpectCommit()

	item, err := svc.CreateItem("user1", model.CreateItemRequest{ListID: "list-1", Text: "Milk"})
	require.NoError(t, err)
	assert.EqualValues(t, 7, item.ID)

	takeEvent(t, hub)
	// A retried apply must not double-broadcast.
	assertNoEvent(t, hub)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestMoveItemCycleLeavesStateUntouched(t *testing.T) {
	svc, mock, hub := newService(t)

	itemCols := []string{"id", "list_id", "text", "completed", "notes", "parent_id", "position", "created_at", "updated_at"}
	mock.ExpectQuery(regexp.QuoteMeta("FROM items WHERE id = $1")).
		WithArgs(int64(1)).
		WillReturnRows(sqlmock.NewRows(itemCols).
			AddRow(1, "list-1", "Parent", false, "", nil, 1000, time.Now(), time.Now()))
	expectCanEdit(mock, "list-1", "user1", true)
	mock.ExpectBegin()
	mock.ExpectQuery(regexp.QuoteMeta("SELECT id, parent_id, position FROM items")).
		WithArgs("list-1").
		WillReturnRows(sqlmock.NewRows([]string{"id", "parent_id", "position"}).
			AddRow(1, nil, 1000).
			AddRow(2, 1, 1000))
	mock.ExpectRollback()

	_, err := svc.MoveItem("user1", model.MoveItemRequest{ItemID: 1, TargetID: 2, Nest: true})
	assert.ErrorIs(t, err, apperr.ErrInvalidMove)
	assertNoEvent(t, hub)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestDeleteListRequiresOwner(t *testing.T) {
	svc, mock, hub := newService(t)

	mock.ExpectQuery(regexp.QuoteMeta("FROM lists WHERE id = $1")).
		WithArgs("list-1").
		WillReturnRows(sqlmock.NewRows([]string{"id", "name", "owner_id", "created_at", "updated_at"}).
			AddRow("list-1", "Groceries", "someone-else", time.Now(), time.Now()))

	err := svc.DeleteList("user1", "list-1")
	assert.ErrorIs(t, err, apperr.ErrPermissionDenied)
	assertNoEvent(t, hub)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestDeleteItemPublishesIdentifierOnly(t *testing.T) {
	svc, mock, hub := newService(t)

	itemCols := []string{"id", "list_id", "text", "completed", "notes", "parent_id", "position", "created_at", "updated_at"}
	mock.ExpectQuery(regexp.QuoteMeta("FROM items WHERE id = $1")).
		WithArgs(int64(7)).
		WillReturnRows(sqlmock.NewRows(itemCols).
			AddRow(7, "list-1", "Milk", false, "", nil, 1000, time.Now(), time.Now()))
	expectCanEdit(mock, "list-1", "user1", true)
	mock.ExpectExec(regexp.QuoteMeta("DELETE FROM items WHERE id = $1")).
		WithArgs(int64(7)).
		WillReturnResult(sqlmock.NewResult(0, 1))

	require.NoError(t, svc.DeleteItem("user1", 7))

	evt := takeEvent(t, hub)
	assert.Equal(t, socket.ItemDeletedType, evt.Kind)
	assert.EqualValues(t, 7, evt.ItemID)
	assert.Nil(t, evt.Item, "deletes carry the identifier alone")
	assert.NoError(t, mock.ExpectationsWereMet())
}
