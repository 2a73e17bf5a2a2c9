package service

import (
	"errors"
	"strings"
	"sync"

	"github.com/google/uuid"

	"senarai/internal/list/model"
	"senarai/internal/list/repository"
	"senarai/pkg/apperr"
	"senarai/socket"
	"senarai/store"
)

// storeAttempts bounds retries of a whole operation on transient store
// failure. Retrying is safe: the event is only published after a successful
// commit, so a retried apply can never double-broadcast.
const storeAttempts = 3

// ListService runs every mutation through the same discipline: permission
// check, transactional write, then exactly one event to the hub. A per-list
// lock spans the write and the publish, so the order of events on the hub
// channel equals the order the mutations were committed for that list.
// Different lists never block each other.
type ListService struct {
	Repo *repository.ListRepository
	Hub  *socket.Hub

	locks sync.Map // listID -> *sync.Mutex
}

func NewListService(repo *repository.ListRepository, hub *socket.Hub) *ListService {
	return &ListService{Repo: repo, Hub: hub}
}

func (s *ListService) lockList(listID string) func() {
	mu, _ := s.locks.LoadOrStore(listID, &sync.Mutex{})
	mu.(*sync.Mutex).Lock()
	return mu.(*sync.Mutex).Unlock
}

func retryable[T any](op func() (T, error)) (T, error) {
	var out T
	var err error
	for attempt := 0; attempt < storeAttempts; attempt++ {
		out, err = op()
		if !errors.Is(err, apperr.ErrTransientStore) {
			return out, err
		}
	}
	return out, err
}

// --- Items ---

func (s *ListService) CreateItem(userID string, req model.CreateItemRequest) (*store.Item, error) {
	if err := s.requireEdit(userID, req.ListID); err != nil {
		return nil, err
	}
	unlock := s.lockList(req.ListID)
	defer unlock()
	item, err := retryable(func() (*store.Item, error) {
		return s.Repo.CreateItem(req.ListID, req.Text, req.ParentID)
	})
	if err != nil {
		return nil, err
	}
	s.Hub.Broadcast <- socket.Event{
		Kind:   socket.ItemCreatedType,
		ListID: item.ListID,
		UserID: userID,
		Item:   item,
	}
	return item, nil
}

func (s *ListService) UpdateItem(userID string, itemID int64, req model.UpdateItemRequest) (*store.Item, error) {
	existing, err := s.Repo.GetItem(itemID)
	if err != nil {
		return nil, err
	}
	if err := s.requireEdit(userID, existing.ListID); err != nil {
		return nil, err
	}
	unlock := s.lockList(existing.ListID)
	defer unlock()
	item, err := retryable(func() (*store.Item, error) {
		return s.Repo.UpdateItem(itemID, req)
	})
	if err != nil {
		return nil, err
	}
	s.Hub.Broadcast <- socket.Event{
		Kind:   socket.ItemUpdatedType,
		ListID: item.ListID,
		UserID: userID,
		Item:   item,
	}
	return item, nil
}

func (s *ListService) DeleteItem(userID string, itemID int64) error {
	existing, err := s.Repo.GetItem(itemID)
	if err != nil {
		return err
	}
	if err := s.requireEdit(userID, existing.ListID); err != nil {
		return err
	}
	unlock := s.lockList(existing.ListID)
	defer unlock()
	if _, err := retryable(func() (struct{}, error) {
		return struct{}{}, s.Repo.DeleteItem(itemID)
	}); err != nil {
		return err
	}
	s.Hub.Broadcast <- socket.Event{
		Kind:   socket.ItemDeletedType,
		ListID: existing.ListID,
		UserID: userID,
		ItemID: itemID,
	}
	return nil
}

// MoveItem reparents/reorders an item. Moves carry the full resulting record,
// so they broadcast as item-updated.
func (s *ListService) MoveItem(userID string, req model.MoveItemRequest) (*store.Item, error) {
	existing, err := s.Repo.GetItem(req.ItemID)
	if err != nil {
		return nil, err
	}
	if err := s.requireEdit(userID, existing.ListID); err != nil {
		return nil, err
	}
	unlock := s.lockList(existing.ListID)
	defer unlock()
	item, err := retryable(func() (*store.Item, error) {
		return s.Repo.MoveItem(existing.ListID, req)
	})
	if err != nil {
		return nil, err
	}
	s.Hub.Broadcast <- socket.Event{
		Kind:   socket.ItemUpdatedType,
		ListID: item.ListID,
		UserID: userID,
		Item:   item,
	}
	return item, nil
}

// ItemsForList is the authoritative refetch path clients use on reconnect.
func (s *ListService) ItemsForList(userID, listID string) ([]store.Item, error) {
	ok, err := s.Repo.CanView(userID, listID)
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, apperr.ErrPermissionDenied
	}
	return s.Repo.ItemsForList(listID)
}

// --- Lists ---

func (s *ListService) CreateList(userID, name string) (*store.List, error) {
	if name == "" {
		name = "Untitled List"
	}
	list, err := retryable(func() (*store.List, error) {
		return s.Repo.CreateList(uuid.NewString(), name, userID)
	})
	if err != nil {
		return nil, err
	}
	s.Hub.Broadcast <- socket.Event{
		Kind:   socket.ListCreatedType,
		ListID: list.ID,
		UserID: userID,
		List:   list,
	}
	return list, nil
}

func (s *ListService) UpdateList(userID, listID, name string) (*store.List, error) {
	unlock := s.lockList(listID)
	defer unlock()
	list, err := retryable(func() (*store.List, error) {
		return s.Repo.UpdateListName(listID, name, userID)
	})
	if errors.Is(err, apperr.ErrNotFound) {
		// Either the list is gone or the caller is not the owner.
		if _, getErr := s.Repo.GetList(listID); getErr == nil {
			return nil, apperr.ErrPermissionDenied
		}
		return nil, err
	}
	if err != nil {
		return nil, err
	}
	s.Hub.Broadcast <- socket.Event{
		Kind:   socket.ListUpdatedType,
		ListID: list.ID,
		UserID: userID,
		List:   list,
	}
	return list, nil
}

func (s *ListService) DeleteList(userID, listID string) error {
	list, err := s.Repo.GetList(listID)
	if err != nil {
		return err
	}
	if list.OwnerID != userID {
		return apperr.ErrPermissionDenied
	}
	unlock := s.lockList(listID)
	defer unlock()
	if _, err := retryable(func() (struct{}, error) {
		return struct{}{}, s.Repo.DeleteList(listID)
	}); err != nil {
		return err
	}
	s.Hub.Broadcast <- socket.Event{
		Kind:   socket.ListDeletedType,
		ListID: listID,
		UserID: userID,
	}
	return nil
}

func (s *ListService) Lists(userID string) ([]model.ListSummary, error) {
	return s.Repo.ListsForUser(userID)
}

// --- Shares ---

func (s *ListService) ShareList(userID string, req model.ShareRequest) (*store.ShareGrant, error) {
	list, err := s.Repo.GetList(req.ListID)
	if err != nil {
		return nil, err
	}
	if list.OwnerID != userID {
		return nil, apperr.ErrPermissionDenied
	}

	granteeID, err := s.Repo.GetUserByEmail(strings.TrimSpace(req.Email))
	if err != nil {
		return nil, err
	}

	unlock := s.lockList(req.ListID)
	defer unlock()
	if _, err := retryable(func() (struct{}, error) {
		return struct{}{}, s.Repo.UpsertShare(req.ListID, granteeID, req.Permission)
	}); err != nil {
		return nil, err
	}

	grant := &store.ShareGrant{ListID: req.ListID, UserID: granteeID, Permission: req.Permission}
	s.Hub.Broadcast <- socket.Event{
		Kind:   socket.ListSharedType,
		ListID: req.ListID,
		UserID: userID,
		List:   list,
		Share:  grant,
	}
	return grant, nil
}

func (s *ListService) RemoveShare(userID, listID, granteeID string) error {
	list, err := s.Repo.GetList(listID)
	if err != nil {
		return err
	}
	if list.OwnerID != userID {
		return apperr.ErrPermissionDenied
	}
	unlock := s.lockList(listID)
	defer unlock()
	if _, err := retryable(func() (struct{}, error) {
		return struct{}{}, s.Repo.DeleteShare(listID, granteeID)
	}); err != nil {
		return err
	}
	s.Hub.Broadcast <- socket.Event{
		Kind:   socket.ShareRemovedType,
		ListID: listID,
		UserID: userID,
		Share:  &store.ShareGrant{ListID: listID, UserID: granteeID},
	}
	return nil
}

func (s *ListService) requireEdit(userID, listID string) error {
	ok, err := s.Repo.CanEdit(userID, listID)
	if err != nil {
		return err
	}
	if !ok {
		return apperr.ErrPermissionDenied
	}
	return nil
}
