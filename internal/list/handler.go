package handler

import (
	"encoding/json"
	"net/http"
	"strconv"

	"senarai/internal/list/model"
	"senarai/internal/list/service"
	"senarai/middleware"
	"senarai/pkg/apperr"
	"senarai/pkg/logger"
	"senarai/store"
)

type ListHandler struct {
	Service *service.ListService
}

func NewListHandler(service *service.ListService) *ListHandler {
	return &ListHandler{Service: service}
}

func (h *ListHandler) CreateList(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	userID := r.Context().Value(middleware.UserIDKey).(string)

	var req model.CreateListRequest
	_ = json.NewDecoder(r.Body).Decode(&req) // Ignore error, default to empty

	list, err := h.Service.CreateList(userID, req.Name)
	if err != nil {
		logger.Sugar.Errorf("Handler: Failed to create list: %v", err)
		http.Error(w, err.Error(), apperr.Status(err))
		return
	}
	writeJSON(w, list)
}

func (h *ListHandler) UpdateList(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPut {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	listID := r.URL.Query().Get("listId")
	if listID == "" {
		http.Error(w, "Missing listId parameter", http.StatusBadRequest)
		return
	}

	var req model.UpdateListRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.Name == "" {
		http.Error(w, "Invalid request body", http.StatusBadRequest)
		return
	}

	userID := r.Context().Value(middleware.UserIDKey).(string)

	list, err := h.Service.UpdateList(userID, listID, req.Name)
	if err != nil {
		logger.Sugar.Errorf("Handler: Failed to rename list %s: %v", listID, err)
		http.Error(w, err.Error(), apperr.Status(err))
		return
	}
	writeJSON(w, list)
}

func (h *ListHandler) DeleteList(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodDelete {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	listID := r.URL.Query().Get("listId")
	if listID == "" {
		http.Error(w, "Missing listId parameter", http.StatusBadRequest)
		return
	}

	userID := r.Context().Value(middleware.UserIDKey).(string)

	if err := h.Service.DeleteList(userID, listID); err != nil {
		logger.Sugar.Errorf("Handler: Failed to delete list %s: %v", listID, err)
		http.Error(w, err.Error(), apperr.Status(err))
		return
	}
	w.WriteHeader(http.StatusOK)
	w.Write([]byte("List deleted successfully"))
}

func (h *ListHandler) GetLists(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	userID := r.Context().Value(middleware.UserIDKey).(string)

	lists, err := h.Service.Lists(userID)
	if err != nil {
		logger.Sugar.Errorf("Error fetching lists: %v", err)
		http.Error(w, "Database error", apperr.Status(err))
		return
	}
	writeJSON(w, lists)
}

// GetItems returns the full ordered tree for one list. Clients call this on
// first view and after a reconnect; events missed while offline are not
// replayed.
func (h *ListHandler) GetItems(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	listID := r.URL.Query().Get("listId")
	if listID == "" {
		http.Error(w, "Missing listId parameter", http.StatusBadRequest)
		return
	}

	userID := r.Context().Value(middleware.UserIDKey).(string)

	items, err := h.Service.ItemsForList(userID, listID)
	if err != nil {
		logger.Sugar.Errorf("Error fetching items for list %s: %v", listID, err)
		http.Error(w, err.Error(), apperr.Status(err))
		return
	}
	writeJSON(w, items)
}

func (h *ListHandler) ShareList(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	var req model.ShareRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "Invalid request body", http.StatusBadRequest)
		return
	}
	if req.ListID == "" || req.Email == "" {
		http.Error(w, "List ID and email are required", http.StatusBadRequest)
		return
	}
	if req.Permission != store.PermissionView && req.Permission != store.PermissionEdit {
		http.Error(w, "Invalid permission. Must be view or edit", http.StatusBadRequest)
		return
	}

	userID := r.Context().Value(middleware.UserIDKey).(string)

	grant, err := h.Service.ShareList(userID, req)
	if err != nil {
		logger.Sugar.Errorf("Handler: Failed to share list %s: %v", req.ListID, err)
		http.Error(w, err.Error(), apperr.Status(err))
		return
	}
	writeJSON(w, grant)
}

func (h *ListHandler) RemoveShare(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodDelete {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	listID := r.URL.Query().Get("listId")
	granteeID := r.URL.Query().Get("userId")
	if listID == "" || granteeID == "" {
		http.Error(w, "Missing listId or userId parameter", http.StatusBadRequest)
		return
	}

	userID := r.Context().Value(middleware.UserIDKey).(string)

	if err := h.Service.RemoveShare(userID, listID, granteeID); err != nil {
		logger.Sugar.Errorf("Handler: Failed to remove share on list %s: %v", listID, err)
		http.Error(w, err.Error(), apperr.Status(err))
		return
	}
	w.WriteHeader(http.StatusOK)
	w.Write([]byte("Share removed"))
}

func (h *ListHandler) CreateItem(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	var req model.CreateItemRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "Invalid request body", http.StatusBadRequest)
		return
	}
	if req.ListID == "" || req.Text == "" {
		http.Error(w, "List ID and text are required", http.StatusBadRequest)
		return
	}

	userID := r.Context().Value(middleware.UserIDKey).(string)

	item, err := h.Service.CreateItem(userID, req)
	if err != nil {
		logger.Sugar.Errorf("Handler: Failed to create item in list %s: %v", req.ListID, err)
		http.Error(w, err.Error(), apperr.Status(err))
		return
	}
	writeJSON(w, item)
}

func (h *ListHandler) UpdateItem(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPut {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	itemID, ok := itemIDParam(w, r)
	if !ok {
		return
	}

	var req model.UpdateItemRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "Invalid request body", http.StatusBadRequest)
		return
	}
	if req.Text == nil && req.Completed == nil && req.Notes == nil {
		http.Error(w, "No fields to update", http.StatusBadRequest)
		return
	}
	if req.Text != nil && *req.Text == "" {
		http.Error(w, "Text cannot be empty", http.StatusBadRequest)
		return
	}

	userID := r.Context().Value(middleware.UserIDKey).(string)

	item, err := h.Service.UpdateItem(userID, itemID, req)
	if err != nil {
		logger.Sugar.Errorf("Handler: Failed to update item %d: %v", itemID, err)
		http.Error(w, err.Error(), apperr.Status(err))
		return
	}
	writeJSON(w, item)
}

func (h *ListHandler) DeleteItem(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodDelete {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	itemID, ok := itemIDParam(w, r)
	if !ok {
		return
	}

	userID := r.Context().Value(middleware.UserIDKey).(string)

	if err := h.Service.DeleteItem(userID, itemID); err != nil {
		logger.Sugar.Errorf("Handler: Failed to delete item %d: %v", itemID, err)
		http.Error(w, err.Error(), apperr.Status(err))
		return
	}
	writeJSON(w, model.DeleteItemResponse{ItemID: itemID})
}

func (h *ListHandler) MoveItem(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	var req model.MoveItemRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "Invalid request body", http.StatusBadRequest)
		return
	}
	if req.ItemID == 0 || req.TargetID == 0 {
		http.Error(w, "Item ID and target ID are required", http.StatusBadRequest)
		return
	}

	userID := r.Context().Value(middleware.UserIDKey).(string)

	item, err := h.Service.MoveItem(userID, req)
	if err != nil {
		logger.Sugar.Errorf("Handler: Failed to move item %d: %v", req.ItemID, err)
		http.Error(w, err.Error(), apperr.Status(err))
		return
	}
	writeJSON(w, item)
}

func itemIDParam(w http.ResponseWriter, r *http.Request) (int64, bool) {
	raw := r.URL.Query().Get("itemId")
	if raw == "" {
		http.Error(w, "Missing itemId parameter", http.StatusBadRequest)
		return 0, false
	}
	id, err := strconv.ParseInt(raw, 10, 64)
	if err != nil {
		http.Error(w, "Invalid itemId parameter", http.StatusBadRequest)
		return 0, false
	}
	return id, true
}

func writeJSON(w http.ResponseWriter, v any) {
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(v)
}
