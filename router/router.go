package router

import (
	"database/sql"
	"net/http"

	listHandler "senarai/internal/list"
	"senarai/internal/list/repository"
	"senarai/internal/list/service"
	"senarai/middleware"
	"senarai/socket"
)

func Setup(db *sql.DB, hub *socket.Hub) http.Handler {
	mux := http.NewServeMux()

	repo := repository.NewListRepository(db)
	svc := service.NewListService(repo, hub)
	h := listHandler.NewListHandler(svc)
	auth := middleware.AuthMiddleware

	// WebSocket
	wsHandler := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		userID := r.Context().Value(middleware.UserIDKey).(string)
		socket.ServeWs(hub, repo, w, r, userID)
	})
	mux.Handle("/ws", auth(wsHandler))

	// REST API
	mux.Handle("/api/lists/create", auth(http.HandlerFunc(h.CreateList)))
	mux.Handle("/api/lists/update", auth(http.HandlerFunc(h.UpdateList)))
	mux.Handle("/api/lists/delete", auth(http.HandlerFunc(h.DeleteList)))
	mux.Handle("/api/lists", auth(http.HandlerFunc(h.GetLists)))
	mux.Handle("/api/lists/items", auth(http.HandlerFunc(h.GetItems)))
	mux.Handle("/api/lists/share", auth(http.HandlerFunc(h.ShareList)))
	mux.Handle("/api/lists/share/remove", auth(http.HandlerFunc(h.RemoveShare)))
	mux.Handle("/api/items/create", auth(http.HandlerFunc(h.CreateItem)))
	mux.Handle("/api/items/update", auth(http.HandlerFunc(h.UpdateItem)))
	mux.Handle("/api/items/delete", auth(http.HandlerFunc(h.DeleteItem)))
	mux.Handle("/api/items/move", auth(http.HandlerFunc(h.MoveItem)))

	return middleware.CORSMiddleware(mux)
}
