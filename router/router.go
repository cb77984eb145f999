package router

import (
	"database/sql"
	"net/http"

	resHandler "kolab/internal/resource"
	"kolab/internal/resource/repository"
	"kolab/internal/resource/service"
	"kolab/middleware"
	"kolab/socket"
)

func Setup(db *sql.DB, hub *socket.Hub) http.Handler {
	mux := http.NewServeMux()

	// WebSocket
	wsHandler := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		userID := r.Context().Value(middleware.UserIDKey).(string)
		username := r.Context().Value(middleware.UsernameKey).(string)
		socket.ServeWs(hub, w, r, userID, username)
	})
	mux.Handle("/ws", middleware.AuthMiddleware(wsHandler))

	// REST API
	resRepo := repository.NewResourceRepository(db)
	resService := service.NewResourceService(resRepo, hub)
	resHandler := resHandler.NewResourceHandler(resService)
	auth := middleware.AuthMiddleware

	mux.Handle("/api/tree", auth(http.HandlerFunc(resHandler.GetTree)))
	mux.Handle("/api/resources", auth(http.HandlerFunc(resHandler.GetResource)))
	mux.Handle("/api/locks", auth(http.HandlerFunc(resHandler.GetLocks)))
	mux.Handle("/api/notify", auth(http.HandlerFunc(resHandler.NotifyChanged)))

	return middleware.CORSMiddleware(mux)
}
