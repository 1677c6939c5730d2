package routes

import (
	"net/http"
	"os"
	"strings"
	"time"

	"github.com/gorilla/handlers"
	"github.com/gorilla/mux"

	"github.com/zakiachsan27/CallExpert-sub000/controllers"
	"github.com/zakiachsan27/CallExpert-sub000/middleware"
	"github.com/zakiachsan27/CallExpert-sub000/realtime"
)

func optionsHandler(w http.ResponseWriter, r *http.Request) {
	w.WriteHeader(http.StatusNoContent)
}

// InitRouter wires the consultation endpoints. Every /v1/consult route sits
// behind party auth; booking-level authorization happens in the controller.
func InitRouter(consultCtrl *controllers.ConsultController, hub *realtime.Hub) *mux.Router {
	r := mux.NewRouter()

	// Health check endpoint for Docker health checks (root level)
	r.HandleFunc("/health", controllers.HealthHandler).Methods(http.MethodGet)

	// CORS - origins from CORS_ALLOWED_ORIGINS (comma-separated) or defaults
	origins := []string{
		"https://callexpert.id", "https://www.callexpert.id",
		"http://localhost:3000", "http://127.0.0.1:3000",
	}
	if originsEnv := os.Getenv("CORS_ALLOWED_ORIGINS"); originsEnv != "" {
		for _, p := range strings.Split(originsEnv, ",") {
			if o := strings.TrimSpace(p); o != "" {
				origins = append(origins, o)
			}
		}
	}
	r.Use(func(next http.Handler) http.Handler {
		return handlers.CORS(
			handlers.AllowedOrigins(origins),
			handlers.AllowedMethods([]string{"GET", "POST", "OPTIONS"}),
			handlers.AllowedHeaders([]string{"Content-Type", "Authorization", "X-Requested-With", "X-Request-ID"}),
			handlers.AllowCredentials(),
		)(next)
	})

	api := r.PathPrefix("/v1").Subrouter()

	// Catch-all OPTIONS handler for CORS preflight
	api.PathPrefix("/").HandlerFunc(optionsHandler).Methods(http.MethodOptions)

	// Send limiter: 30 messages per party per minute
	sendLimiter := middleware.NewSendLimiter(30, time.Minute)

	consultAPI := api.PathPrefix("/consult").Subrouter()
	consultAPI.Use(middleware.PartyAuthMiddleware)

	consultAPI.HandleFunc("/{booking_id}/join", consultCtrl.JoinHandler).Methods(http.MethodPost)
	consultAPI.Handle("/{booking_id}/messages", sendLimiter.Middleware(http.HandlerFunc(consultCtrl.SendMessageHandler))).Methods(http.MethodPost)
	consultAPI.HandleFunc("/{booking_id}/messages", consultCtrl.ListMessagesHandler).Methods(http.MethodGet)
	consultAPI.HandleFunc("/{booking_id}/end", consultCtrl.EndSessionHandler).Methods(http.MethodPost)
	consultAPI.HandleFunc("/{booking_id}/history", consultCtrl.GetHistoryHandler).Methods(http.MethodGet)
	consultAPI.HandleFunc("/{booking_id}/ws", consultCtrl.SubscribeHandler(hub)).Methods(http.MethodGet)

	return r
}
