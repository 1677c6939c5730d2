package controllers

import (
	"log"
	"net/http"
	"os"
	"strings"
	"time"

	"github.com/gorilla/websocket"

	"github.com/zakiachsan27/CallExpert-sub000/realtime"
	"github.com/zakiachsan27/CallExpert-sub000/utils"
)

const (
	wsWriteWait  = 10 * time.Second
	wsPongWait   = 60 * time.Second
	wsPingPeriod = (wsPongWait * 9) / 10
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin: func(r *http.Request) bool {
		allowed := os.Getenv("CORS_ALLOWED_ORIGINS")
		if allowed == "" || allowed == "*" {
			return true
		}
		origin := r.Header.Get("Origin")
		if origin == "" {
			return true
		}
		for _, o := range strings.Split(allowed, ",") {
			if strings.TrimSpace(o) == origin {
				return true
			}
		}
		return false
	},
}

// SubscribeHandler upgrades the connection and pushes the booking's message
// and status events in hub order until the client goes away. One socket per
// session view; reconnecting clients reload history over HTTP first.
func (c *ConsultController) SubscribeHandler(hub *realtime.Hub) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		bookingID, ok := bookingIDFromRequest(r)
		if !ok {
			utils.WriteJSON(w, http.StatusBadRequest, utils.APIResponse{Success: false, Message: "Invalid booking ID"})
			return
		}
		caller, ok := callerFromRequest(r)
		if !ok {
			utils.WriteJSON(w, http.StatusUnauthorized, utils.APIResponse{Success: false, Message: "Unauthorized"})
			return
		}
		if err := c.core.Authorize(r.Context(), bookingID, caller); err != nil {
			writeConsultError(w, err)
			return
		}

		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			// Upgrade already wrote an HTTP error
			log.Printf("[Consult] websocket upgrade for booking %d failed: %v", bookingID, err)
			return
		}

		sub := hub.Subscribe(bookingID)
		go writePump(conn, sub, bookingID)
		readPump(conn, sub)
	}
}

// readPump discards client frames; its only job is detecting disconnects and
// keeping the pong deadline fresh.
func readPump(conn *websocket.Conn, sub *realtime.Subscription) {
	defer func() {
		sub.Unsubscribe()
		conn.Close()
	}()
	conn.SetReadLimit(512)
	_ = conn.SetReadDeadline(time.Now().Add(wsPongWait))
	conn.SetPongHandler(func(string) error {
		return conn.SetReadDeadline(time.Now().Add(wsPongWait))
	})
	for {
		if _, _, err := conn.ReadMessage(); err != nil {
			return
		}
	}
}

// writePump forwards hub events to the socket and pings on an interval.
func writePump(conn *websocket.Conn, sub *realtime.Subscription, bookingID uint) {
	ping := time.NewTicker(wsPingPeriod)
	defer func() {
		ping.Stop()
		sub.Unsubscribe()
		conn.Close()
	}()
	for {
		select {
		case <-sub.Done():
			return
		case ev := <-sub.C:
			_ = conn.SetWriteDeadline(time.Now().Add(wsWriteWait))
			if err := conn.WriteJSON(ev); err != nil {
				log.Printf("[Consult] websocket write for booking %d failed: %v", bookingID, err)
				return
			}
		case <-ping.C:
			_ = conn.SetWriteDeadline(time.Now().Add(wsWriteWait))
			if err := conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}
