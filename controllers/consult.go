package controllers

import (
	"encoding/json"
	"errors"
	"log"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/gorilla/mux"

	"github.com/zakiachsan27/CallExpert-sub000/consult"
	"github.com/zakiachsan27/CallExpert-sub000/models"
	"github.com/zakiachsan27/CallExpert-sub000/utils"
)

// SendMessageRequest is the body for sending a chat message
type SendMessageRequest struct {
	Text string `json:"text"`
}

// HistoryResponse returns the session snapshot together with its messages
type HistoryResponse struct {
	Session  *models.ConsultSession  `json:"session"`
	Messages []models.ConsultMessage `json:"messages"`
}

// ConsultController exposes the consultation session core over HTTP.
type ConsultController struct {
	core *consult.Controller
}

func NewConsultController(core *consult.Controller) *ConsultController {
	return &ConsultController{core: core}
}

// bookingIDFromRequest parses the {booking_id} path variable.
func bookingIDFromRequest(r *http.Request) (uint, bool) {
	idStr, ok := mux.Vars(r)["booking_id"]
	if !ok {
		return 0, false
	}
	id, err := strconv.ParseUint(idStr, 10, 32)
	if err != nil || id == 0 {
		return 0, false
	}
	return uint(id), true
}

// callerFromRequest reads the authenticated party injected by the middleware.
func callerFromRequest(r *http.Request) (consult.Party, bool) {
	id, role, ok := utils.GetParty(r)
	if !ok {
		return consult.Party{}, false
	}
	return consult.Party{ID: id, Type: role}, true
}

// writeConsultError maps core errors onto the JSON envelope.
func writeConsultError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, consult.ErrNotAuthorized):
		utils.WriteJSON(w, http.StatusForbidden, utils.APIResponse{Success: false, Message: "You are not a participant of this booking"})
	case errors.Is(err, consult.ErrBookingNotFound):
		utils.WriteJSON(w, http.StatusNotFound, utils.APIResponse{Success: false, Message: "Booking not found"})
	case errors.Is(err, consult.ErrSessionNotFound):
		utils.WriteJSON(w, http.StatusNotFound, utils.APIResponse{Success: false, Message: "Consultation session not found"})
	case errors.Is(err, consult.ErrSessionEnded):
		utils.WriteJSON(w, http.StatusBadRequest, utils.APIResponse{Success: false, Message: "Consultation session has ended"})
	case errors.Is(err, consult.ErrEmptyMessage):
		utils.WriteJSON(w, http.StatusBadRequest, utils.APIResponse{Success: false, Message: "Message cannot be empty"})
	default:
		utils.WriteJSON(w, http.StatusInternalServerError, utils.APIResponse{Success: false, Message: "Something went wrong, please try again"})
	}
}

// JoinHandler starts the session on first join and records the caller's join
// timestamp. Safe to call repeatedly; re-joins return the current snapshot.
func (c *ConsultController) JoinHandler(w http.ResponseWriter, r *http.Request) {
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

	session, err := c.core.StartOrJoin(r.Context(), bookingID, caller)
	if err != nil {
		log.Printf("[Consult] join booking %d as %s failed: %v", bookingID, caller.Type, err)
		writeConsultError(w, err)
		return
	}

	utils.WriteJSON(w, http.StatusOK, utils.APIResponse{
		Success: true,
		Message: "Joined consultation session",
		Data:    session,
	})
}

// SendMessageHandler appends one message to the session's log.
func (c *ConsultController) SendMessageHandler(w http.ResponseWriter, r *http.Request) {
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

	var req SendMessageRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		utils.WriteJSON(w, http.StatusBadRequest, utils.APIResponse{Success: false, Message: "Invalid request body"})
		return
	}
	if strings.TrimSpace(req.Text) == "" {
		utils.WriteJSON(w, http.StatusBadRequest, utils.APIResponse{Success: false, Message: "Message cannot be empty"})
		return
	}

	msg, err := c.core.Append(r.Context(), bookingID, caller, req.Text)
	if err != nil {
		log.Printf("[Consult] send to booking %d failed: %v", bookingID, err)
		writeConsultError(w, err)
		return
	}

	utils.WriteJSON(w, http.StatusOK, utils.APIResponse{
		Success: true,
		Message: "Message sent",
		Data:    msg,
	})
}

// ListMessagesHandler returns messages after the optional since_id, oldest first.
func (c *ConsultController) ListMessagesHandler(w http.ResponseWriter, r *http.Request) {
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

	var sinceID uint
	if s := r.URL.Query().Get("since_id"); s != "" {
		v, err := strconv.ParseUint(s, 10, 32)
		if err != nil {
			utils.WriteJSON(w, http.StatusBadRequest, utils.APIResponse{Success: false, Message: "Invalid since_id"})
			return
		}
		sinceID = uint(v)
	}

	messages, err := c.core.ListSince(r.Context(), bookingID, sinceID)
	if err != nil {
		log.Printf("[Consult] list messages for booking %d failed: %v", bookingID, err)
		writeConsultError(w, err)
		return
	}

	utils.WriteJSON(w, http.StatusOK, utils.APIResponse{
		Success: true,
		Message: "Messages retrieved",
		Data:    messages,
	})
}

// EndSessionHandler ends the session on behalf of the calling party. Ending
// an already-ended session reports success without touching the recorded
// ended_at/ended_by.
func (c *ConsultController) EndSessionHandler(w http.ResponseWriter, r *http.Request) {
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

	session, err := c.core.End(r.Context(), bookingID, models.EndReason(caller.Type), caller)
	if err != nil {
		if errors.Is(err, consult.ErrAlreadyEnded) {
			utils.WriteJSON(w, http.StatusOK, utils.APIResponse{
				Success: true,
				Message: "Consultation session already ended",
				Data:    session,
			})
			return
		}
		log.Printf("[Consult] end booking %d failed: %v", bookingID, err)
		writeConsultError(w, err)
		return
	}

	utils.WriteJSON(w, http.StatusOK, utils.APIResponse{
		Success: true,
		Message: "Consultation session ended",
		Data:    session,
	})
}

// GetHistoryHandler returns the session snapshot with its full message list.
// Also allowed on ended sessions, so transcripts stay reachable.
func (c *ConsultController) GetHistoryHandler(w http.ResponseWriter, r *http.Request) {
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

	session, err := c.core.GetSession(r.Context(), bookingID)
	if err != nil {
		writeConsultError(w, err)
		return
	}
	messages, err := c.core.ListSince(r.Context(), bookingID, 0)
	if err != nil {
		log.Printf("[Consult] history for booking %d failed: %v", bookingID, err)
		writeConsultError(w, err)
		return
	}

	utils.WriteJSON(w, http.StatusOK, utils.APIResponse{
		Success: true,
		Message: "History retrieved",
		Data: HistoryResponse{
			Session:  session,
			Messages: messages,
		},
	})
}

// HealthHandler is the liveness endpoint.
func HealthHandler(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	_ = json.NewEncoder(w).Encode(map[string]interface{}{
		"status":    "healthy",
		"timestamp": time.Now().Unix(),
		"service":   "callexpert-consult",
	})
}
