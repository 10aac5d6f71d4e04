package handlers

import (
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"
)

func (h *Handler) HandleSessions(w http.ResponseWriter, r *http.Request) {
	h.writeJSON(w, h.sessionStore.GetAll())
}

func (h *Handler) HandleSessionDetail(w http.ResponseWriter, r *http.Request) {
	chatID, err := strconv.ParseInt(chi.URLParam(r, "chatID"), 10, 64)
	if err != nil {
		h.writeError(w, "Invalid chat id", http.StatusBadRequest)
		return
	}

	session, ok := h.sessionStore.Lookup(chatID)
	if !ok {
		h.writeError(w, "Session not found", http.StatusNotFound)
		return
	}

	switch r.Method {
	case http.MethodGet:
		h.writeJSON(w, session)
	case http.MethodDelete:
		h.sessionStore.Delete(chatID)
		w.WriteHeader(http.StatusNoContent)
	default:
		h.writeError(w, "Method not allowed", http.StatusMethodNotAllowed)
	}
}
