package httpx

import (
	"encoding/json"
	"errors"
	"log"
	"net/http"
	"time"

	"github.com/ariefcatur/pet-auction/internal/auction"
	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
)

// HeaderMemberID carries the authenticated member id set by the gateway.
const HeaderMemberID = "X-Member-Id"

func NewRouter() *chi.Mux {
	r := chi.NewRouter()
	r.Use(middleware.RequestID, middleware.RealIP, middleware.Logger, middleware.Recoverer)
	r.Get("/healthz", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ok"))
	})
	return r
}

// withTimeout dipasang per grup route REST; route WebSocket tidak boleh kena timeout.
func withTimeout(r chi.Router) chi.Router {
	return r.With(middleware.Timeout(15 * time.Second))
}

func writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(v)
}

type errorResp struct {
	Error  string               `json:"error"`
	Fields []auction.FieldError `json:"fields,omitempty"`
}

// writeError maps engine errors to status codes.
func writeError(w http.ResponseWriter, r *http.Request, err error) {
	var verr auction.ValidationErrors
	switch {
	case errors.As(err, &verr):
		writeJSON(w, http.StatusBadRequest, errorResp{Error: "validation failed", Fields: verr})
	case errors.Is(err, auction.ErrItemNotFound),
		errors.Is(err, auction.ErrSessionNotFound),
		errors.Is(err, auction.ErrDeliveryNotFound):
		writeJSON(w, http.StatusNotFound, errorResp{Error: err.Error()})
	case errors.Is(err, auction.ErrNotDeliveryOwner):
		writeJSON(w, http.StatusForbidden, errorResp{Error: err.Error()})
	case errors.Is(err, auction.ErrAuctionNotActive),
		errors.Is(err, auction.ErrSessionClosed),
		errors.Is(err, auction.ErrHistoryNotReady),
		errors.Is(err, auction.ErrDeliveryAlreadySubmitted),
		errors.Is(err, auction.ErrDeliveryDeadlineExpired):
		writeJSON(w, http.StatusConflict, errorResp{Error: err.Error()})
	default:
		log.Printf("request %s %s: %v", r.Method, r.URL.Path, err)
		writeJSON(w, http.StatusInternalServerError, errorResp{Error: "internal error"})
	}
}

func memberID(r *http.Request) string { return r.Header.Get(HeaderMemberID) }

func requireMember(w http.ResponseWriter, r *http.Request) (string, bool) {
	id := memberID(r)
	if id == "" {
		writeJSON(w, http.StatusUnauthorized, errorResp{Error: "missing " + HeaderMemberID})
		return "", false
	}
	return id, true
}
