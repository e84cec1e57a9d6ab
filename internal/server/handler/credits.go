package handler

import (
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/formpulse/formpulse/internal/credits"
)

// CreditHandler exposes the AI credit balance of a user.
type CreditHandler struct {
	ledger *credits.Ledger
	logger *slog.Logger
}

// NewCreditHandler creates a new credit balance handler.
func NewCreditHandler(ledger *credits.Ledger, logger *slog.Logger) *CreditHandler {
	return &CreditHandler{
		ledger: ledger,
		logger: logger,
	}
}

type creditView struct {
	UserID    string  `json:"userId"`
	Remaining float64 `json:"remaining"`
}

// Remaining returns the credits left for a user in the current period.
func (h *CreditHandler) Remaining(w http.ResponseWriter, r *http.Request) {
	userID := chi.URLParam(r, "userID")

	remaining, err := h.ledger.Remaining(r.Context(), userID)
	if err != nil {
		h.logger.Error("failed to load credit balance", "user", userID, "error", err)
		http.Error(w, "Failed to load credit balance", http.StatusInternalServerError)
		return
	}
	writeJSON(w, http.StatusOK, creditView{UserID: userID, Remaining: remaining})
}
