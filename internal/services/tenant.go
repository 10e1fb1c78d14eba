package services

import (
	"fmt"
	"net/http"
	"strconv"
	"strings"
	"time"

	"kotakwatch/internal/database"
	"kotakwatch/internal/middleware"
)

const (
	defaultAlertLimit = 50
	maxAlertLimit     = 500
)

type alertsResponse struct {
	Alerts []*database.AlertEvent `json:"alerts"`
}

// listAlerts returns the caller's most recent alert events.
func (s *Server) listAlerts(w http.ResponseWriter, r *http.Request) {
	claims := middleware.ClaimsFromContext(r.Context())
	limit := defaultAlertLimit
	if v := r.URL.Query().Get("limit"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n < 1 {
			s.writeError(w, r, &badRequestError{msg: "limit must be a positive integer"})
			return
		}
		limit = min(n, maxAlertLimit)
	}

	events, err := s.store.ListAlertEvents(r.Context(), claims.TenantID(), limit)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	if events == nil {
		events = []*database.AlertEvent{}
	}
	s.encode(w, r, http.StatusOK, alertsResponse{Alerts: events})
}

type telegramRequest struct {
	ChatID string `json:"tg_chat_id"`
	// Cooldown in seconds; omitted keeps the current value.
	Cooldown *int `json:"tg_cooldown"`
}

type tenantResponse struct {
	MasjidID         int64  `json:"masjid_id"`
	Name             string `json:"nama_masjid"`
	TelegramChatID   string `json:"tg_chat_id"`
	TelegramCooldown int    `json:"tg_cooldown"`
}

// updateTelegram sets where and how often the caller's alerts are sent.
// The dispatcher resolves the target per alert, so changes apply to the
// next edge.
func (s *Server) updateTelegram(w http.ResponseWriter, r *http.Request) {
	claims := middleware.ClaimsFromContext(r.Context())
	var req telegramRequest
	if err := decode(r, &req); err != nil {
		s.writeError(w, r, err)
		return
	}

	tenant, err := s.store.GetTenant(r.Context(), claims.TenantID())
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	if tenant == nil {
		s.writeError(w, r, errNotFound)
		return
	}

	cooldown := tenant.TelegramCooldown
	if req.Cooldown != nil {
		if *req.Cooldown < 0 {
			s.writeError(w, r, &badRequestError{msg: "tg_cooldown cannot be negative"})
			return
		}
		cooldown = time.Duration(*req.Cooldown) * time.Second
	}
	chatID := strings.TrimSpace(req.ChatID)
	if err := s.store.UpdateTenantTelegram(r.Context(), tenant.ID, chatID, cooldown); err != nil {
		s.writeError(w, r, err)
		return
	}
	updated, err := s.store.GetTenant(r.Context(), tenant.ID)
	if err != nil || updated == nil {
		s.writeError(w, r, fmt.Errorf("reload tenant %d: %w", tenant.ID, err))
		return
	}
	s.log.Info("telegram settings updated", "masjid_id", updated.ID, "cooldown", updated.TelegramCooldown)
	s.encode(w, r, http.StatusOK, tenantResponse{
		MasjidID:         updated.ID,
		Name:             updated.Name,
		TelegramChatID:   updated.TelegramChatID,
		TelegramCooldown: int(updated.TelegramCooldown / time.Second),
	})
}
