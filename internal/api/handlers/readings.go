package handlers

import (
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"

	"tasseo/internal/core"
	"tasseo/internal/types"
)

// PhotoReadingRequest asks for a reading of a photo already uploaded to the
// bot. The WebApp forwards the Telegram file_id it received.
type PhotoReadingRequest struct {
	FileID       string        `json:"file_id" validate:"required"`
	Caption      string        `json:"caption,omitempty" validate:"max=1024"`
	Channel      types.Channel `json:"channel" validate:"required,oneof=webapp web"`
	LanguageCode string        `json:"language_code,omitempty" validate:"omitempty,bcp47_language_tag"`
}

// ChatReadingRequest asks for a chat reply.
type ChatReadingRequest struct {
	Text         string        `json:"text" validate:"required,max=4096"`
	Channel      types.Channel `json:"channel" validate:"required,oneof=webapp web"`
	LanguageCode string        `json:"language_code,omitempty" validate:"omitempty,bcp47_language_tag"`
}

// ReadingsHandler serves the authenticated reading endpoints.
type ReadingsHandler struct {
	intake    *Intake
	validator *core.Validator
	logger    *slog.Logger
}

// NewReadingsHandler creates a ReadingsHandler.
func NewReadingsHandler(intake *Intake, validator *core.Validator, logger *slog.Logger) *ReadingsHandler {
	if logger == nil {
		logger = slog.Default()
	}
	return &ReadingsHandler{intake: intake, validator: validator, logger: logger}
}

// RegisterRoutes mounts the reading endpoints.
func (h *ReadingsHandler) RegisterRoutes(r chi.Router) {
	r.Route("/readings", func(r chi.Router) {
		r.Post("/photo", h.Photo)
		r.Post("/chat", h.Chat)
	})
}

// Photo handles POST /v1/readings/photo.
func (h *ReadingsHandler) Photo(w http.ResponseWriter, r *http.Request) {
	principal, ok := h.principal(w, r)
	if !ok {
		return
	}
	var req PhotoReadingRequest
	if !h.decode(w, r, &req) {
		return
	}

	result, err := h.intake.SubmitPhoto(r.Context(), types.PhotoJobPayload{
		UserID:       principal.UserID,
		ChatID:       principal.ChatID,
		FileID:       req.FileID,
		Channel:      req.Channel,
		Caption:      req.Caption,
		LanguageCode: firstNonEmpty(req.LanguageCode, principal.LanguageCode),
	})
	h.respond(w, r, result, err)
}

// Chat handles POST /v1/readings/chat.
func (h *ReadingsHandler) Chat(w http.ResponseWriter, r *http.Request) {
	principal, ok := h.principal(w, r)
	if !ok {
		return
	}
	var req ChatReadingRequest
	if !h.decode(w, r, &req) {
		return
	}

	result, err := h.intake.SubmitChat(r.Context(), types.ChatJobPayload{
		UserID:       principal.UserID,
		ChatID:       principal.ChatID,
		Text:         req.Text,
		Channel:      req.Channel,
		LanguageCode: firstNonEmpty(req.LanguageCode, principal.LanguageCode),
	})
	h.respond(w, r, result, err)
}

func (h *ReadingsHandler) principal(w http.ResponseWriter, r *http.Request) (types.Principal, bool) {
	p, ok := types.GetPrincipal(r.Context())
	if !ok || p.UserID == "" {
		core.Error(w, r, types.NewAppError(types.ErrCodeAuthTokenMissing, "authentication required", nil))
		return types.Principal{}, false
	}
	if p.ChatID == 0 {
		// Replies are delivered through the bot chat.
		core.Error(w, r, types.NewAppError(types.ErrCodeValidationMissingField, "account is not linked to a Telegram chat", nil))
		return types.Principal{}, false
	}
	return p, true
}

func (h *ReadingsHandler) decode(w http.ResponseWriter, r *http.Request, dst any) bool {
	if err := core.DecodeJSON(w, r, dst); err != nil {
		core.Error(w, r, err)
		return false
	}
	if err := h.validator.ValidateStruct(dst); err != nil {
		core.Error(w, r, err)
		return false
	}
	return true
}

// respond answers 202 whether or not the job was stored; queued=false tells
// the client to retry later.
func (h *ReadingsHandler) respond(w http.ResponseWriter, r *http.Request, result IntakeResult, err error) {
	if err != nil {
		core.Error(w, r, err)
		return
	}
	core.JSON(w, r, http.StatusAccepted, core.APIResponse{Data: result})
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if v != "" {
			return v
		}
	}
	return ""
}
