package api

import (
	"context"
	"net/http"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"lessonhub/collab/internal/metrics"
	"lessonhub/collab/internal/models"
	"lessonhub/collab/internal/session"
	"lessonhub/collab/internal/utils"
)

// Authenticator resolves an opaque bearer token to an identity.
type Authenticator interface {
	Authenticate(ctx context.Context, token string) (models.Identity, error)
}

// LessonStore is the slice of the document store the collab layer touches.
type LessonStore interface {
	GetByID(ctx context.Context, id string) (*models.Lesson, error)
	Sections(ctx context.Context, id string) ([]map[string]any, error)
	WriteField(ctx context.Context, id string, sectionIndex int, field string, value any, modifiedAt time.Time) error
}

type Handlers struct {
	log      *zap.Logger
	registry *session.Registry
	auth     Authenticator
	lessons  LessonStore
}

func NewHandlers(log *zap.Logger, registry *session.Registry, auth Authenticator, lessons LessonStore) *Handlers {
	return &Handlers{log: log, registry: registry, auth: auth, lessons: lessons}
}

func (h *Handlers) Health(w http.ResponseWriter, _ *http.Request) {
	_, _ = w.Write([]byte("ok"))
}

/*** Collab WebSocket: presence + low-latency fan-out per lesson ***/

var upgrader = websocket.Upgrader{CheckOrigin: func(r *http.Request) bool { return true }}

// closeUnauthorized mirrors the 4001 close code the frontend already handles.
const closeUnauthorized = 4001

func (h *Handlers) LessonWS(w http.ResponseWriter, r *http.Request) {
	lessonID := chi.URLParam(r, "id")
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		return
	}
	defer conn.Close()

	ident, err := h.auth.Authenticate(r.Context(), r.URL.Query().Get("token"))
	if err != nil {
		_ = conn.WriteControl(websocket.CloseMessage,
			websocket.FormatCloseMessage(closeUnauthorized, "Unauthorized"),
			time.Now().Add(time.Second))
		return
	}

	client := session.NewClient(conn)
	h.registry.Connect(client, lessonID, ident.UserID, ident.DisplayName)
	defer h.registry.Disconnect(client)

	for {
		var msg models.ClientMessage
		if err := conn.ReadJSON(&msg); err != nil {
			return
		}
		h.dispatch(client, lessonID, ident, msg)
	}
}

func (h *Handlers) dispatch(client *session.Client, lessonID string, ident models.Identity, msg models.ClientMessage) {
	switch msg.Type {
	case "cursor":
		metrics.CountMessage(msg.Type)
		h.registry.Broadcast(lessonID, models.CursorMessage{
			Type:         "cursor",
			UserID:       ident.UserID,
			UserName:     ident.DisplayName,
			Position:     msg.Position,
			SectionIndex: msg.SectionIndex,
		}, client)

	case "typing":
		metrics.CountMessage(msg.Type)
		isTyping := true
		if msg.IsTyping != nil {
			isTyping = *msg.IsTyping
		}
		h.registry.Broadcast(lessonID, models.TypingMessage{
			Type:         "typing",
			UserID:       ident.UserID,
			UserName:     ident.DisplayName,
			SectionIndex: msg.SectionIndex,
			IsTyping:     isTyping,
		}, client)

	case "edit":
		metrics.CountMessage(msg.Type)
		h.registry.Broadcast(lessonID, models.EditMessage{
			Type:         "edit",
			UserID:       ident.UserID,
			UserName:     ident.DisplayName,
			SectionIndex: msg.SectionIndex,
			Field:        msg.Field,
			Value:        msg.Value,
			Timestamp:    time.Now().UTC().Format(time.RFC3339),
		}, client)
		if msg.Persist {
			// Write-through is advisory: it runs out of band and its
			// failure never reaches any participant.
			go h.persistEdit(lessonID, msg)
		}

	case "section_focus":
		metrics.CountMessage(msg.Type)
		h.registry.Broadcast(lessonID, models.SectionFocusMessage{
			Type:         "section_focus",
			UserID:       ident.UserID,
			UserName:     ident.DisplayName,
			SectionIndex: msg.SectionIndex,
		}, client)

	case "ping":
		metrics.CountMessage(msg.Type)
		if err := client.Send(models.PongMessage{Type: "pong"}); err != nil {
			h.registry.Disconnect(client)
		}

	case "get_active_users":
		metrics.CountMessage(msg.Type)
		reply := models.ActiveUsersMessage{
			Type:  "active_users",
			Users: h.registry.ActiveParticipants(lessonID),
		}
		if err := client.Send(reply); err != nil {
			h.registry.Disconnect(client)
		}

	default:
		h.log.Debug("dropping unrecognized message",
			zap.String("lessonId", lessonID), zap.String("type", msg.Type))
	}
}

func (h *Handlers) persistEdit(lessonID string, msg models.ClientMessage) {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	err := h.lessons.WriteField(ctx, lessonID, msg.SectionIndex, msg.Field, msg.Value, time.Now().UTC())
	metrics.LessonWrite(err == nil)
	if err != nil {
		h.log.Error("lesson write-through failed",
			zap.String("lessonId", lessonID),
			zap.Int("sectionIndex", msg.SectionIndex),
			zap.String("field", msg.Field),
			zap.Error(err))
	}
}

/*** REST ***/

// LessonCollaborators returns the current roster for a lesson, used by the
// frontend before the websocket is established.
func (h *Handlers) LessonCollaborators(w http.ResponseWriter, r *http.Request) {
	lessonID := chi.URLParam(r, "id")
	utils.JSON(w, http.StatusOK, models.RosterResponse{
		LessonID:    lessonID,
		ActiveUsers: h.registry.ActiveParticipants(lessonID),
	})
}

func (h *Handlers) GetLesson(w http.ResponseWriter, r *http.Request) {
	token := strings.TrimPrefix(r.Header.Get("Authorization"), "Bearer ")
	if _, err := h.auth.Authenticate(r.Context(), token); err != nil {
		utils.JSONError(w, http.StatusUnauthorized, "unauthorized")
		return
	}

	lessonID := chi.URLParam(r, "id")
	lesson, err := h.lessons.GetByID(r.Context(), lessonID)
	if err != nil {
		h.log.Error("lesson fetch failed", zap.String("lessonId", lessonID), zap.Error(err))
		utils.JSONError(w, http.StatusInternalServerError, "failed to fetch lesson")
		return
	}
	if lesson == nil {
		utils.JSONError(w, http.StatusNotFound, "lesson not found")
		return
	}
	utils.JSON(w, http.StatusOK, lesson)
}

// GetLessonSections returns the decoded section records of a lesson, used by
// the editor to render the document before joining the live session.
func (h *Handlers) GetLessonSections(w http.ResponseWriter, r *http.Request) {
	token := strings.TrimPrefix(r.Header.Get("Authorization"), "Bearer ")
	if _, err := h.auth.Authenticate(r.Context(), token); err != nil {
		utils.JSONError(w, http.StatusUnauthorized, "unauthorized")
		return
	}

	lessonID := chi.URLParam(r, "id")
	sections, err := h.lessons.Sections(r.Context(), lessonID)
	if err != nil {
		h.log.Error("sections fetch failed", zap.String("lessonId", lessonID), zap.Error(err))
		utils.JSONError(w, http.StatusInternalServerError, "failed to fetch sections")
		return
	}
	if sections == nil {
		utils.JSONError(w, http.StatusNotFound, "lesson not found")
		return
	}
	utils.JSON(w, http.StatusOK, map[string]any{"lessonId": lessonID, "sections": sections})
}
