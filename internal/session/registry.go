package session

import (
	"sync"
	"time"

	"go.uber.org/zap"

	"lessonhub/collab/internal/metrics"
	"lessonhub/collab/internal/models"
)

// Session is one authenticated participant's live connection to one lesson.
// Identity is resolved once at connect time and never changes.
type Session struct {
	Client   *Client
	LessonID string
	UserID   string
	UserName string
}

// Registry is the authoritative in-memory record of who is connected to which
// lesson. Both mappings are guarded by one mutex so that a session is present
// in byClient iff it is present in exactly one lesson's set.
type Registry struct {
	log      *zap.Logger
	mu       sync.RWMutex
	byLesson map[string]map[*Client]*Session
	byClient map[*Client]*Session
}

func NewRegistry(log *zap.Logger) *Registry {
	return &Registry{
		log:      log,
		byLesson: make(map[string]map[*Client]*Session),
		byClient: make(map[*Client]*Session),
	}
}

// Connect registers the client under lessonID and announces the join, with a
// roster that already includes the new participant, to everyone in the lesson
// including the client itself.
func (r *Registry) Connect(c *Client, lessonID, userID, userName string) {
	r.mu.Lock()
	peers := r.byLesson[lessonID]
	if peers == nil {
		peers = make(map[*Client]*Session)
		r.byLesson[lessonID] = peers
	}
	s := &Session{Client: c, LessonID: lessonID, UserID: userID, UserName: userName}
	peers[c] = s
	r.byClient[c] = s
	roster := r.participantsLocked(lessonID)
	conns, lessons := len(r.byClient), len(r.byLesson)
	r.mu.Unlock()

	metrics.SetActiveSessions(conns, lessons)
	r.log.Info("collab session joined",
		zap.String("lessonId", lessonID), zap.String("userId", userID), zap.String("userName", userName))

	r.Broadcast(lessonID, models.PresenceMessage{
		Type:        "presence",
		Action:      "joined",
		UserID:      userID,
		UserName:    userName,
		Timestamp:   timestamp(),
		ActiveUsers: roster,
	}, nil)
}

// Disconnect removes the client from both mappings, pruning the lesson entry
// when its last session leaves. Idempotent: unknown clients are a no-op. The
// "left" announcement runs detached so a slow peer cannot block teardown.
func (r *Registry) Disconnect(c *Client) {
	r.mu.Lock()
	s, ok := r.byClient[c]
	if !ok {
		r.mu.Unlock()
		return
	}
	delete(r.byClient, c)
	peers := r.byLesson[s.LessonID]
	delete(peers, c)
	if len(peers) == 0 {
		delete(r.byLesson, s.LessonID)
	}
	roster := r.participantsLocked(s.LessonID)
	conns, lessons := len(r.byClient), len(r.byLesson)
	r.mu.Unlock()

	c.Close()
	metrics.SetActiveSessions(conns, lessons)
	r.log.Info("collab session left",
		zap.String("lessonId", s.LessonID), zap.String("userId", s.UserID))

	go r.Broadcast(s.LessonID, models.PresenceMessage{
		Type:        "presence",
		Action:      "left",
		UserID:      s.UserID,
		UserName:    s.UserName,
		Timestamp:   timestamp(),
		ActiveUsers: roster,
	}, nil)
}

// Broadcast sends msg to every session of the lesson except exclude.
// Deliveries are independent: a failed send never aborts the rest, and the
// failing connection is torn down through the normal disconnect path.
func (r *Registry) Broadcast(lessonID string, msg any, exclude *Client) {
	r.mu.RLock()
	targets := make([]*Client, 0, len(r.byLesson[lessonID]))
	for c := range r.byLesson[lessonID] {
		if c != exclude {
			targets = append(targets, c)
		}
	}
	r.mu.RUnlock()

	var failed []*Client
	for _, c := range targets {
		if err := c.Send(msg); err != nil {
			r.log.Warn("send failed, dropping session",
				zap.String("lessonId", lessonID), zap.Error(err))
			failed = append(failed, c)
		}
	}
	for _, c := range failed {
		metrics.SendFailure()
		r.Disconnect(c)
	}
}

// ActiveParticipants returns the lesson's current roster, deduplicated by
// user id. Unknown lessons yield an empty slice.
func (r *Registry) ActiveParticipants(lessonID string) []models.Participant {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.participantsLocked(lessonID)
}

func (r *Registry) participantsLocked(lessonID string) []models.Participant {
	peers := r.byLesson[lessonID]
	out := make([]models.Participant, 0, len(peers))
	seen := make(map[string]struct{}, len(peers))
	for _, s := range peers {
		if _, dup := seen[s.UserID]; dup {
			continue
		}
		seen[s.UserID] = struct{}{}
		out = append(out, models.Participant{UserID: s.UserID, UserName: s.UserName})
	}
	return out
}

func timestamp() string {
	return time.Now().UTC().Format(time.RFC3339)
}
