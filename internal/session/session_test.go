package session

import (
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"lessonhub/collab/internal/models"
)

func newTestRegistry() *Registry { return NewRegistry(zap.NewNop()) }

// hookedClient returns a client whose sends land on a buffered channel.
func hookedClient(t *testing.T) (*Client, chan any) {
	t.Helper()
	c := NewClient(nil)
	frames := make(chan any, 32)
	c.SetSendHook(func(v any) error {
		frames <- v
		return nil
	})
	return c, frames
}

func recvFrame(t *testing.T, frames chan any) any {
	t.Helper()
	select {
	case v := <-frames:
		return v
	case <-time.After(2 * time.Second):
		t.Fatalf("timed out waiting for frame")
		return nil
	}
}

func recvPresence(t *testing.T, frames chan any, action string) models.PresenceMessage {
	t.Helper()
	v := recvFrame(t, frames)
	p, ok := v.(models.PresenceMessage)
	if !ok {
		t.Fatalf("expected presence frame, got %#v", v)
	}
	if p.Action != action {
		t.Fatalf("expected action %q, got %#v", action, p)
	}
	return p
}

func TestClientSendWithHook(t *testing.T) {
	c := NewClient(nil)
	var got any
	c.SetSendHook(func(v any) error { got = v; return nil })

	if err := c.Send(models.PongMessage{Type: "pong"}); err != nil {
		t.Fatalf("unexpected send error: %v", err)
	}
	if p, ok := got.(models.PongMessage); !ok || p.Type != "pong" {
		t.Fatalf("expected pong captured, got %#v", got)
	}
}

func TestClientSendHookErrorPropagates(t *testing.T) {
	c := NewClient(nil)
	c.SetSendHook(func(any) error { return errors.New("broken pipe") })
	if err := c.Send("x"); err == nil {
		t.Fatalf("expected error from hook")
	}
}

func TestClientSendWithoutConnDoesNotPanic(t *testing.T) {
	c := NewClient(nil)
	if err := c.Send("noop"); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
}

func TestClientSendTimesOutOnStalledPeer(t *testing.T) {
	prev := writeWait
	writeWait = 50 * time.Millisecond
	t.Cleanup(func() { writeWait = prev })

	done := make(chan struct{})
	t.Cleanup(func() { close(done) })

	// The peer accepts the connection and then never reads from it.
	upgrader := websocket.Upgrader{}
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		defer conn.Close()
		<-done
	}))
	t.Cleanup(server.Close)

	wsURL := "ws" + strings.TrimPrefix(server.URL, "http")
	conn, _, err := websocket.DefaultDialer.Dial(wsURL, nil)
	if err != nil {
		t.Fatalf("dial failed: %v", err)
	}
	c := NewClient(conn)
	t.Cleanup(c.Close)

	// Once the socket buffers fill, the write must fail within the
	// deadline instead of blocking forever.
	payload := strings.Repeat("x", 256*1024)
	start := time.Now()
	for i := 0; i < 64; i++ {
		if err := c.Send(payload); err != nil {
			if elapsed := time.Since(start); elapsed > 3*time.Second {
				t.Fatalf("send took %v to fail, expected the write deadline to bound it", elapsed)
			}
			return
		}
	}
	t.Fatalf("sends to a stalled peer never failed")
}

func TestConnectAnnouncesJoinToSelf(t *testing.T) {
	r := newTestRegistry()
	c, frames := hookedClient(t)

	r.Connect(c, "doc-42", "u1", "Ana")

	p := recvPresence(t, frames, "joined")
	if p.UserID != "u1" || p.UserName != "Ana" {
		t.Fatalf("unexpected join payload: %#v", p)
	}
	if len(p.ActiveUsers) != 1 || p.ActiveUsers[0].UserID != "u1" {
		t.Fatalf("expected roster with just u1, got %#v", p.ActiveUsers)
	}
	if p.Timestamp == "" {
		t.Fatalf("expected timestamp on presence frame")
	}
}

func TestConnectAnnouncesJoinToPeers(t *testing.T) {
	r := newTestRegistry()
	ana, anaFrames := hookedClient(t)
	ben, benFrames := hookedClient(t)

	r.Connect(ana, "doc-42", "u1", "Ana")
	recvPresence(t, anaFrames, "joined")

	r.Connect(ben, "doc-42", "u2", "Ben")
	p := recvPresence(t, anaFrames, "joined")
	if p.UserID != "u2" || p.UserName != "Ben" {
		t.Fatalf("unexpected join payload: %#v", p)
	}
	if len(p.ActiveUsers) != 2 {
		t.Fatalf("expected roster with both users, got %#v", p.ActiveUsers)
	}
	recvPresence(t, benFrames, "joined")
}

func TestActiveParticipantsDedupsByUser(t *testing.T) {
	r := newTestRegistry()
	tab1, _ := hookedClient(t)
	tab2, _ := hookedClient(t)
	ben, _ := hookedClient(t)

	r.Connect(tab1, "doc-1", "u1", "Ana")
	r.Connect(tab2, "doc-1", "u1", "Ana")
	r.Connect(ben, "doc-1", "u2", "Ben")

	users := r.ActiveParticipants("doc-1")
	if len(users) != 2 {
		t.Fatalf("expected 2 deduplicated users, got %#v", users)
	}

	// Closing one of Ana's tabs must not drop her from the roster.
	r.Disconnect(tab1)
	users = r.ActiveParticipants("doc-1")
	if len(users) != 2 {
		t.Fatalf("expected Ana still present via second tab, got %#v", users)
	}
}

func TestActiveParticipantsUnknownLesson(t *testing.T) {
	r := newTestRegistry()
	if users := r.ActiveParticipants("missing"); len(users) != 0 {
		t.Fatalf("expected empty roster, got %#v", users)
	}
}

func TestDisconnectNotifiesRemaining(t *testing.T) {
	r := newTestRegistry()
	ana, anaFrames := hookedClient(t)
	ben, benFrames := hookedClient(t)

	r.Connect(ana, "doc-42", "u1", "Ana")
	recvPresence(t, anaFrames, "joined")
	r.Connect(ben, "doc-42", "u2", "Ben")
	recvPresence(t, anaFrames, "joined")
	recvPresence(t, benFrames, "joined")

	r.Disconnect(ben)

	p := recvPresence(t, anaFrames, "left")
	if p.UserID != "u2" {
		t.Fatalf("unexpected leave payload: %#v", p)
	}
	if len(p.ActiveUsers) != 1 || p.ActiveUsers[0].UserID != "u1" {
		t.Fatalf("roster should already exclude the departed user, got %#v", p.ActiveUsers)
	}
	if users := r.ActiveParticipants("doc-42"); len(users) != 1 {
		t.Fatalf("expected only Ana active, got %#v", users)
	}
}

func TestDisconnectUnknownClientIsNoop(t *testing.T) {
	r := newTestRegistry()
	stranger := NewClient(nil)
	r.Disconnect(stranger)
	r.Disconnect(stranger)

	c, frames := hookedClient(t)
	r.Connect(c, "doc-1", "u1", "Ana")
	recvPresence(t, frames, "joined")
	r.Disconnect(c)
	r.Disconnect(c)
	if users := r.ActiveParticipants("doc-1"); len(users) != 0 {
		t.Fatalf("expected empty roster, got %#v", users)
	}
}

func TestLastLeavePrunesLesson(t *testing.T) {
	r := newTestRegistry()
	ana, anaFrames := hookedClient(t)
	ben, _ := hookedClient(t)

	r.Connect(ana, "doc-42", "u1", "Ana")
	recvPresence(t, anaFrames, "joined")
	r.Connect(ben, "doc-42", "u2", "Ben")
	recvPresence(t, anaFrames, "joined")

	r.Disconnect(ben)
	recvPresence(t, anaFrames, "left")
	r.Disconnect(ana)

	r.mu.RLock()
	defer r.mu.RUnlock()
	if _, ok := r.byLesson["doc-42"]; ok {
		t.Fatalf("expected lesson entry to be pruned")
	}
	if len(r.byClient) != 0 {
		t.Fatalf("expected no sessions left, got %d", len(r.byClient))
	}
}

func TestMembershipConsistency(t *testing.T) {
	r := newTestRegistry()
	a, _ := hookedClient(t)
	b, _ := hookedClient(t)
	c, _ := hookedClient(t)

	r.Connect(a, "doc-1", "u1", "Ana")
	r.Connect(b, "doc-1", "u2", "Ben")
	r.Connect(c, "doc-2", "u3", "Cy")
	r.Disconnect(b)

	r.mu.RLock()
	defer r.mu.RUnlock()
	total := 0
	for _, peers := range r.byLesson {
		if len(peers) == 0 {
			t.Fatalf("found lesson entry with empty session set")
		}
		for client, s := range peers {
			if r.byClient[client] != s {
				t.Fatalf("session set and reverse mapping disagree for %s", s.UserID)
			}
			total++
		}
	}
	if total != len(r.byClient) {
		t.Fatalf("expected %d sessions in lesson sets, got %d", len(r.byClient), total)
	}
}

func TestBroadcastExcludesSender(t *testing.T) {
	r := newTestRegistry()
	ana, anaFrames := hookedClient(t)
	ben, benFrames := hookedClient(t)

	r.Connect(ana, "doc-1", "u1", "Ana")
	recvPresence(t, anaFrames, "joined")
	r.Connect(ben, "doc-1", "u2", "Ben")
	recvPresence(t, anaFrames, "joined")
	recvPresence(t, benFrames, "joined")

	msg := models.CursorMessage{Type: "cursor", UserID: "u2", UserName: "Ben", Position: 12, SectionIndex: 1}
	r.Broadcast("doc-1", msg, ben)

	got := recvFrame(t, anaFrames)
	if cur, ok := got.(models.CursorMessage); !ok || cur.UserID != "u2" {
		t.Fatalf("expected cursor frame for Ana, got %#v", got)
	}
	select {
	case v := <-benFrames:
		t.Fatalf("sender must not receive its own broadcast, got %#v", v)
	case <-time.After(50 * time.Millisecond):
	}
}

func TestBroadcastToUnknownLessonIsNoop(t *testing.T) {
	r := newTestRegistry()
	r.Broadcast("missing", models.PongMessage{Type: "pong"}, nil)
}

func TestBroadcastFailureIsolatesAndReaps(t *testing.T) {
	r := newTestRegistry()
	ana, anaFrames := hookedClient(t)
	cy, cyFrames := hookedClient(t)

	ben := NewClient(nil)
	var benBroken atomic.Bool
	benFrames := make(chan any, 32)
	ben.SetSendHook(func(v any) error {
		if benBroken.Load() {
			return errors.New("write: broken pipe")
		}
		benFrames <- v
		return nil
	})

	r.Connect(ana, "doc-1", "u1", "Ana")
	recvPresence(t, anaFrames, "joined")
	r.Connect(ben, "doc-1", "u2", "Ben")
	recvPresence(t, anaFrames, "joined")
	recvPresence(t, benFrames, "joined")
	r.Connect(cy, "doc-1", "u3", "Cy")
	recvPresence(t, anaFrames, "joined")
	recvPresence(t, benFrames, "joined")
	recvPresence(t, cyFrames, "joined")

	benBroken.Store(true)
	msg := models.TypingMessage{Type: "typing", UserID: "u1", UserName: "Ana", SectionIndex: 0, IsTyping: true}
	r.Broadcast("doc-1", msg, nil)

	// The healthy participants still get the message.
	if _, ok := recvFrame(t, anaFrames).(models.TypingMessage); !ok {
		t.Fatalf("expected Ana to receive the broadcast")
	}
	if _, ok := recvFrame(t, cyFrames).(models.TypingMessage); !ok {
		t.Fatalf("expected Cy to receive the broadcast")
	}

	// The failed connection is reaped and announced as gone.
	p := recvPresence(t, anaFrames, "left")
	if p.UserID != "u2" {
		t.Fatalf("expected Ben to be reported gone, got %#v", p)
	}
	recvPresence(t, cyFrames, "left")

	users := r.ActiveParticipants("doc-1")
	if len(users) != 2 {
		t.Fatalf("expected 2 survivors, got %#v", users)
	}
	for _, u := range users {
		if u.UserID == "u2" {
			t.Fatalf("Ben should have been removed, got %#v", users)
		}
	}
}
