package server

import (
	"encoding/json"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"

	"github.com/kwen1510/Smart-Classroom-Live-Transcription/internal/audio"
	"github.com/kwen1510/Smart-Classroom-Live-Transcription/internal/session"
)

type wsFixture struct {
	*apiFixture
	agg *audio.Aggregator
}

func newWSFixture(t *testing.T) *wsFixture {
	t.Helper()
	f := &wsFixture{
		apiFixture: &apiFixture{
			sessions: &fakeSessions{states: make(map[string]session.State)},
			store:    newFakeAPIStore(),
			hub:      NewHub(),
			stt:      &staticTranscriber{},
			sum:      &staticSummarizer{},
		},
		agg: audio.NewAggregator(0, 0),
	}
	deps := &Deps{
		Sessions:    f.sessions,
		Store:       f.store,
		Hub:         f.hub,
		Audio:       f.agg,
		Transcriber: f.stt,
		Summarizer:  f.sum,
	}
	f.srv = httptest.NewServer(Handler(deps, ""))
	t.Cleanup(f.srv.Close)
	return f
}

func (f *wsFixture) dial(t *testing.T) *websocket.Conn {
	t.Helper()
	url := "ws" + strings.TrimPrefix(f.srv.URL, "http") + "/ws"
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	if err != nil {
		t.Fatalf("dial ws: %v", err)
	}
	t.Cleanup(func() { _ = conn.Close() })
	return conn
}

func sendControl(t *testing.T, conn *websocket.Conn, event string, payload any) {
	t.Helper()
	msg, err := newMessage(event, payload)
	if err != nil {
		t.Fatal(err)
	}
	if err := conn.WriteJSON(msg); err != nil {
		t.Fatalf("write %s: %v", event, err)
	}
}

func readEvent(t *testing.T, conn *websocket.Conn) WSMessage {
	t.Helper()
	_ = conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	var msg WSMessage
	if err := conn.ReadJSON(&msg); err != nil {
		t.Fatalf("read event: %v", err)
	}
	return msg
}

func TestStudentJoinFlow(t *testing.T) {
	f := newWSFixture(t)
	f.sessions.states["123456"] = session.State{
		ID: "sess-1", Code: "123456", Active: true, IntervalMS: 30_000,
	}

	conn := f.dial(t)
	sendControl(t, conn, "join", JoinRequest{Code: "123456", Group: 2})

	msg := readEvent(t, conn)
	if msg.Event != "joined" {
		t.Fatalf("event = %q (%s), want joined", msg.Event, msg.Data)
	}
	var joined JoinedEvent
	if err := json.Unmarshal(msg.Data, &joined); err != nil {
		t.Fatal(err)
	}
	if joined.Group != 2 || joined.Status != "recording" {
		t.Errorf("joined = %+v", joined)
	}

	// Joining created the group row.
	if _, err := f.store.GetGroup("sess-1", 2); err != nil {
		t.Errorf("group row missing after join: %v", err)
	}
}

func TestJoinUnknownSession(t *testing.T) {
	f := newWSFixture(t)
	conn := f.dial(t)
	sendControl(t, conn, "join", JoinRequest{Code: "999999", Group: 1})

	msg := readEvent(t, conn)
	if msg.Event != "error" {
		t.Fatalf("event = %q, want error", msg.Event)
	}
	var ev ErrorEvent
	if err := json.Unmarshal(msg.Data, &ev); err != nil {
		t.Fatal(err)
	}
	if ev.Message != "session not found" {
		t.Errorf("message = %q", ev.Message)
	}
}

func TestJoinRequiresGroupNumber(t *testing.T) {
	f := newWSFixture(t)
	f.sessions.states["123456"] = session.State{ID: "sess-1", Code: "123456"}

	conn := f.dial(t)
	sendControl(t, conn, "join", JoinRequest{Code: "123456"})

	if msg := readEvent(t, conn); msg.Event != "error" {
		t.Fatalf("event = %q, want error", msg.Event)
	}
}

func TestBinaryFramesBufferAudio(t *testing.T) {
	f := newWSFixture(t)
	f.sessions.states["123456"] = session.State{
		ID: "sess-1", Code: "123456", Active: true, IntervalMS: 30_000,
	}

	conn := f.dial(t)
	sendControl(t, conn, "join", JoinRequest{Code: "123456", Group: 1})
	if msg := readEvent(t, conn); msg.Event != "joined" {
		t.Fatalf("event = %q, want joined", msg.Event)
	}

	if err := conn.WriteMessage(websocket.BinaryMessage, []byte("chunk-1")); err != nil {
		t.Fatal(err)
	}
	if err := conn.WriteMessage(websocket.BinaryMessage, []byte("chunk-2")); err != nil {
		t.Fatal(err)
	}

	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		members := f.hub.GroupMembers("123456", 1)
		if len(members) == 1 && f.agg.Buffered(members[0]) == len("chunk-1")+len("chunk-2") {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatal("audio chunks never reached the aggregator")
}

func TestAdminSeesStudentPresence(t *testing.T) {
	f := newWSFixture(t)
	f.sessions.states["123456"] = session.State{ID: "sess-1", Code: "123456"}

	adminConn := f.dial(t)
	sendControl(t, adminConn, "admin_join", JoinRequest{Code: "123456"})
	if msg := readEvent(t, adminConn); msg.Event != "joined" {
		t.Fatalf("admin join event = %q", msg.Event)
	}

	studentConn := f.dial(t)
	sendControl(t, studentConn, "join", JoinRequest{Code: "123456", Group: 3})
	if msg := readEvent(t, studentConn); msg.Event != "joined" {
		t.Fatalf("student join event = %q", msg.Event)
	}

	msg := readEvent(t, adminConn)
	if msg.Event != "student_joined" {
		t.Fatalf("admin event = %q, want student_joined", msg.Event)
	}
	var presence StudentPresenceEvent
	if err := json.Unmarshal(msg.Data, &presence); err != nil {
		t.Fatal(err)
	}
	if presence.Group != 3 {
		t.Errorf("presence group = %d", presence.Group)
	}

	_ = studentConn.Close()
	msg = readEvent(t, adminConn)
	if msg.Event != "student_left" {
		t.Fatalf("admin event = %q, want student_left", msg.Event)
	}
}

func TestDisconnectCleansUp(t *testing.T) {
	f := newWSFixture(t)
	f.sessions.states["123456"] = session.State{ID: "sess-1", Code: "123456", Active: true}

	conn := f.dial(t)
	sendControl(t, conn, "join", JoinRequest{Code: "123456", Group: 1})
	if msg := readEvent(t, conn); msg.Event != "joined" {
		t.Fatalf("event = %q", msg.Event)
	}
	if err := conn.WriteMessage(websocket.BinaryMessage, []byte("audio")); err != nil {
		t.Fatal(err)
	}

	var connID string
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if members := f.hub.GroupMembers("123456", 1); len(members) == 1 {
			connID = members[0]
			break
		}
		time.Sleep(5 * time.Millisecond)
	}
	if connID == "" {
		t.Fatal("student never appeared in the hub")
	}

	_ = conn.Close()
	deadline = time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if len(f.hub.GroupMembers("123456", 1)) == 0 && f.agg.Buffered(connID) == 0 {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatal("disconnect did not clean up membership and buffered audio")
}
