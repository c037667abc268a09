package handlers

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/gin-contrib/sessions"
	"github.com/gin-contrib/sessions/cookie"
	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"

	"github.com/srgchrksv/newscaster/costs"
	"github.com/srgchrksv/newscaster/models"
	"github.com/srgchrksv/newscaster/storage"
	"github.com/srgchrksv/newscaster/tasks"
	"github.com/srgchrksv/newscaster/tts"
)

// stubEngine returns two silent samples for any text.
type stubEngine struct{}

func (stubEngine) Name() string { return "stub" }

func (stubEngine) Voice(speaker string) string { return speaker }

func (stubEngine) Synthesize(ctx context.Context, text, voice string) ([]byte, int, error) {
	return []byte{0, 0, 0, 0}, 16000, nil
}

func testRouter(t *testing.T, run tasks.Runner) (*gin.Engine, *Handler) {
	t.Helper()
	gin.SetMode(gin.TestMode)

	dir := t.TempDir()
	store, err := storage.Open(filepath.Join(dir, "sessions.db"))
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { store.Close() })
	tracker, err := costs.Open(filepath.Join(dir, "costs.db"))
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { tracker.Close() })

	if run == nil {
		run = func(ctx context.Context, sessionID, message string) (string, error) {
			return "ok: " + message, nil
		}
	}
	queue := tasks.NewQueue(run, 2, 8)
	t.Cleanup(queue.Stop)

	h := New(store, tracker, queue, tts.NewSynthesizer(stubEngine{}), filepath.Join(dir, "audio"))

	r := gin.New()
	r.Use(sessions.Sessions("newscaster", cookie.NewStore([]byte("test-secret"))))
	r.GET("/", h.Index)
	r.POST("/chat", h.Chat)
	r.POST("/interact", h.Interact)
	r.GET("/sessions", h.Sessions)
	r.GET("/sessions/:id", h.Session)
	r.DELETE("/sessions/:id", h.DeleteSession)
	r.GET("/costs", h.CostsSummary)
	r.GET("/audio/:name", h.Audio)
	r.GET("/stream", h.Stream)
	return r, h
}

func doJSON(t *testing.T, r *gin.Engine, method, path, body string, cookies []*http.Cookie) (*httptest.ResponseRecorder, map[string]any) {
	t.Helper()
	req := httptest.NewRequest(method, path, strings.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	for _, c := range cookies {
		req.AddCookie(c)
	}
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)

	var parsed map[string]any
	json.Unmarshal(w.Body.Bytes(), &parsed)
	return w, parsed
}

func TestIndexAssignsSession(t *testing.T) {
	r, _ := testRouter(t, nil)

	w, body := doJSON(t, r, http.MethodGet, "/", "", nil)
	if w.Code != http.StatusOK {
		t.Fatalf("status = %d", w.Code)
	}
	id, _ := body["session_id"].(string)
	if id == "" {
		t.Fatal("no session_id returned")
	}

	// The same cookie keeps the same ID.
	w2, body2 := doJSON(t, r, http.MethodGet, "/", "", w.Result().Cookies())
	if got, _ := body2["session_id"].(string); got != id {
		t.Errorf("session_id changed: %q -> %q (status %d)", id, got, w2.Code)
	}
}

func TestChat(t *testing.T) {
	var h *Handler
	r, created := testRouter(t, func(ctx context.Context, sessionID, message string) (string, error) {
		state := models.NewSessionState()
		state.Stage = models.StageSearch
		if err := h.Store.SaveState(sessionID, state); err != nil {
			return "", err
		}
		return "found sources", nil
	})
	h = created

	w, body := doJSON(t, r, http.MethodPost, "/chat", `{"message":"make a podcast"}`, nil)
	if w.Code != http.StatusOK {
		t.Fatalf("status = %d, body %s", w.Code, w.Body.String())
	}
	if body["response"] != "found sources" {
		t.Errorf("response = %v", body["response"])
	}
	if body["stage"] != models.StageSearch {
		t.Errorf("stage = %v", body["stage"])
	}
	if body["is_processing"] != false {
		t.Errorf("is_processing = %v", body["is_processing"])
	}
	if doc, _ := body["session_state"].(string); !strings.Contains(doc, `"stage":"search"`) {
		t.Errorf("session_state = %v", body["session_state"])
	}
}

func TestChatValidation(t *testing.T) {
	r, _ := testRouter(t, nil)
	w, _ := doJSON(t, r, http.MethodPost, "/chat", `{}`, nil)
	if w.Code != http.StatusBadRequest {
		t.Errorf("status = %d, want 400", w.Code)
	}
}

func TestSessionEndpoints(t *testing.T) {
	r, h := testRouter(t, nil)

	state := models.NewSessionState()
	state.ChatTitle = "test chat"
	if err := h.Store.SaveState("abc", state); err != nil {
		t.Fatal(err)
	}

	w, body := doJSON(t, r, http.MethodGet, "/sessions", "", nil)
	if w.Code != http.StatusOK {
		t.Fatalf("status = %d", w.Code)
	}
	if list, _ := body["sessions"].([]any); len(list) != 1 {
		t.Errorf("sessions = %v", body["sessions"])
	}

	w, body = doJSON(t, r, http.MethodGet, "/sessions/abc", "", nil)
	if w.Code != http.StatusOK || body["chat_title"] != "test chat" {
		t.Errorf("status %d body %v", w.Code, body)
	}

	w, _ = doJSON(t, r, http.MethodDelete, "/sessions/abc", "", nil)
	if w.Code != http.StatusOK {
		t.Fatalf("delete status = %d", w.Code)
	}
	_, body = doJSON(t, r, http.MethodGet, "/sessions", "", nil)
	if list, _ := body["sessions"].([]any); len(list) != 0 {
		t.Errorf("sessions after delete = %v", body["sessions"])
	}
}

func TestCostsSummary(t *testing.T) {
	r, h := testRouter(t, nil)
	if _, err := h.Costs.TrackTokens(100, 50, "gemini-2.5-flash", "main_agent"); err != nil {
		t.Fatal(err)
	}

	w, body := doJSON(t, r, http.MethodGet, "/costs?context=main_agent", "", nil)
	if w.Code != http.StatusOK {
		t.Fatalf("status = %d", w.Code)
	}
	if calls, _ := body["total_calls"].(float64); calls != 1 {
		t.Errorf("total_calls = %v", body["total_calls"])
	}

	_, body = doJSON(t, r, http.MethodGet, "/costs?model=gemini-2.5-pro", "", nil)
	if calls, _ := body["total_calls"].(float64); calls != 0 {
		t.Errorf("filtered total_calls = %v", body["total_calls"])
	}
}

func TestAudio(t *testing.T) {
	r, h := testRouter(t, nil)
	if err := os.MkdirAll(h.AudioDir, 0o755); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(filepath.Join(h.AudioDir, "podcast_x.wav"), []byte("RIFFdata"), 0o644); err != nil {
		t.Fatal(err)
	}

	w, _ := doJSON(t, r, http.MethodGet, "/audio/podcast_x.wav", "", nil)
	if w.Code != http.StatusOK || w.Body.String() != "RIFFdata" {
		t.Errorf("status %d body %q", w.Code, w.Body.String())
	}

	w, _ = doJSON(t, r, http.MethodGet, "/audio/secrets.txt", "", nil)
	if w.Code != http.StatusBadRequest {
		t.Errorf("non-wav name: status = %d, want 400", w.Code)
	}
}

func TestInteractWithoutStream(t *testing.T) {
	r, _ := testRouter(t, nil)
	w, _ := doJSON(t, r, http.MethodPost, "/interact", `{"message":"skip this story"}`, nil)
	if w.Code != http.StatusBadRequest {
		t.Errorf("status = %d, want 400", w.Code)
	}
}

func dialStream(t *testing.T, serverURL string, cookies []*http.Cookie) *websocket.Conn {
	t.Helper()
	pairs := make([]string, 0, len(cookies))
	for _, c := range cookies {
		pairs = append(pairs, c.Name+"="+c.Value)
	}
	header := http.Header{}
	if len(pairs) > 0 {
		header.Set("Cookie", strings.Join(pairs, "; "))
	}
	wsURL := "ws" + strings.TrimPrefix(serverURL, "http") + "/stream"
	conn, _, err := websocket.DefaultDialer.Dial(wsURL, header)
	if err != nil {
		t.Fatal(err)
	}
	return conn
}

func saveScript(t *testing.T, h *Handler, id string, texts ...string) {
	t.Helper()
	state := models.NewSessionState()
	var turns []models.Dialog
	for i, text := range texts {
		speaker := models.SpeakerAlex
		if i%2 == 1 {
			speaker = models.SpeakerMorgan
		}
		turns = append(turns, models.Dialog{Speaker: speaker, Text: text})
	}
	state.GeneratedScript = &models.PodcastScript{
		Title:    "test episode",
		Sections: []models.Section{{Type: "headlines", Dialog: turns}},
	}
	if err := h.Store.SaveState(id, state); err != nil {
		t.Fatal(err)
	}
}

func TestStreamSendsSegmentFrames(t *testing.T) {
	old := streamDelay
	streamDelay = 5 * time.Millisecond
	defer func() { streamDelay = old }()

	r, h := testRouter(t, nil)
	w, body := doJSON(t, r, http.MethodGet, "/", "", nil)
	id, _ := body["session_id"].(string)
	cookies := w.Result().Cookies()
	saveScript(t, h, id, "hello", "world")

	srv := httptest.NewServer(r)
	defer srv.Close()
	conn := dialStream(t, srv.URL, cookies)
	defer conn.Close()

	for _, want := range []string{"ALEX: hello\n", "MORGAN: world\n"} {
		kind, frame, err := conn.ReadMessage()
		if err != nil {
			t.Fatal(err)
		}
		if kind != websocket.TextMessage || string(frame) != want {
			t.Fatalf("frame = (%d, %q), want text %q", kind, frame, want)
		}
		kind, frame, err = conn.ReadMessage()
		if err != nil {
			t.Fatal(err)
		}
		if kind != websocket.BinaryMessage || !bytes.HasPrefix(frame, []byte("RIFF")) {
			t.Fatalf("after %q: kind = %d, %d bytes, want a wav clip", want, kind, len(frame))
		}
	}
	if _, _, err := conn.ReadMessage(); err == nil {
		t.Error("stream did not close after the last segment")
	}
}

func TestStreamStopsOnInteraction(t *testing.T) {
	old := streamDelay
	streamDelay = 200 * time.Millisecond
	defer func() { streamDelay = old }()

	r, h := testRouter(t, nil)
	w, body := doJSON(t, r, http.MethodGet, "/", "", nil)
	id, _ := body["session_id"].(string)
	cookies := w.Result().Cookies()
	saveScript(t, h, id, "first", "second", "third")

	srv := httptest.NewServer(r)
	defer srv.Close()
	conn := dialStream(t, srv.URL, cookies)
	defer conn.Close()

	// First segment pair, then interact while the stream paces.
	if _, _, err := conn.ReadMessage(); err != nil {
		t.Fatal(err)
	}
	if _, _, err := conn.ReadMessage(); err != nil {
		t.Fatal(err)
	}
	w2, _ := doJSON(t, r, http.MethodPost, "/interact", `{"message":"change topic"}`, cookies)
	if w2.Code != http.StatusOK {
		t.Fatalf("interact status = %d, body %s", w2.Code, w2.Body.String())
	}

	kind, frame, err := conn.ReadMessage()
	if err != nil {
		t.Fatal(err)
	}
	if kind != websocket.TextMessage || !strings.Contains(string(frame), "USER INTERACTION: change topic") {
		t.Fatalf("frame = (%d, %q), want the interaction prompt", kind, frame)
	}
	if _, _, err := conn.ReadMessage(); err == nil {
		t.Error("stream kept playing after the interaction")
	}
}

func TestStreamWithoutScript(t *testing.T) {
	r, _ := testRouter(t, nil)
	w, _ := doJSON(t, r, http.MethodGet, "/stream", "", nil)
	if w.Code != http.StatusBadRequest {
		t.Errorf("status = %d, want 400", w.Code)
	}
}

func TestInteractDeliversPrompt(t *testing.T) {
	r, h := testRouter(t, nil)

	// Pin the session ID by visiting the index first.
	w, body := doJSON(t, r, http.MethodGet, "/", "", nil)
	id, _ := body["session_id"].(string)
	cookies := w.Result().Cookies()

	live := h.Store.RegisterLive(id)
	defer h.Store.UnregisterLive(id)

	w2, _ := doJSON(t, r, http.MethodPost, "/interact", `{"message":"more detail"}`, cookies)
	if w2.Code != http.StatusOK {
		t.Fatalf("status = %d, body %s", w2.Code, w2.Body.String())
	}
	select {
	case prompt := <-live.InteractionPrompt:
		if !strings.Contains(string(prompt), "more detail") {
			t.Errorf("prompt = %q", prompt)
		}
	default:
		t.Error("no prompt delivered")
	}
}
