package storage

import (
	"path/filepath"
	"testing"

	"github.com/srgchrksv/newscaster/models"
)

func openTestStore(t *testing.T) *Store {
	t.Helper()
	s, err := Open(filepath.Join(t.TempDir(), "sessions.db"))
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { s.Close() })
	return s
}

func TestGetStateUnknownSession(t *testing.T) {
	s := openTestStore(t)

	state, err := s.GetState("nope")
	if err != nil {
		t.Fatal(err)
	}
	if state.Stage != models.StageChat {
		t.Errorf("fresh stage = %s, want %s", state.Stage, models.StageChat)
	}
}

func TestSaveAndGetState(t *testing.T) {
	s := openTestStore(t)

	state := models.NewSessionState()
	state.Stage = models.StageSearch
	state.ChatTitle = "space news"
	if err := s.SaveState("s1", state); err != nil {
		t.Fatal(err)
	}

	// Second save updates instead of inserting.
	state.Stage = models.StageAudio
	if err := s.SaveState("s1", state); err != nil {
		t.Fatal(err)
	}

	got, err := s.GetState("s1")
	if err != nil {
		t.Fatal(err)
	}
	if got.Stage != models.StageAudio || got.ChatTitle != "space news" {
		t.Errorf("got %+v", got)
	}

	ids, err := s.ListSessions()
	if err != nil {
		t.Fatal(err)
	}
	if len(ids) != 1 || ids[0] != "s1" {
		t.Errorf("ListSessions() = %v", ids)
	}
}

func TestDeleteSession(t *testing.T) {
	s := openTestStore(t)

	if err := s.SaveState("gone", models.NewSessionState()); err != nil {
		t.Fatal(err)
	}
	if err := s.DeleteSession("gone"); err != nil {
		t.Fatal(err)
	}
	ids, err := s.ListSessions()
	if err != nil {
		t.Fatal(err)
	}
	if len(ids) != 0 {
		t.Errorf("ListSessions() after delete = %v", ids)
	}
}

func TestLiveRegistry(t *testing.T) {
	s := openTestStore(t)

	if _, ok := s.Live("s1"); ok {
		t.Fatal("Live() found unregistered session")
	}

	ls := s.RegisterLive("s1")
	got, ok := s.Live("s1")
	if !ok || got != ls {
		t.Fatal("Live() did not return the registration")
	}

	// The channel is buffered so one interaction never blocks the sender.
	ls.InteractionPrompt <- []byte("hello")
	if msg := <-ls.InteractionPrompt; string(msg) != "hello" {
		t.Errorf("prompt = %q", msg)
	}

	s.UnregisterLive("s1")
	if _, ok := s.Live("s1"); ok {
		t.Error("Live() found session after unregister")
	}
}
