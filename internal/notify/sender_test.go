package notify

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
)

func TestDiscordSendPostsContent(t *testing.T) {
	var body map[string]string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if ct := r.Header.Get("Content-Type"); ct != "application/json" {
			t.Errorf("Content-Type = %q", ct)
		}
		if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
			t.Errorf("decode body: %v", err)
		}
		w.WriteHeader(http.StatusNoContent)
	}))
	defer srv.Close()

	s := NewDiscordSender(srv.URL)
	if err := s.Send(context.Background(), "position opened", "BTC-UP @ 0.55"); err != nil {
		t.Fatalf("Send: %v", err)
	}

	content := body["content"]
	if !strings.Contains(content, "**position opened**") {
		t.Errorf("content missing bold title: %q", content)
	}
	if !strings.Contains(content, "BTC-UP @ 0.55") {
		t.Errorf("content missing message: %q", content)
	}
}

func TestDiscordSendReportsErrorStatus(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		http.Error(w, "rate limited", http.StatusTooManyRequests)
	}))
	defer srv.Close()

	s := NewDiscordSender(srv.URL)
	err := s.Send(context.Background(), "title", "message")
	if err == nil {
		t.Fatal("Send accepted a 429 response")
	}
	if !strings.Contains(err.Error(), "discord:") || !strings.Contains(err.Error(), "429") {
		t.Errorf("error = %v, want discord-prefixed status error", err)
	}
}
