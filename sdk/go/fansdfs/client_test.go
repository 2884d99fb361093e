package fansdfs

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
)

func TestPlayTurnEncodesAttachments(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/api/v1/turns" {
			t.Fatalf("unexpected path: %s", r.URL.Path)
		}
		if r.Method != http.MethodPost {
			t.Fatalf("unexpected method: %s", r.Method)
		}
		var payload struct {
			ThreadID    string `json:"thread_id"`
			Utterance   string `json:"utterance"`
			Attachments []struct {
				Filename string `json:"filename"`
				Content  string `json:"content"`
			} `json:"attachments"`
		}
		if err := json.NewDecoder(r.Body).Decode(&payload); err != nil {
			t.Fatalf("decode request: %v", err)
		}
		if payload.Utterance != "upload file" {
			t.Fatalf("unexpected utterance: %q", payload.Utterance)
		}
		if len(payload.Attachments) != 1 {
			t.Fatalf("expected one attachment, got %d", len(payload.Attachments))
		}
		raw, err := base64.StdEncoding.DecodeString(payload.Attachments[0].Content)
		if err != nil {
			t.Fatalf("attachment content is not base64: %v", err)
		}
		if string(raw) != "mp3-bytes" {
			t.Fatalf("unexpected attachment content: %q", raw)
		}
		_ = json.NewEncoder(w).Encode(Turn{
			TurnID:   "turn-1",
			ThreadID: "thread-1",
			Agent:    "UPLOAD",
			Reply:    "Ready to process file 'track.mp3'.",
		})
	}))
	defer srv.Close()

	client := NewClient(srv.URL, srv.Client())

	turn, err := client.PlayTurn(context.Background(), TurnSubmission{
		ThreadID:  "thread-1",
		Utterance: "upload file",
		Attachments: []Attachment{
			{Filename: "track.mp3", ContentType: "audio/mpeg", Content: []byte("mp3-bytes")},
		},
	})
	if err != nil {
		t.Fatalf("play turn: %v", err)
	}
	if turn.Agent != "UPLOAD" {
		t.Fatalf("unexpected agent: %s", turn.Agent)
	}
}

func TestListTurnsByThread(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if got := r.URL.Query().Get("thread_id"); got != "thread-7" {
			t.Fatalf("unexpected thread_id: %q", got)
		}
		_ = json.NewEncoder(w).Encode([]TurnRecord{
			{ID: "a", ThreadID: "thread-7", Agent: "MANAGER"},
			{ID: "b", ThreadID: "thread-7", Agent: "AUTH"},
		})
	}))
	defer srv.Close()

	client := NewClient(srv.URL, srv.Client())

	results, err := client.ListTurns(context.Background(), ListOptions{ThreadID: "thread-7"})
	if err != nil {
		t.Fatalf("list turns: %v", err)
	}
	if len(results) != 2 {
		t.Fatalf("expected 2 records, got %d", len(results))
	}
	if results[1].Agent != "AUTH" {
		t.Fatalf("unexpected agent: %s", results[1].Agent)
	}
}

func TestPlayTurnError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusBadRequest)
		_ = json.NewEncoder(w).Encode(map[string]string{
			"error": "话语不能超长",
			"code":  "INVALID_ARGUMENT",
		})
	}))
	defer srv.Close()

	client := NewClient(srv.URL, srv.Client())

	_, err := client.PlayTurn(context.Background(), TurnSubmission{Utterance: "hello"})
	if err == nil {
		t.Fatal("expected error")
	}
	apiErr, ok := err.(*APIError)
	if !ok {
		t.Fatalf("expected APIError, got %T", err)
	}
	if apiErr.Code != "INVALID_ARGUMENT" {
		t.Fatalf("unexpected error code: %s", apiErr.Code)
	}
	if apiErr.StatusCode != http.StatusBadRequest {
		t.Fatalf("unexpected status: %d", apiErr.StatusCode)
	}
}

func TestHealth(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/healthz" {
			t.Fatalf("unexpected path: %s", r.URL.Path)
		}
		_ = json.NewEncoder(w).Encode(map[string]string{"status": "ok"})
	}))
	defer srv.Close()

	client := NewClient(srv.URL, srv.Client())
	if err := client.Health(context.Background()); err != nil {
		t.Fatalf("health: %v", err)
	}
}
