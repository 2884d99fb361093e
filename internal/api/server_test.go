package api

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"FansDFS/internal/agents"
	"FansDFS/internal/command"
	"FansDFS/internal/orchestrator"
	"FansDFS/internal/records"
	"FansDFS/internal/session"
)

type echoRouter struct{}

func (echoRouter) Route(_ context.Context, _ string, _ *session.Session) command.RouteDecision {
	return command.RouteDecision{Target: command.AgentManager, Command: command.New(command.VerbWelcome)}
}

type echoAgent struct{}

func (echoAgent) ID() command.AgentID { return command.AgentManager }

func (echoAgent) Handle(_ context.Context, _ command.Command, sess *session.Session) agents.Result {
	reply := "welcome"
	if att, ok := sess.Attachment("track.mp3"); ok {
		reply = "got " + att.Filename
	}
	return agents.Result{Reply: reply, AwaitingInput: true}
}

func newTestServer(t *testing.T) (*httptest.Server, records.Repository) {
	t.Helper()
	repo := records.NewMemoryRepository()
	orch, err := orchestrator.New(session.NewMemoryStore(), echoRouter{},
		[]agents.Agent{echoAgent{}}, orchestrator.Config{}, orchestrator.WithRecords(repo))
	if err != nil {
		t.Fatalf("new orchestrator: %v", err)
	}
	server := httptest.NewServer(NewServer(":0", orch, repo).Handler())
	t.Cleanup(server.Close)
	return server, repo
}

func TestCreateTurn(t *testing.T) {
	server, _ := newTestServer(t)

	body, _ := json.Marshal(map[string]any{
		"thread_id": "t1",
		"signer_id": "alice.testnet",
		"utterance": "hello",
	})
	resp, err := http.Post(server.URL+"/api/v1/turns", "application/json", bytes.NewReader(body))
	if err != nil {
		t.Fatalf("post: %v", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("unexpected status: %d", resp.StatusCode)
	}

	var turn turnResponse
	if err := json.NewDecoder(resp.Body).Decode(&turn); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if turn.ThreadID != "t1" || turn.Reply != "welcome" || turn.Agent != "manager" {
		t.Fatalf("unexpected turn: %+v", turn)
	}
	if turn.TurnID == "" {
		t.Fatal("turn id missing")
	}
}

func TestCreateTurnDecodesAttachments(t *testing.T) {
	server, _ := newTestServer(t)

	body, _ := json.Marshal(map[string]any{
		"thread_id": "t1",
		"utterance": "",
		"attachments": []map[string]string{{
			"filename":     "track.mp3",
			"content_type": "audio/mpeg",
			"content":      base64.StdEncoding.EncodeToString([]byte("audio")),
		}},
	})
	resp, err := http.Post(server.URL+"/api/v1/turns", "application/json", bytes.NewReader(body))
	if err != nil {
		t.Fatalf("post: %v", err)
	}
	defer resp.Body.Close()

	var turn turnResponse
	if err := json.NewDecoder(resp.Body).Decode(&turn); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if turn.Reply != "got track.mp3" {
		t.Fatalf("attachment did not reach the session: %+v", turn)
	}
}

func TestCreateTurnRejectsBadBase64(t *testing.T) {
	server, _ := newTestServer(t)

	body, _ := json.Marshal(map[string]any{
		"utterance": "",
		"attachments": []map[string]string{{
			"filename": "track.mp3",
			"content":  "not base64!!!",
		}},
	})
	resp, err := http.Post(server.URL+"/api/v1/turns", "application/json", bytes.NewReader(body))
	if err != nil {
		t.Fatalf("post: %v", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusBadRequest {
		t.Fatalf("unexpected status: %d", resp.StatusCode)
	}
}

func TestListTurns(t *testing.T) {
	server, repo := newTestServer(t)

	for i := 0; i < 3; i++ {
		if err := repo.Save(context.Background(), &records.TurnRecord{
			ThreadID: "t1", Agent: "manager", Reply: "ok", CreatedAt: int64(100 + i),
		}); err != nil {
			t.Fatalf("seed record: %v", err)
		}
	}

	resp, err := http.Get(server.URL + "/api/v1/turns?limit=2")
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	defer resp.Body.Close()
	var listed []records.TurnRecord
	if err := json.NewDecoder(resp.Body).Decode(&listed); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if len(listed) != 2 {
		t.Fatalf("expected 2 records, got %d", len(listed))
	}

	byThread, err := http.Get(server.URL + "/api/v1/turns?thread_id=t1")
	if err != nil {
		t.Fatalf("get by thread: %v", err)
	}
	defer byThread.Body.Close()
	listed = nil
	if err := json.NewDecoder(byThread.Body).Decode(&listed); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if len(listed) != 3 {
		t.Fatalf("expected 3 records for t1, got %d", len(listed))
	}
}

func TestHealth(t *testing.T) {
	server, _ := newTestServer(t)
	resp, err := http.Get(server.URL + "/healthz")
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("unexpected status: %d", resp.StatusCode)
	}
}

func TestTurnsMethodNotAllowed(t *testing.T) {
	server, _ := newTestServer(t)
	req, _ := http.NewRequest(http.MethodDelete, server.URL+"/api/v1/turns", nil)
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatalf("delete: %v", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusMethodNotAllowed {
		t.Fatalf("unexpected status: %d", resp.StatusCode)
	}
}

func TestCreateTurnRejectsPathInFilename(t *testing.T) {
	server, _ := newTestServer(t)

	for _, filename := range []string{"../evil.mp3", "a/b.mp3", `a\b.mp3`, "..", ""} {
		body, _ := json.Marshal(map[string]any{
			"thread_id": "t1",
			"utterance": "",
			"attachments": []map[string]string{{
				"filename": filename,
				"content":  base64.StdEncoding.EncodeToString([]byte("audio")),
			}},
		})
		resp, err := http.Post(server.URL+"/api/v1/turns", "application/json", bytes.NewReader(body))
		if err != nil {
			t.Fatalf("post: %v", err)
		}
		resp.Body.Close()
		if resp.StatusCode != http.StatusBadRequest {
			t.Fatalf("filename %q: expected 400, got %d", filename, resp.StatusCode)
		}
	}
}
