package main

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"time"

	"FansDFS/sdk/go/fansdfs"
)

func main() {
	mux := http.NewServeMux()
	mux.HandleFunc("/api/v1/turns", func(w http.ResponseWriter, r *http.Request) {
		switch r.Method {
		case http.MethodPost:
			_ = json.NewEncoder(w).Encode(fansdfs.Turn{
				TurnID:   "turn-demo",
				ThreadID: "thread-demo",
				Agent:    "MANAGER",
				Reply:    "Welcome to the 1000fans Theosis platform!",
			})
		case http.MethodGet:
			_ = json.NewEncoder(w).Encode([]fansdfs.TurnRecord{
				{
					ID:        "turn-demo",
					ThreadID:  "thread-demo",
					Utterance: "hello",
					Agent:     "MANAGER",
					Reply:     "Welcome to the 1000fans Theosis platform!",
					CreatedAt: time.Now().Unix(),
				},
			})
		default:
			w.WriteHeader(http.StatusMethodNotAllowed)
		}
	})
	mux.HandleFunc("/healthz", func(w http.ResponseWriter, r *http.Request) {
		_ = json.NewEncoder(w).Encode(map[string]string{"status": "ok"})
	})

	srv := httptest.NewServer(mux)
	defer srv.Close()

	client := fansdfs.NewClient(srv.URL, srv.Client())

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := client.Health(ctx); err != nil {
		panic(err)
	}
	fmt.Println("daemon is healthy")

	turn, err := client.PlayTurn(ctx, fansdfs.TurnSubmission{
		ThreadID:  "thread-demo",
		Utterance: "hello",
	})
	if err != nil {
		panic(err)
	}
	fmt.Printf("agent %s replied: %s\n", turn.Agent, turn.Reply)

	records, err := client.ListTurns(ctx, fansdfs.ListOptions{ThreadID: turn.ThreadID})
	if err != nil {
		panic(err)
	}
	fmt.Printf("thread %s holds %d turn(s)\n", turn.ThreadID, len(records))
}
