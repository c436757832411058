package http

import (
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gorilla/websocket"
)

func TestWebSocketSubmitFlow(t *testing.T) {
	mux, _ := newTestMux(t)
	p := identifyVia(t, mux, "Alice", "dev-a")
	q := createQuestionVia(t, mux, "")

	server := httptest.NewServer(mux)
	defer server.Close()

	u := "ws" + server.URL[len("http"):] + "/ws?participantId=" + p.ID
	conn, _, err := websocket.DefaultDialer.Dial(u, nil)
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	defer conn.Close()

	// Initial board snapshot arrives first.
	msgType, _ := readNext(conn, t, "board")
	if msgType != "board" {
		t.Fatalf("expected board, got %s", msgType)
	}

	// Ask for the visible question.
	if err := conn.WriteJSON(map[string]any{"type": "question"}); err != nil {
		t.Fatalf("write question request: %v", err)
	}
	_, payload := readNext(conn, t, "question")
	if payload == nil || payload["id"] != q.ID {
		t.Fatalf("expected question %s, got %v", q.ID, payload)
	}
	if _, leaked := payload["correctIndex"]; leaked {
		t.Fatalf("answer key leaked over the websocket")
	}

	// Submit the correct answer.
	submit := map[string]any{
		"type": "submit",
		"payload": map[string]any{
			"questionId":  q.ID,
			"answerIndex": 1,
			"deviceId":    "dev-a",
		},
	}
	if err := conn.WriteJSON(submit); err != nil {
		t.Fatalf("write submit: %v", err)
	}

	resultSeen := false
	boardSeen := false
	for i := 0; i < 3; i++ {
		typ, _ := readNext(conn, t, "")
		switch typ {
		case "submitResult":
			resultSeen = true
		case "board":
			boardSeen = true
		}
		if resultSeen && boardSeen {
			break
		}
	}
	if !resultSeen || !boardSeen {
		t.Fatalf("expected submitResult and board updates, got submitResult=%v board=%v", resultSeen, boardSeen)
	}
}

func TestWebSocketRejectsDuplicateSubmit(t *testing.T) {
	mux, _ := newTestMux(t)
	p := identifyVia(t, mux, "Alice", "dev-a")
	q := createQuestionVia(t, mux, "")

	server := httptest.NewServer(mux)
	defer server.Close()

	u := "ws" + server.URL[len("http"):] + "/ws?participantId=" + p.ID
	conn, _, err := websocket.DefaultDialer.Dial(u, nil)
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	defer conn.Close()

	readNext(conn, t, "board")

	submit := map[string]any{
		"type": "submit",
		"payload": map[string]any{
			"questionId":  q.ID,
			"answerIndex": 1,
			"deviceId":    "dev-a",
		},
	}
	if err := conn.WriteJSON(submit); err != nil {
		t.Fatalf("write submit: %v", err)
	}
	// Drain submitResult and the board push.
	for i := 0; i < 2; i++ {
		readNext(conn, t, "")
	}

	if err := conn.WriteJSON(submit); err != nil {
		t.Fatalf("write duplicate submit: %v", err)
	}
	typ, payload := readNext(conn, t, "error")
	if typ != "error" || payload["message"] == "" {
		t.Fatalf("expected error on duplicate submit, got %s %v", typ, payload)
	}
}

func readNext(conn *websocket.Conn, t *testing.T, expect string) (string, map[string]any) {
	t.Helper()
	var msg struct {
		Type    string         `json:"type"`
		Payload map[string]any `json:"payload"`
	}
	_ = conn.SetReadDeadline(time.Now().Add(5 * time.Second))
	if err := conn.ReadJSON(&msg); err != nil {
		t.Fatalf("read json: %v", err)
	}
	if expect != "" && msg.Type != expect {
		t.Fatalf("expected type %s, got %s", expect, msg.Type)
	}
	return msg.Type, msg.Payload
}
