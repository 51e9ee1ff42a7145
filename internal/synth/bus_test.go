package synth

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"github.com/nats-io/nats-server/v2/server"
	"github.com/nats-io/nats.go"
)

func startTestServer(t *testing.T) *nats.Conn {
	t.Helper()
	ns, err := server.NewServer(&server.Options{Host: "127.0.0.1", Port: -1, NoLog: true, NoSigs: true})
	if err != nil {
		t.Fatalf("nats server: %v", err)
	}
	go ns.Start()
	if !ns.ReadyForConnections(5 * time.Second) {
		t.Fatal("nats server not ready")
	}
	t.Cleanup(ns.Shutdown)

	conn, err := nats.Connect(ns.ClientURL())
	if err != nil {
		t.Fatalf("connect: %v", err)
	}
	t.Cleanup(conn.Close)
	return conn
}

func TestBusSynth(t *testing.T) {
	conn := startTestServer(t)
	sub, err := conn.Subscribe("synthesis.chapter.request", func(msg *nats.Msg) {
		var req Request
		if err := json.Unmarshal(msg.Data, &req); err != nil {
			_ = msg.Respond([]byte(`{"error":"bad request"}`))
			return
		}
		reply, _ := json.Marshal(Response{Pages: []PageAudio{
			{AudioContent: "AAAA", Format: "audio/mpeg", Timestamps: []Mark{{Name: req.ChapterID, TimeMS: 10}}},
		}})
		_ = msg.Respond(reply)
	})
	if err != nil {
		t.Fatal(err)
	}
	defer sub.Unsubscribe()

	resp, err := NewBusSynth(conn, "synthesis.chapter.request", time.Second).Synthesize(context.Background(), sampleRequest())
	if err != nil {
		t.Fatalf("synthesize: %v", err)
	}
	if len(resp.Pages) != 1 || resp.Pages[0].Timestamps[0].Name != "chapter-1" {
		t.Fatalf("unexpected response %+v", resp)
	}
}

func TestBusSynthResponderError(t *testing.T) {
	conn := startTestServer(t)
	sub, err := conn.Subscribe("synth.fail", func(msg *nats.Msg) {
		_ = msg.Respond([]byte(`{"error":"voice not available"}`))
	})
	if err != nil {
		t.Fatal(err)
	}
	defer sub.Unsubscribe()

	if _, err := NewBusSynth(conn, "synth.fail", time.Second).Synthesize(context.Background(), sampleRequest()); err == nil {
		t.Fatal("expected responder error")
	}
}
