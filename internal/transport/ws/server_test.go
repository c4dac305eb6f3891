package ws

import (
	"context"
	"encoding/json"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"herovault.gg/internal/core/game"
	"herovault.gg/internal/core/tuning"
	"herovault.gg/internal/protocol"
)

func dial(t *testing.T) (*websocket.Conn, func()) {
	t.Helper()
	cfg := tuning.Tuning{
		ProtocolVersion: protocol.Version,
		Admin:           "deployer",
		Treasury:        "treasury",
		WindowSeconds:   3600,
		Oracle:          tuning.Oracle{Principal: "oracle"},
	}
	g, err := game.New(cfg, zap.NewNop())
	if err != nil {
		t.Fatalf("new game: %v", err)
	}
	ctx, cancel := context.WithCancel(context.Background())
	go func() { _ = g.Run(ctx) }()

	srv := httptest.NewServer(NewServer(g, zap.NewNop()).Handler())
	url := "ws" + strings.TrimPrefix(srv.URL, "http")
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	if err != nil {
		cancel()
		srv.Close()
		t.Fatalf("dial: %v", err)
	}
	return conn, func() {
		conn.Close()
		srv.Close()
		cancel()
	}
}

func roundTrip(t *testing.T, conn *websocket.Conn, frame string) protocol.ResultMsg {
	t.Helper()
	if err := conn.WriteMessage(websocket.TextMessage, []byte(frame)); err != nil {
		t.Fatalf("write: %v", err)
	}
	_ = conn.SetReadDeadline(time.Now().Add(5 * time.Second))
	_, raw, err := conn.ReadMessage()
	if err != nil {
		t.Fatalf("read: %v", err)
	}
	var res protocol.ResultMsg
	if err := json.Unmarshal(raw, &res); err != nil {
		t.Fatalf("unmarshal %q: %v", raw, err)
	}
	return res
}

func TestOpRoundTrip(t *testing.T) {
	conn, done := dial(t)
	defer done()

	res := roundTrip(t, conn, `{"type":"OP","protocol_version":"1.0","id":"r1","op":"BOX_LEFT_SUPPLY","caller":"addr2","box_id":0}`)
	if !res.OK || res.Ref != "r1" {
		t.Fatalf("result = %+v", res)
	}
	if left, ok := res.Data["left"].(float64); !ok || left != 0 {
		t.Fatalf("left = %v", res.Data["left"])
	}
}

func TestMutatingOpOverWire(t *testing.T) {
	conn, done := dial(t)
	defer done()

	res := roundTrip(t, conn, `{"type":"OP","protocol_version":"1.0","id":"r2","op":"BOX_ADD_MAX_SUPPLY","caller":"deployer","box_id":0,"amount":5}`)
	if !res.OK {
		t.Fatalf("result = %+v", res)
	}
	res = roundTrip(t, conn, `{"type":"OP","protocol_version":"1.0","id":"r3","op":"BOX_LEFT_SUPPLY","caller":"addr2","box_id":0}`)
	if left := res.Data["left"].(float64); left != 5 {
		t.Fatalf("left = %v", left)
	}

	// Denied ops come back as coded errors, not closed connections.
	res = roundTrip(t, conn, `{"type":"OP","protocol_version":"1.0","id":"r4","op":"BOX_ADD_MAX_SUPPLY","caller":"mallory","box_id":0,"amount":5}`)
	if res.OK || res.Code != protocol.ErrAccessDenied {
		t.Fatalf("result = %+v", res)
	}
}

func TestInvalidFramesAreRejectedInline(t *testing.T) {
	conn, done := dial(t)
	defer done()

	for _, frame := range []string{
		`{"type":"OP","protocol_version":"1.0","id":"bad1","op":"BOX_LEFT_SUPPLY"}`, // no caller
		`{"type":"OBS","protocol_version":"1.0","id":"bad2","op":"BOX_LEFT_SUPPLY","caller":"a"}`,
		`not json at all`,
	} {
		res := roundTrip(t, conn, frame)
		if res.OK || res.Code != protocol.ErrProtoBadRequest {
			t.Fatalf("frame %q: result = %+v", frame, res)
		}
	}
	// The connection still works afterwards.
	res := roundTrip(t, conn, `{"type":"OP","protocol_version":"1.0","id":"r5","op":"BOX_LEFT_SUPPLY","caller":"addr2","box_id":0}`)
	if !res.OK {
		t.Fatalf("result = %+v", res)
	}
}
