package signal

import (
	"context"
	"encoding/json"
	"testing"

	"github.com/kvey/Huddle/internal/app"
	"github.com/kvey/Huddle/internal/core"
	"github.com/kvey/Huddle/internal/media"
	"github.com/kvey/Huddle/internal/media/mediatest"
)

// The tests drive handleFrame directly: every handler is synchronous, so
// each frame's responses and fanouts are sitting in the send buffers by the
// time the call returns.

func newTestController(t *testing.T) *Controller {
	t.Helper()
	pool, err := media.NewWorkerPool(context.Background(), mediatest.NewEngine(), media.PoolOptions{
		Size:       1,
		RTCMinPort: 40000,
		RTCMaxPort: 40099,
	}, func(string, error) {})
	if err != nil {
		t.Fatalf("worker pool: %v", err)
	}
	t.Cleanup(pool.Close)

	sessions := app.NewSessions()
	rooms := core.NewRegistry(pool, sessions, core.DefaultRoomOptions())
	life := app.NewLifecycle(sessions, rooms, pool, 0)
	return NewController(sessions, rooms, life, 65536)
}

func testConn() *wsConn {
	return &wsConn{send: make(chan core.Frame, sendBufferSize)}
}

func send(ctl *Controller, sid string, c *wsConn, frame string) {
	ctl.handleFrame(core.SessionID(sid), c, []byte(frame))
}

// recv pops the next buffered frame; the buffer must not be empty.
func recv(t *testing.T, c *wsConn) map[string]any {
	t.Helper()
	select {
	case f := <-c.send:
		var m map[string]any
		if err := json.Unmarshal(f, &m); err != nil {
			t.Fatalf("bad frame %s: %v", f, err)
		}
		return m
	default:
		t.Fatal("no frame buffered")
		return nil
	}
}

func drain(c *wsConn) {
	for {
		select {
		case <-c.send:
		default:
			return
		}
	}
}

func joinPeer(t *testing.T, ctl *Controller, sid, room, peer string) *wsConn {
	t.Helper()
	c := testConn()
	send(ctl, sid, c, `{"type":"joinRoom","reqId":1,"roomId":"`+room+`","peerId":"`+peer+`","displayName":"`+peer+`"}`)
	res := recv(t, c)
	if res["type"] != "joinRoomResponse" {
		t.Fatalf("join %s: %+v", peer, res)
	}
	return c
}

func TestInvalidJSON(t *testing.T) {
	ctl := newTestController(t)
	c := testConn()

	send(ctl, "s1", c, `{not json`)
	res := recv(t, c)
	if res["error"] != "Invalid JSON" {
		t.Errorf("response = %+v", res)
	}
	if _, ok := res["reqId"]; ok {
		t.Error("unparseable frame must not echo a reqId")
	}
}

func TestUnknownMessageType(t *testing.T) {
	ctl := newTestController(t)
	c := testConn()

	send(ctl, "s1", c, `{"type":"teleport","reqId":7}`)
	res := recv(t, c)
	if res["reqId"] != float64(7) || res["error"] == nil {
		t.Errorf("response = %+v", res)
	}
}

func TestOperationBeforeJoin(t *testing.T) {
	ctl := newTestController(t)
	c := testConn()

	send(ctl, "s1", c, `{"type":"produce","reqId":1,"kind":"audio","rtpParameters":{}}`)
	if res := recv(t, c); res["error"] != "Peer not found" {
		t.Errorf("response = %+v", res)
	}
}

func TestOperationWhileJoinPending(t *testing.T) {
	ctl := newTestController(t)
	c := testConn()
	if err := ctl.Sessions.SetPending(&app.PendingJoin{SID: "s1", RoomID: "r1", PeerID: "alice"}); err != nil {
		t.Fatalf("SetPending: %v", err)
	}

	send(ctl, "s1", c, `{"type":"chat","reqId":1,"message":"hi"}`)
	if res := recv(t, c); res["error"] != "Still joining room" {
		t.Errorf("response = %+v", res)
	}
}

func TestJoinRoomValidation(t *testing.T) {
	ctl := newTestController(t)

	for name, frame := range map[string]string{
		"missing roomId": `{"type":"joinRoom","reqId":1,"peerId":"alice"}`,
		"missing peerId": `{"type":"joinRoom","reqId":1,"roomId":"r1"}`,
	} {
		c := testConn()
		send(ctl, "s-"+name, c, frame)
		if res := recv(t, c); res["error"] != "roomId and peerId are required" {
			t.Errorf("%s: response = %+v", name, res)
		}
	}

	long := make([]byte, 65)
	for i := range long {
		long[i] = 'a'
	}
	c := testConn()
	send(ctl, "s-long", c, `{"type":"joinRoom","reqId":1,"roomId":"r1","peerId":"`+string(long)+`"}`)
	if res := recv(t, c); res["error"] != "peerId too long" {
		t.Errorf("long peerId: response = %+v", res)
	}
}

func TestJoinRoomFlow(t *testing.T) {
	ctl := newTestController(t)

	connA := testConn()
	send(ctl, "sA", connA, `{"type":"joinRoom","reqId":"j1","roomId":"r1","peerId":"alice"}`)
	resA := recv(t, connA)
	if resA["type"] != "joinRoomResponse" || resA["isCreator"] != true || resA["reqId"] != "j1" {
		t.Fatalf("alice's response = %+v", resA)
	}
	if resA["displayName"] != nil {
		t.Fatalf("unexpected field in response: %+v", resA)
	}

	connB := testConn()
	send(ctl, "sB", connB, `{"type":"joinRoom","reqId":"j2","roomId":"r1","peerId":"bob","displayName":"Bob"}`)
	resB := recv(t, connB)
	if resB["isCreator"] != false {
		t.Fatalf("bob's response = %+v", resB)
	}
	peers := resB["peers"].([]any)
	if len(peers) != 1 || peers[0].(map[string]any)["id"] != "alice" {
		t.Errorf("bob's peer snapshot = %+v", peers)
	}

	joined := recv(t, connA)
	if joined["type"] != "peerJoined" || joined["peerId"] != "bob" || joined["displayName"] != "Bob" {
		t.Errorf("alice's notification = %+v", joined)
	}
}

func TestJoinRoomWhileJoined(t *testing.T) {
	ctl := newTestController(t)
	c := joinPeer(t, ctl, "s1", "r1", "alice")

	send(ctl, "s1", c, `{"type":"joinRoom","reqId":2,"roomId":"r2","peerId":"alice2"}`)
	if res := recv(t, c); res["error"] != "Already joined a room" {
		t.Errorf("response = %+v", res)
	}
}

func TestAnonymousDisplayName(t *testing.T) {
	ctl := newTestController(t)
	connA := joinPeer(t, ctl, "sA", "r1", "alice")

	connB := testConn()
	send(ctl, "sB", connB, `{"type":"joinRoom","reqId":1,"roomId":"r1","peerId":"bob"}`)
	recv(t, connB)

	joined := recv(t, connA)
	if joined["displayName"] != "Anonymous" {
		t.Errorf("omitted display name became %q", joined["displayName"])
	}
}

func TestMediaFlow(t *testing.T) {
	ctl := newTestController(t)
	connA := joinPeer(t, ctl, "sA", "r1", "alice")
	connB := joinPeer(t, ctl, "sB", "r1", "bob")
	drain(connA)

	// Alice sets up her send transport and produces audio.
	send(ctl, "sA", connA, `{"type":"createWebRtcTransport","reqId":1,"direction":"send"}`)
	created := recv(t, connA)
	if created["type"] != "createWebRtcTransportResponse" || created["id"] == "" {
		t.Fatalf("create transport response = %+v", created)
	}
	send(ctl, "sA", connA, `{"type":"connectWebRtcTransport","reqId":2,"direction":"send","dtlsParameters":{"role":"client"}}`)
	if res := recv(t, connA); res["connected"] != true {
		t.Fatalf("connect transport response = %+v", res)
	}
	send(ctl, "sA", connA, `{"type":"produce","reqId":3,"kind":"audio","rtpParameters":{"encodings":[]}}`)
	produced := recv(t, connA)
	if produced["type"] != "produceResponse" {
		t.Fatalf("produce response = %+v", produced)
	}
	producerID := produced["id"].(string)

	// Bob hears about it, with the mic default filled in.
	np := recv(t, connB)
	if np["type"] != "newProducer" || np["id"] != producerID || np["source"] != "mic" {
		t.Fatalf("bob's newProducer = %+v", np)
	}

	// Bob consumes it over his recv transport.
	send(ctl, "sB", connB, `{"type":"createWebRtcTransport","reqId":4,"direction":"recv"}`)
	recv(t, connB)
	send(ctl, "sB", connB, `{"type":"consume","reqId":5,"producerId":"`+producerID+`","rtpCapabilities":{"codecs":[]}}`)
	consumed := recv(t, connB)
	if consumed["type"] != "consumeResponse" || consumed["peerId"] != "alice" || consumed["kind"] != "audio" {
		t.Fatalf("consume response = %+v", consumed)
	}

	// Mute, then close; bob sees both.
	send(ctl, "sA", connA, `{"type":"setProducerMuted","reqId":6,"producerId":"`+producerID+`","muted":true}`)
	if res := recv(t, connA); res["type"] != "setProducerMutedResponse" {
		t.Fatalf("mute response = %+v", res)
	}
	if m := recv(t, connB); m["type"] != "producerMuted" || m["muted"] != true {
		t.Fatalf("bob's producerMuted = %+v", m)
	}

	send(ctl, "sA", connA, `{"type":"closeProducer","reqId":7,"producerId":"`+producerID+`"}`)
	if res := recv(t, connA); res["type"] != "closeProducerResponse" {
		t.Fatalf("close response = %+v", res)
	}
	if m := recv(t, connB); m["type"] != "producerClosed" || m["producerId"] != producerID {
		t.Fatalf("bob's producerClosed = %+v", m)
	}

	// Closing again is an error, not a silent success.
	send(ctl, "sA", connA, `{"type":"closeProducer","reqId":8,"producerId":"`+producerID+`"}`)
	if res := recv(t, connA); res["error"] != "Producer not found" {
		t.Errorf("double close response = %+v", res)
	}
}

func TestChatFanout(t *testing.T) {
	ctl := newTestController(t)
	connA := joinPeer(t, ctl, "sA", "r1", "alice")
	connB := joinPeer(t, ctl, "sB", "r1", "bob")
	drain(connA)

	send(ctl, "sA", connA, `{"type":"chat","reqId":9,"message":"hello"}`)

	// The sender receives the room broadcast and then the ack.
	msg := recv(t, connA)
	if msg["type"] != "chat" || msg["message"] != "hello" || msg["peerId"] != "alice" {
		t.Fatalf("alice's chat frame = %+v", msg)
	}
	ack := recv(t, connA)
	if ack["type"] != "chatResponse" || ack["success"] != true {
		t.Fatalf("alice's ack = %+v", ack)
	}
	if msg := recv(t, connB); msg["type"] != "chat" || msg["message"] != "hello" {
		t.Fatalf("bob's chat frame = %+v", msg)
	}
}

func TestChatValidation(t *testing.T) {
	ctl := newTestController(t)
	c := joinPeer(t, ctl, "s1", "r1", "alice")

	send(ctl, "s1", c, `{"type":"chat","reqId":1,"message":""}`)
	if res := recv(t, c); res["error"] != "message is required" {
		t.Errorf("response = %+v", res)
	}
}

func TestGetRouterRtpCapabilities(t *testing.T) {
	ctl := newTestController(t)
	joinPeer(t, ctl, "s1", "r1", "alice")

	c := testConn()
	send(ctl, "s2", c, `{"type":"getRouterRtpCapabilities","reqId":1,"roomId":"r1"}`)
	res := recv(t, c)
	if res["type"] != "getRouterRtpCapabilitiesResponse" || res["rtpCapabilities"] == nil {
		t.Errorf("response = %+v", res)
	}

	send(ctl, "s2", c, `{"type":"getRouterRtpCapabilities","reqId":2,"roomId":"missing"}`)
	if res := recv(t, c); res["error"] != "Room not found" {
		t.Errorf("response = %+v", res)
	}
}

func TestPing(t *testing.T) {
	ctl := newTestController(t)
	c := testConn()

	send(ctl, "s1", c, `{"type":"ping","reqId":42}`)
	res := recv(t, c)
	if res["type"] != "pong" || res["reqId"] != float64(42) {
		t.Errorf("response = %+v", res)
	}
	if ts, ok := res["timestamp"].(float64); !ok || ts <= 0 {
		t.Errorf("pong timestamp = %v", res["timestamp"])
	}
}

func TestSocketCloseFansOutPeerLeft(t *testing.T) {
	ctl := newTestController(t)
	joinPeer(t, ctl, "sA", "r1", "alice")
	connB := joinPeer(t, ctl, "sB", "r1", "bob")

	ctl.Life.OnSocketClose("sA")
	left := recv(t, connB)
	if left["type"] != "peerLeft" || left["peerId"] != "alice" {
		t.Errorf("bob's peerLeft = %+v", left)
	}

	ctl.Life.OnSocketClose("sB")
	if ctl.Rooms.Count() != 0 {
		t.Errorf("rooms = %d after the last disconnect", ctl.Rooms.Count())
	}
}

func TestProduceValidation(t *testing.T) {
	ctl := newTestController(t)
	c := joinPeer(t, ctl, "s1", "r1", "alice")

	send(ctl, "s1", c, `{"type":"produce","reqId":1,"kind":"smell","rtpParameters":{}}`)
	if res := recv(t, c); res["error"] != "kind must be audio or video" {
		t.Errorf("bad kind response = %+v", res)
	}
	send(ctl, "s1", c, `{"type":"produce","reqId":2,"kind":"audio"}`)
	if res := recv(t, c); res["error"] != "rtpParameters are required" {
		t.Errorf("missing params response = %+v", res)
	}
	send(ctl, "s1", c, `{"type":"produce","reqId":3,"kind":"audio","rtpParameters":{},"source":"hologram"}`)
	if res := recv(t, c); res["error"] != "unknown source: hologram" {
		t.Errorf("bad source response = %+v", res)
	}
}
