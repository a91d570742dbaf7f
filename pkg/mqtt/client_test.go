package mqtt

import (
	"testing"

	"github.com/edgelink/core/internal/providertest"
	"github.com/edgelink/core/pkg/errs"
)

type recordingListener struct {
	connected       []bool
	connectFailed   []ConnectFailReason
	disconnected    int
	keepaliveWarns  int
}

func (r *recordingListener) OnConnected(sessionPresent bool) {
	r.connected = append(r.connected, sessionPresent)
}
func (r *recordingListener) OnConnectFailed(kind errs.Kind, reason ConnectFailReason) {
	r.connectFailed = append(r.connectFailed, reason)
}
func (r *recordingListener) OnDisconnected()    { r.disconnected++ }
func (r *recordingListener) OnKeepaliveWarning() { r.keepaliveWarns++ }

func newTestClient() (*Client, *providertest.ByteStream, *providertest.Clock, *recordingListener) {
	stream := providertest.NewByteStream()
	clock := providertest.NewClock()
	opts := ClientOptions{ClientID: "dev1", KeepaliveSec: 10, CleanSession: true}
	c := NewClient(stream, clock, opts)
	lst := &recordingListener{}
	c.AddListener(lst)
	return c, stream, clock, lst
}

func TestConnectSendsConnectPacket(t *testing.T) {
	c, stream, _, _ := newTestClient()
	c.Connect("", nil)

	if c.State() != Connecting {
		t.Fatalf("state = %v, want Connecting", c.State())
	}
	if len(stream.Written) == 0 || stream.Written[0] != packetTypeConnect<<4 {
		t.Fatalf("CONNECT not written: %v", stream.Written)
	}
}

func TestConnAckTransitionsToConnectedAndFlushesSubscriptions(t *testing.T) {
	c, stream, clock, lst := newTestClient()
	c.Connect("", nil)
	stream.Written = nil

	var gotTopic, gotPayload string
	c.Subscribe("a/b", 0, func(topic string, payload []byte) {
		gotTopic, gotPayload = topic, string(payload)
	})

	// feed CONNACK(session_present=false, rc=0)
	stream.Feed([]byte{packetTypeConnAckForTest(), 2, 0, 0})
	c.Service(clock.NowMs())

	if c.State() != Connected {
		t.Fatalf("state = %v, want Connected", c.State())
	}
	if len(lst.connected) != 1 {
		t.Fatalf("OnConnected fired %d times, want 1", len(lst.connected))
	}
	if len(stream.Written) == 0 {
		t.Fatalf("expected SUBSCRIBE to be flushed on entering Connected")
	}

	// now simulate a PUBLISH for the subscribed topic.
	pub := encodePublishForTest("a/b", "hi")
	stream.Feed(pub)
	c.Service(clock.NowMs())

	if gotTopic != "a/b" || gotPayload != "hi" {
		t.Fatalf("subscription callback got (%q, %q)", gotTopic, gotPayload)
	}
}

func TestConnAckRefusalFailsConnect(t *testing.T) {
	c, stream, clock, lst := newTestClient()
	c.Connect("", nil)

	stream.Feed([]byte{packetTypeConnAckForTest(), 2, 0, 5}) // not authorized
	c.Service(clock.NowMs())

	if c.State() != Idle {
		t.Fatalf("state = %v, want Idle after refusal", c.State())
	}
	if len(lst.connectFailed) != 1 {
		t.Fatalf("OnConnectFailed fired %d times, want 1", len(lst.connectFailed))
	}
}

func TestConnAckTimeoutFailsConnect(t *testing.T) {
	c, _, clock, lst := newTestClient()
	c.Connect("", nil)

	clock.Advance(c.opts.ConnAckTimeoutMs + 1)
	c.Service(clock.NowMs())

	if c.State() != Idle {
		t.Fatalf("state = %v, want Idle after CONNACK timeout", c.State())
	}
	if len(lst.connectFailed) != 1 {
		t.Fatalf("OnConnectFailed fired %d times, want 1", len(lst.connectFailed))
	}
}

func TestKeepaliveSendsPingAndWarnsOnMissedPong(t *testing.T) {
	c, stream, clock, lst := newTestClient()
	c.Connect("", nil)
	stream.Feed([]byte{packetTypeConnAckForTest(), 2, 0, 0})
	c.Service(clock.NowMs())
	stream.Written = nil

	clock.Advance(10_000) // keepalive_s == 10
	c.Service(clock.NowMs())
	if len(stream.Written) == 0 || stream.Written[0] != packetTypePingReq<<4 {
		t.Fatalf("expected PINGREQ, got %v", stream.Written)
	}

	clock.Advance(20_001) // > 2*keepalive since CONNACK, no PINGRESP fed
	c.Service(clock.NowMs())
	if lst.keepaliveWarns == 0 {
		t.Fatalf("expected keepalive warning on missed PINGRESP")
	}
	if c.State() != Connected {
		t.Fatalf("missed ping must not disconnect; state = %v", c.State())
	}
}

func TestTopicMatchScenarios(t *testing.T) {
	cases := []struct {
		filter, topic string
		want          bool
	}{
		{"sport/+/score", "sport/tennis/score", true},
		{"sport/+/score", "sport/tennis/player1/score", false},
		{"sport/#", "sport/tennis", true},
		{"sport/#", "sport", true},
		{"sport/tennis/#", "sport/tennis", true},
	}
	for _, tc := range cases {
		if got := TopicMatches(tc.filter, tc.topic); got != tc.want {
			t.Errorf("TopicMatches(%q, %q) = %v, want %v", tc.filter, tc.topic, got, tc.want)
		}
	}
}

// packetTypeConnAckForTest/encodePublishForTest spell out the inbound
// wire bytes by hand instead of using the framer package's constants,
// while staying byte-compatible with its wire format.
func packetTypeConnAckForTest() byte { return 2 << 4 }

func encodePublishForTest(topic, payload string) []byte {
	var body []byte
	body = append(body, byte(len(topic)>>8), byte(len(topic)))
	body = append(body, topic...)
	body = append(body, payload...)
	out := []byte{3 << 4} // PUBLISH, qos0, no dup/retain
	rl := len(body)
	// single-byte remaining length is enough for these short test payloads.
	out = append(out, byte(rl))
	out = append(out, body...)
	return out
}
