// Package mqtt implements an MQTT 3.1.1 client: CONNECT/CONNACK
// handshake, SUBSCRIBE with subscription persistence across reconnect,
// PINGREQ/PINGRESP keepalive, and QoS-0 PUBLISH dispatch via
// wildcard topic-filter matching. QoS 1 and 2 are an explicit
// non-goal, matching the subscription entries this client models.
package mqtt

import (
	"github.com/rs/xid"

	"github.com/edgelink/core/internal/framer"
	"github.com/edgelink/core/internal/provider"
	"github.com/edgelink/core/pkg/errs"
	log "github.com/edgelink/core/pkg/minilog"
)

type State int

const (
	Idle State = iota
	Connecting
	Connected
)

func (s State) String() string {
	switch s {
	case Idle:
		return "Idle"
	case Connecting:
		return "Connecting"
	case Connected:
		return "Connected"
	default:
		return "Unknown"
	}
}

// ConnectFailReason supplements errs.Timeout/errs.PeerRefused/
// errs.TransportIo with the original implementation's more specific
// taxonomy for why a CONNECT attempt didn't reach CONNECTED.
type ConnectFailReason int

const (
	ReasonNetwork ConnectFailReason = iota
	ReasonAuth
	ReasonTimeout
)

func (r ConnectFailReason) String() string {
	switch r {
	case ReasonNetwork:
		return "Network"
	case ReasonAuth:
		return "Auth"
	case ReasonTimeout:
		return "Timeout"
	default:
		return "Unknown"
	}
}

type SubState int

const (
	Unacknowledged SubState = iota
	Acknowledged
	Refused
)

// Will describes a CONNECT packet's last-will-and-testament fields.
type Will struct {
	Qos     uint8
	Retain  bool
	Topic   string
	Payload []byte
}

// ClientOptions configures a Client at construction, replacing the
// original implementation's compile-time `#define`s with struct fields.
type ClientOptions struct {
	ClientID         string
	KeepaliveSec     uint16
	CleanSession     bool
	Username         string
	Password         []byte // nil means "no password field"
	Will             *Will
	ConnAckTimeoutMs uint64 // default 5000
	PoolSlots        int    // default 4
	PoolSlotCapacity int    // default 512
}

func (o *ClientOptions) applyDefaults() {
	if o.ConnAckTimeoutMs == 0 {
		o.ConnAckTimeoutMs = 5000
	}
	if o.PoolSlots == 0 {
		o.PoolSlots = 4
	}
	if o.PoolSlotCapacity == 0 {
		o.PoolSlotCapacity = 512
	}
}

type subscription struct {
	packetID uint16
	state    SubState
	filter   string
	qos      uint8
	callback func(topic string, payload []byte)
}

// Listener receives Client lifecycle and publish events.
type Listener interface {
	OnConnected(sessionPresent bool)
	OnConnectFailed(kind errs.Kind, reason ConnectFailReason)
	OnDisconnected()
	OnKeepaliveWarning()
}

// Client is an MQTT 3.1.1 client bound to a single ByteStream and
// monotonic clock, driven by its owner calling Service; it has no
// internal locking.
type Client struct {
	stream provider.ByteStream
	clock  provider.MonotonicClock
	opts   ClientOptions

	framer *framer.MQTTFramer
	state  State

	subscriptions   []*subscription
	currentPacketID uint16

	connectStartedMs uint64
	lastPingSentMs   uint64
	lastPingAckMs    uint64

	listeners []Listener

	traceID string
}

func NewClient(stream provider.ByteStream, clock provider.MonotonicClock, opts ClientOptions) *Client {
	opts.applyDefaults()
	c := &Client{
		stream: stream,
		clock:  clock,
		opts:   opts,
		state:  Idle,
	}
	c.framer = framer.NewMQTTFramer(stream, opts.PoolSlots, opts.PoolSlotCapacity)
	c.framer.AddListener(c)
	return c
}

func (c *Client) AddListener(l Listener) { c.listeners = append(c.listeners, l) }

func (c *Client) State() State { return c.state }

// FramesParsed is the running count of complete control packets this
// client's framer has dispatched.
func (c *Client) FramesParsed() int { return c.framer.FramesParsed() }

// MalformedPackets is the running count of frames this client's framer
// rejected and resynchronized from.
func (c *Client) MalformedPackets() int { return c.framer.MalformedFrames() }

// Connect begins the CONNECTING sequence, writing a CONNECT packet with
// the given username/password (password may be nil to omit the field).
func (c *Client) Connect(username string, password []byte) {
	c.traceID = xid.New().String()
	c.opts.Username = username
	c.opts.Password = password

	log.InfoNamed("mqtt", "[%s] connecting client_id=%q", c.traceID, c.opts.ClientID)

	c.state = Connecting
	now := c.clock.NowMs()
	c.connectStartedMs = now

	if !c.stream.WriteBytes(buildConnect(c.opts)) {
		log.ErrorNamed("mqtt", "[%s] write failed sending CONNECT", c.traceID)
		c.failConnect(errs.TransportIo, ReasonNetwork)
	}
}

func (c *Client) Disconnect() {
	if c.state == Idle {
		return
	}
	c.stream.WriteBytes(buildDisconnect())
	c.state = Idle
	for _, l := range c.listeners {
		l.OnDisconnected()
	}
}

// Subscribe registers a persistent subscription. If already Connected,
// a SUBSCRIBE is sent immediately; otherwise it is flushed on the next
// transition into Connected, matching every prior subscription's
// survival across reconnect.
func (c *Client) Subscribe(filter string, qos uint8, cb func(topic string, payload []byte)) {
	sub := &subscription{filter: filter, qos: qos, callback: cb, state: Unacknowledged}
	c.subscriptions = append(c.subscriptions, sub)
	if c.state == Connected {
		c.sendSubscribe(sub)
	}
}

func (c *Client) sendSubscribe(sub *subscription) {
	c.currentPacketID++
	if c.currentPacketID == 0 {
		c.currentPacketID = 1
	}
	sub.packetID = c.currentPacketID
	sub.state = Unacknowledged
	c.stream.WriteBytes(buildSubscribe(sub.packetID, sub.filter, sub.qos))
}

// Service drains available framer bytes and advances keepalive/CONNACK
// timeout timers against now (milliseconds, from the bound clock).
func (c *Client) Service(now uint64) {
	c.framer.Service()

	switch c.state {
	case Connecting:
		if now-c.connectStartedMs >= c.opts.ConnAckTimeoutMs {
			log.WarnNamed("mqtt", "[%s] CONNACK timeout", c.traceID)
			c.failConnect(errs.Timeout, ReasonTimeout)
		}
	case Connected:
		keepaliveMs := uint64(c.opts.KeepaliveSec) * 1000
		if keepaliveMs == 0 {
			return
		}
		if now-c.lastPingSentMs >= keepaliveMs {
			c.stream.WriteBytes(buildPingReq())
			c.lastPingSentMs = now
		}
		// Tolerate a slow peer: a missed ping warns but never
		// disconnects, per the explicit design decision this client
		// preserves. Staleness is measured from the last acknowledged
		// PINGRESP rather than the last PINGREQ sent, since this client
		// keeps retrying PINGREQ every keepalive interval regardless of
		// whether the previous one was answered.
		if now-c.lastPingAckMs >= 2*keepaliveMs {
			log.WarnNamed("mqtt", "[%s] missed PINGRESP", c.traceID)
			for _, l := range c.listeners {
				l.OnKeepaliveWarning()
			}
		}
	}
}

func (c *Client) failConnect(kind errs.Kind, reason ConnectFailReason) {
	c.state = Idle
	for _, l := range c.listeners {
		l.OnConnectFailed(kind, reason)
	}
}

// ---- framer.MQTTListener ----

func (c *Client) OnConnAck(sessionPresent bool, returnCode uint8) {
	if returnCode != 0 {
		log.WarnNamed("mqtt", "[%s] CONNACK refused code=%d", c.traceID, returnCode)
		c.failConnect(errs.PeerRefused, ReasonAuth)
		return
	}

	c.state = Connected
	now := c.clock.NowMs()
	c.lastPingSentMs = now
	c.lastPingAckMs = now

	for _, sub := range c.subscriptions {
		c.sendSubscribe(sub)
	}

	for _, l := range c.listeners {
		l.OnConnected(sessionPresent)
	}
}

func (c *Client) OnSubAck(packetID uint16, returnCodes []byte) {
	for _, sub := range c.subscriptions {
		if sub.packetID != packetID {
			continue
		}
		if len(returnCodes) > 0 && returnCodes[0] == 0x80 {
			sub.state = Refused
		} else {
			sub.state = Acknowledged
		}
		return
	}
}

func (c *Client) OnPingResp() {
	c.lastPingAckMs = c.clock.NowMs()
}

func (c *Client) OnPublish(dup bool, qos uint8, retain bool, topic, payload []byte) {
	topicStr := string(topic)
	for _, sub := range c.subscriptions {
		if TopicMatches(sub.filter, topicStr) {
			sub.callback(topicStr, payload)
		}
	}
}
