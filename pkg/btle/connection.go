package btle

import (
	"github.com/edgelink/core/internal/provider"
	log "github.com/edgelink/core/pkg/minilog"
)

// ConnState is a Connection's lifecycle state.
type ConnState int

const (
	ConnUnused ConnState = iota
	ConnConnecting
	ConnConnectedIdle
	ConnResolveService
	ConnResolveChar
	ConnRead
	ConnWrite
	ConnChangeNotiIndi
	ConnProcedureTimeout
	ConnDisconnecting
)

func (s ConnState) String() string {
	switch s {
	case ConnUnused:
		return "Unused"
	case ConnConnecting:
		return "Connecting"
	case ConnConnectedIdle:
		return "ConnectedIdle"
	case ConnResolveService:
		return "ResolveService"
	case ConnResolveChar:
		return "ResolveChar"
	case ConnRead:
		return "Read"
	case ConnWrite:
		return "Write"
	case ConnChangeNotiIndi:
		return "ChangeNotiIndi"
	case ConnProcedureTimeout:
		return "ProcedureTimeout"
	case ConnDisconnecting:
		return "Disconnecting"
	default:
		return "Unknown"
	}
}

// ProcedureKind identifies which GATT operation is in flight, so a
// procedure timeout and its eventual completion event can be resolved
// against the correct pending request.
type ProcedureKind int

const (
	ProcedureNone ProcedureKind = iota
	ProcedureRead
	ProcedureWrite
	ProcedureChangeNotiIndi
)

// DisconnectReason classifies why a Connection left ConnectedIdle.
type DisconnectReason int

const (
	DisconnectUserRequested DisconnectReason = iota
	DisconnectConnectionTimeout
	DisconnectStack
	DisconnectBadState
)

func (r DisconnectReason) String() string {
	switch r {
	case DisconnectUserRequested:
		return "UserRequested"
	case DisconnectConnectionTimeout:
		return "ConnectionTimeout"
	case DisconnectStack:
		return "Stack"
	case DisconnectBadState:
		return "BadState"
	default:
		return "Unknown"
	}
}

const defaultProcedureTimeoutMs = 5000

// ConnectionListener receives lifecycle events for one Connection.
type ConnectionListener interface {
	OnConnectionOpened()
	OnConnectionOpenFailed()
	OnConnectionClosedExpected()
	OnConnectionClosedUnexpected(reason DisconnectReason)
}

type pendingOp struct {
	kind    ProcedureKind
	service UUID
	char    UUID
	data    []byte // WriteCharacteristic payload
	enable  bool   // ChangeNotifications target state

	onRead func(success bool, data []byte)
	onWrite func(success bool)
	onSub   func(success bool, nowSubscribed bool)
}

// Connection is one BTLE central-role link: connect/disconnect, cached
// service/characteristic discovery, and the three GATT procedures
// (read, write, change-notifications), each routed through discovery
// first if the target handle isn't already cached. Discovery caches
// persist for the connection's lifetime and are cleared on disconnect.
type Connection struct {
	TargetMac      string
	isRandomAddr   bool
	backend        Backend
	clock          provider.MonotonicClock
	procTimeoutMs  uint64

	state ConnState

	cachedServices []UUID
	cachedChars    map[string][]UUID // keyed by service.String()

	pending            *pendingOp
	procedureStartedMs uint64
	disconnectReason   DisconnectReason
	selfInitiated      bool

	listeners []ConnectionListener

	// OnProcedureTimeout, if set, is called whenever Service abandons a
	// procedure after it exceeds procTimeoutMs -- a hook a host process
	// can wire to a metrics counter without this package depending on
	// any particular metrics library.
	OnProcedureTimeout func()
}

func NewConnection(mac string, isRandomAddr bool, backend Backend, clock provider.MonotonicClock) *Connection {
	return &Connection{
		TargetMac:     mac,
		isRandomAddr:  isRandomAddr,
		backend:       backend,
		clock:         clock,
		procTimeoutMs: defaultProcedureTimeoutMs,
		state:         ConnUnused,
		cachedChars:   make(map[string][]UUID),
	}
}

func (c *Connection) AddListener(l ConnectionListener) { c.listeners = append(c.listeners, l) }

func (c *Connection) State() ConnState { return c.state }

// Connect issues the connection request; the eventual outcome arrives
// via onConnectionOpened. State is advanced before the backend call
// returns so a backend that resolves synchronously (as the test fake
// does) still finds the expected prior state.
func (c *Connection) Connect() bool {
	if c.state != ConnUnused {
		return false
	}
	c.state = ConnConnecting
	if !c.backend.StartConnection(c.TargetMac, c.isRandomAddr) {
		c.state = ConnUnused
		return false
	}
	return true
}

// Disconnect tears the link down for a user-requested reason.
func (c *Connection) Disconnect() bool {
	if c.state == ConnUnused || c.state == ConnDisconnecting {
		return false
	}
	c.state = ConnDisconnecting
	c.disconnectReason = DisconnectUserRequested
	c.selfInitiated = true
	c.backend.StopConnection(c.TargetMac)
	return true
}

func (c *Connection) findCachedChar(service, char UUID) bool {
	chars, ok := c.cachedChars[service.String()]
	if !ok {
		return false
	}
	for _, existing := range chars {
		if existing.Equal(char) {
			return true
		}
	}
	return false
}

func (c *Connection) hasCachedService(service UUID) bool {
	for _, s := range c.cachedServices {
		if s.Equal(service) {
			return true
		}
	}
	return false
}

// beginProcedure starts service/characteristic resolution if the
// target handle isn't cached yet, otherwise performs the operation
// directly.
func (c *Connection) beginProcedure(op *pendingOp) bool {
	if c.state != ConnConnectedIdle {
		return false
	}
	c.pending = op
	c.procedureStartedMs = c.clock.NowMs()

	if !c.hasCachedService(op.service) {
		c.state = ConnResolveService
		c.backend.DiscoverServices(c.TargetMac)
		return true
	}
	if !c.findCachedChar(op.service, op.char) {
		c.state = ConnResolveChar
		c.backend.DiscoverCharacteristics(c.TargetMac, op.service)
		return true
	}
	c.performOp()
	return true
}

func (c *Connection) performOp() {
	op := c.pending
	switch op.kind {
	case ProcedureRead:
		c.state = ConnRead
		c.backend.ReadCharacteristic(c.TargetMac, op.service, op.char)
	case ProcedureWrite:
		c.state = ConnWrite
		c.backend.WriteCharacteristic(c.TargetMac, op.service, op.char, op.data)
	case ProcedureChangeNotiIndi:
		c.state = ConnChangeNotiIndi
		c.backend.ChangeNotifications(c.TargetMac, op.service, op.char, op.enable)
	}
}

func (c *Connection) ReadCharacteristic(service, char UUID, cb func(success bool, data []byte)) bool {
	return c.beginProcedure(&pendingOp{kind: ProcedureRead, service: service, char: char, onRead: cb})
}

func (c *Connection) WriteCharacteristic(service, char UUID, data []byte, cb func(success bool)) bool {
	return c.beginProcedure(&pendingOp{kind: ProcedureWrite, service: service, char: char, data: data, onWrite: cb})
}

func (c *Connection) ChangeNotifications(service, char UUID, enable bool, cb func(success bool, nowSubscribed bool)) bool {
	return c.beginProcedure(&pendingOp{kind: ProcedureChangeNotiIndi, service: service, char: char, enable: enable, onSub: cb})
}

// Service advances the per-procedure timeout; call once per run-loop
// iteration with the current monotonic millisecond time.
func (c *Connection) Service(now uint64) {
	switch c.state {
	case ConnResolveService, ConnResolveChar, ConnRead, ConnWrite, ConnChangeNotiIndi:
		if now-c.procedureStartedMs >= c.procTimeoutMs {
			log.WarnNamed("btle", "[%s] procedure timeout in state %s", c.TargetMac, c.state)
			c.state = ConnDisconnecting
			c.disconnectReason = DisconnectStack
			c.selfInitiated = true
			if c.OnProcedureTimeout != nil {
				c.OnProcedureTimeout()
			}
			c.backend.StopConnection(c.TargetMac)
		}
	}
}

// ---- backend event handlers, dispatched to this Connection by its owning Central ----

func (c *Connection) onConnectionOpened(success bool) {
	if c.state != ConnConnecting {
		return
	}
	if !success {
		c.state = ConnUnused
		for _, l := range c.listeners {
			l.OnConnectionOpenFailed()
		}
		return
	}
	c.state = ConnConnectedIdle
	for _, l := range c.listeners {
		l.OnConnectionOpened()
	}
}

func (c *Connection) onConnectionClosed(reason DisconnectReason) {
	// A close we asked for ourselves (user Disconnect or a procedure
	// timeout) reports the reason we recorded when we asked, not
	// whatever the backend's own event parameter says -- the backend
	// has no notion of "procedure timeout", only "link closed".
	selfInitiated := c.selfInitiated
	ownReason := c.disconnectReason
	c.selfInitiated = false

	c.state = ConnUnused
	c.cachedServices = nil
	c.cachedChars = make(map[string][]UUID)
	c.pending = nil

	if selfInitiated && ownReason == DisconnectUserRequested {
		for _, l := range c.listeners {
			l.OnConnectionClosedExpected()
		}
		return
	}
	reportedReason := reason
	if selfInitiated {
		reportedReason = ownReason
	}
	for _, l := range c.listeners {
		l.OnConnectionClosedUnexpected(reportedReason)
	}
}

func (c *Connection) onServicesDiscovered(success bool, services []UUID) {
	if c.state != ConnResolveService {
		return
	}
	if !success {
		c.failPending()
		return
	}
	c.cachedServices = services
	if !c.findCachedChar(c.pending.service, c.pending.char) {
		c.state = ConnResolveChar
		c.backend.DiscoverCharacteristics(c.TargetMac, c.pending.service)
		return
	}
	c.state = ConnConnectedIdle
	c.performOp()
}

func (c *Connection) onCharacteristicsDiscovered(service UUID, success bool, chars []UUID) {
	if c.state != ConnResolveChar {
		return
	}
	if !success {
		c.failPending()
		return
	}
	c.cachedChars[service.String()] = chars
	c.state = ConnConnectedIdle
	c.performOp()
}

func (c *Connection) failPending() {
	op := c.pending
	c.pending = nil
	c.state = ConnConnectedIdle
	if op == nil {
		return
	}
	switch op.kind {
	case ProcedureRead:
		op.onRead(false, nil)
	case ProcedureWrite:
		op.onWrite(false)
	case ProcedureChangeNotiIndi:
		op.onSub(false, false)
	}
}

func (c *Connection) onReadComplete(success bool, data []byte) {
	if c.state != ConnRead {
		return
	}
	op := c.pending
	c.pending = nil
	c.state = ConnConnectedIdle
	op.onRead(success, data)
}

func (c *Connection) onWriteComplete(success bool) {
	if c.state != ConnWrite {
		return
	}
	op := c.pending
	c.pending = nil
	c.state = ConnConnectedIdle
	op.onWrite(success)
}

func (c *Connection) onSubscriptionChanged(success bool, nowSubscribed bool) {
	if c.state != ConnChangeNotiIndi {
		return
	}
	op := c.pending
	c.pending = nil
	c.state = ConnConnectedIdle
	op.onSub(success, nowSubscribed)
}
