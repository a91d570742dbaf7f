package btle

import (
	"github.com/edgelink/core/internal/provider"
	log "github.com/edgelink/core/pkg/minilog"
)

// ManagerState is a ConnectionManager's lifecycle state.
type ManagerState int

const (
	MgrStopped ManagerState = iota
	MgrWaitForBtlecReady
	MgrConnecting
	MgrConnected
	MgrDisconnecting
	MgrConnectStandoff
)

func (s ManagerState) String() string {
	switch s {
	case MgrStopped:
		return "Stopped"
	case MgrWaitForBtlecReady:
		return "WaitForBtlecReady"
	case MgrConnecting:
		return "Connecting"
	case MgrConnected:
		return "Connected"
	case MgrDisconnecting:
		return "Disconnecting"
	case MgrConnectStandoff:
		return "ConnectStandoff"
	default:
		return "Unknown"
	}
}

// latchedCommand is the manager's one piece of deferred intent: rather
// than acting on stop()/start() immediately from any state, the request
// is latched here and honored at the next point the current operation
// can safely yield.
type latchedCommand int

const (
	cmdRun latchedCommand = iota
	cmdStop
	cmdRestart
)

const connectStandoffMs = 5000

// SubscriptionEntry is one step of a target subscription state: the
// manager drives the bound Connection's ChangeNotifications procedure
// for (ServiceUUID, CharUUID) to IsSubscribed, one entry at a time.
type SubscriptionEntry struct {
	ServiceUUID  UUID
	CharUUID     UUID
	IsSubscribed bool
	OnRx         func(userVar any, data []byte)
	UserVar      any
}

// ManagerListener receives ConnectionManager lifecycle events.
type ManagerListener interface {
	OnManagerConnected()
	OnManagerDisconnected()
	OnSubStateTransitionComplete(success bool)
}

// ConnectionManager drives a single persistent connection to a target
// mac through reconnects, maintaining a target subscription state that
// is re-established, entry by entry, on every fresh entry to Connected.
type ConnectionManager struct {
	central *Central
	clock   provider.MonotonicClock

	state ManagerState
	cmd   latchedCommand

	targetMac string
	nextMac   string
	ready     bool

	conn *Connection

	targetSubscriptionState []SubscriptionEntry
	currentEntryIndex       int

	standoffStartedMs uint64

	listeners []ManagerListener
}

func NewConnectionManager(central *Central, clock provider.MonotonicClock) *ConnectionManager {
	return &ConnectionManager{central: central, clock: clock, state: MgrStopped}
}

func (m *ConnectionManager) AddListener(l ManagerListener) { m.listeners = append(m.listeners, l) }

func (m *ConnectionManager) State() ManagerState { return m.state }

func (m *ConnectionManager) IsRunning() bool { return m.state != MgrStopped }

// NotifyBtlecReady tells the manager the underlying radio stack has
// become ready; a Start() issued while the stack wasn't ready resumes
// from here.
func (m *ConnectionManager) NotifyBtlecReady(ready bool) {
	m.ready = ready
	if ready && m.state == MgrWaitForBtlecReady && m.cmd == cmdRun {
		m.beginConnecting()
	}
}

// Start latches a run command for targetMac. If the manager is
// Stopped, it moves to WaitForBtlecReady (or straight to Connecting if
// the stack already reported ready). A Start naming a new mac while an
// attempt to a previous mac is already Connecting cannot retarget that
// in-flight attempt, so it is latched the same way Restart latches a
// new mac from Connected: once the stale attempt resolves, onClosed()
// (after it opened and was closed again) or OnConnectionOpenFailed (if
// it never opened) picks nextMac up.
func (m *ConnectionManager) Start(targetMac string) {
	if m.state == MgrConnecting && targetMac != m.targetMac {
		m.nextMac = targetMac
		m.cmd = cmdRestart
		return
	}
	m.targetMac = targetMac
	m.cmd = cmdRun
	if m.state != MgrStopped {
		return
	}
	if m.ready {
		m.beginConnecting()
		return
	}
	m.state = MgrWaitForBtlecReady
}

// Stop latches a stop command. During Connecting it is honored once the
// attempt completes; otherwise the manager tears its connection down
// immediately.
func (m *ConnectionManager) Stop() {
	m.cmd = cmdStop
	switch m.state {
	case MgrStopped:
		return
	case MgrConnecting:
		return
	case MgrWaitForBtlecReady:
		m.state = MgrStopped
		m.fireDisconnected()
	case MgrConnectStandoff:
		m.state = MgrStopped
		m.fireDisconnected()
	case MgrConnected, MgrDisconnecting:
		m.beginDisconnecting()
	}
}

// Restart schedules a reconnect to newMac once the current connection
// (if any) closes; only meaningful while Connected.
func (m *ConnectionManager) Restart(newMac string) {
	if m.state != MgrConnected {
		m.Start(newMac)
		return
	}
	m.nextMac = newMac
	m.cmd = cmdRestart
	m.beginDisconnecting()
}

// SetTargetSubscriptionState installs the subscription state to
// maintain; if already Connected, the walk begins immediately.
func (m *ConnectionManager) SetTargetSubscriptionState(entries []SubscriptionEntry) {
	m.targetSubscriptionState = entries
	if m.state == MgrConnected {
		m.currentEntryIndex = 0
		m.walkNext()
	}
}

func (m *ConnectionManager) beginConnecting() {
	m.state = MgrConnecting
	conn := m.central.Connection(m.targetMac, false)
	if conn != m.conn {
		conn.AddListener(m)
		m.conn = conn
	}
	if !m.conn.Connect() {
		log.WarnNamed("btle", "connection manager: connect rejected for %s", m.targetMac)
		m.state = MgrConnectStandoff
		m.standoffStartedMs = m.clock.NowMs()
	}
}

func (m *ConnectionManager) beginDisconnecting() {
	m.state = MgrDisconnecting
	if m.conn != nil {
		m.conn.Disconnect()
	}
}

func (m *ConnectionManager) fireDisconnected() {
	for _, l := range m.listeners {
		l.OnManagerDisconnected()
	}
}

// Service advances the standoff timer between reconnect attempts. The
// bound Connection's procedure timer is advanced by Central.Service.
func (m *ConnectionManager) Service(now uint64) {
	if m.state == MgrConnectStandoff && now-m.standoffStartedMs >= connectStandoffMs {
		m.beginConnecting()
	}
}

// ---- ConnectionListener ----

func (m *ConnectionManager) OnConnectionOpened() {
	if m.cmd == cmdStop {
		m.beginDisconnecting()
		return
	}
	if m.cmd == cmdRestart {
		// This connect was already in flight to the old targetMac when a
		// new mac was latched; it opened before it could be retargeted,
		// so close it and let onClosed() carry nextMac forward.
		m.beginDisconnecting()
		return
	}
	m.state = MgrConnected
	for _, l := range m.listeners {
		l.OnManagerConnected()
	}
	if m.targetSubscriptionState != nil {
		m.currentEntryIndex = 0
		m.walkNext()
	}
}

func (m *ConnectionManager) OnConnectionOpenFailed() {
	switch m.cmd {
	case cmdStop:
		m.state = MgrStopped
		m.fireDisconnected()
	case cmdRestart:
		// Nothing to tear down; the stale attempt never opened, so
		// retarget straight to the latched mac.
		m.targetMac = m.nextMac
		m.cmd = cmdRun
		m.beginConnecting()
	default:
		m.state = MgrConnectStandoff
		m.standoffStartedMs = m.clock.NowMs()
	}
}

func (m *ConnectionManager) OnConnectionClosedExpected() {
	m.onClosed()
}

func (m *ConnectionManager) OnConnectionClosedUnexpected(reason DisconnectReason) {
	log.InfoNamed("btle", "connection manager: unexpected close of %s: %s", m.targetMac, reason)
	m.onClosed()
}

func (m *ConnectionManager) onClosed() {
	switch m.cmd {
	case cmdStop:
		m.state = MgrStopped
		m.fireDisconnected()
	case cmdRestart:
		m.targetMac = m.nextMac
		m.cmd = cmdRun
		m.beginConnecting()
	default:
		m.state = MgrConnectStandoff
		m.standoffStartedMs = m.clock.NowMs()
		m.fireDisconnected()
	}
}

// ---- subscription-state walk ----

func (m *ConnectionManager) walkNext() {
	if m.currentEntryIndex >= len(m.targetSubscriptionState) {
		for _, l := range m.listeners {
			l.OnSubStateTransitionComplete(true)
		}
		return
	}
	entry := m.targetSubscriptionState[m.currentEntryIndex]
	m.conn.ChangeNotifications(entry.ServiceUUID, entry.CharUUID, entry.IsSubscribed, func(success bool, nowSubscribed bool) {
		m.onWalkStepComplete(entry, success, nowSubscribed)
	})
}

func (m *ConnectionManager) onWalkStepComplete(entry SubscriptionEntry, success bool, nowSubscribed bool) {
	if !success {
		for _, l := range m.listeners {
			l.OnSubStateTransitionComplete(false)
		}
		return
	}
	if nowSubscribed {
		m.central.Subscribe(m.targetMac, entry.ServiceUUID, entry.CharUUID, entry.OnRx, func(any, bool) {}, entry.UserVar)
	} else {
		m.central.Unsubscribe(m.targetMac, entry.ServiceUUID, entry.CharUUID)
	}
	m.currentEntryIndex++
	m.walkNext()
}
