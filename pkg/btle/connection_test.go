package btle

import (
	"testing"

	"github.com/edgelink/core/internal/providertest"
)

var (
	svcUUID  = MustParseUUID("0x180D")
	charUUID = MustParseUUID("0x2A37")
)

func newTestCentral(backend *fakeBackend) (*Central, *providertest.Clock) {
	clock := providertest.NewClock()
	central := NewCentral(backend, clock)
	backend.events = central
	return central, clock
}

func TestConnectionOpenAndClose(t *testing.T) {
	backend := newFakeBackend()
	central, _ := newTestCentral(backend)

	var opened, closedExpected bool
	conn := central.Connection("AA:BB:CC:DD:EE:01", false)
	conn.AddListener(recordingConnListener{
		opened: func() { opened = true },
		closedExpected: func() { closedExpected = true },
	})

	if !conn.Connect() {
		t.Fatalf("Connect rejected")
	}
	if !opened || conn.State() != ConnConnectedIdle {
		t.Fatalf("expected connected idle, got state=%s opened=%v", conn.State(), opened)
	}

	conn.Disconnect()
	if !closedExpected {
		t.Fatalf("expected closed-expected callback")
	}
	if conn.State() != ConnUnused {
		t.Fatalf("expected Unused after disconnect, got %s", conn.State())
	}
}

func TestConnectionReadDiscoversThenCaches(t *testing.T) {
	backend := newFakeBackend()
	backend.discoverServices = []UUID{svcUUID}
	backend.discoverChars[svcUUID.String()] = []UUID{charUUID}
	backend.readData = []byte{0x2A}
	central, _ := newTestCentral(backend)

	conn := central.Connection("AA:BB:CC:DD:EE:02", false)
	conn.Connect()

	var gotData []byte
	var ok bool
	conn.ReadCharacteristic(svcUUID, charUUID, func(success bool, data []byte) {
		ok = success
		gotData = data
	})

	if !ok || string(gotData) != "\x2a" {
		t.Fatalf("read failed: ok=%v data=%v", ok, gotData)
	}
	if len(backend.startConnectionCalls) != 1 {
		t.Fatalf("expected exactly one connect call")
	}

	// Second read of the same characteristic must not re-discover.
	// Any discovery from here on fails, so a re-discovery would fail the read.
	backend.discoverFails = true
	ok = false
	conn.ReadCharacteristic(svcUUID, charUUID, func(success bool, data []byte) { ok = success })
	if !ok {
		t.Fatalf("expected cached read to succeed")
	}
	if conn.State() != ConnConnectedIdle {
		t.Fatalf("expected ConnectedIdle after read, got %s", conn.State())
	}
}

func TestConnectionProcedureTimeoutDisconnectsWithStackReason(t *testing.T) {
	backend := newFakeBackend()
	backend.discoverFails = false
	central, clock := newTestCentral(backend)

	conn := central.Connection("AA:BB:CC:DD:EE:03", false)
	conn.Connect()

	// Force the connection to sit in ResolveService by hand, simulating
	// a discovery request whose response never arrives.
	conn.pending = &pendingOp{kind: ProcedureRead, service: svcUUID, char: charUUID, onRead: func(bool, []byte) {}}
	conn.state = ConnResolveService
	conn.procedureStartedMs = clock.NowMs()

	var unexpectedReason DisconnectReason
	var gotUnexpected bool
	conn.AddListener(recordingConnListener{
		closedUnexpected: func(r DisconnectReason) {
			gotUnexpected = true
			unexpectedReason = r
		},
	})

	var timeoutHooks int
	conn.OnProcedureTimeout = func() { timeoutHooks++ }

	clock.Advance(defaultProcedureTimeoutMs + 1)
	conn.Service(clock.NowMs())

	if !gotUnexpected || unexpectedReason != DisconnectStack {
		t.Fatalf("expected unexpected-close with Stack reason, got ok=%v reason=%s", gotUnexpected, unexpectedReason)
	}
	if timeoutHooks != 1 {
		t.Fatalf("expected OnProcedureTimeout to fire exactly once, got %d", timeoutHooks)
	}
}

type recordingConnListener struct {
	opened           func()
	openFailed       func()
	closedExpected   func()
	closedUnexpected func(reason DisconnectReason)
}

func (l recordingConnListener) OnConnectionOpened() {
	if l.opened != nil {
		l.opened()
	}
}
func (l recordingConnListener) OnConnectionOpenFailed() {
	if l.openFailed != nil {
		l.openFailed()
	}
}
func (l recordingConnListener) OnConnectionClosedExpected() {
	if l.closedExpected != nil {
		l.closedExpected()
	}
}
func (l recordingConnListener) OnConnectionClosedUnexpected(reason DisconnectReason) {
	if l.closedUnexpected != nil {
		l.closedUnexpected(reason)
	}
}
