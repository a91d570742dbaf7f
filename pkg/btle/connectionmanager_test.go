package btle

import (
	"testing"

	"github.com/edgelink/core/internal/providertest"
)

// manualBackend behaves like fakeBackend for GATT operations but never
// auto-resolves StartConnection/StopConnection -- the test drives those
// completions by hand, which is what exercises the manager's command
// latching during an in-flight Connecting.
type manualBackend struct {
	*fakeBackend
}

func newManualBackend() *manualBackend {
	return &manualBackend{fakeBackend: newFakeBackend()}
}

func (b *manualBackend) StartConnection(targetMac string, isRandomAddr bool) bool {
	b.startConnectionCalls = append(b.startConnectionCalls, targetMac)
	return true
}

func (b *manualBackend) StopConnection(targetMac string) bool {
	b.stopConnectionCalls = append(b.stopConnectionCalls, targetMac)
	return true
}

func newTestManager(backend Backend) (*ConnectionManager, *Central, *providertest.Clock) {
	clock := providertest.NewClock()
	central := NewCentral(backend, clock)
	switch b := backend.(type) {
	case *fakeBackend:
		b.events = central
	case *manualBackend:
		b.events = central
	}
	mgr := NewConnectionManager(central, clock)
	return mgr, central, clock
}

func TestConnectionManagerReconnectRewalksSubscriptionState(t *testing.T) {
	backend := newFakeBackend()
	mgr, central, clock := newTestManager(backend)

	completions := 0
	mgr.AddListener(recordingManagerListener{
		onSubDone: func(success bool) {
			if success {
				completions++
			}
		},
	})

	mgr.NotifyBtlecReady(true)
	mgr.Start("AA:BB:CC:DD:EE:10")
	if mgr.State() != MgrConnected {
		t.Fatalf("expected Connected, got %s", mgr.State())
	}

	mgr.SetTargetSubscriptionState([]SubscriptionEntry{
		{ServiceUUID: svcUUID, CharUUID: charUUID, IsSubscribed: true},
	})
	if completions != 1 {
		t.Fatalf("expected 1 completion after initial walk, got %d", completions)
	}

	// Simulate a forced, unexpected disconnect (not via manager.Stop).
	central.OnConnectionClosed(mgr.targetMac, DisconnectConnectionTimeout)
	if mgr.State() != MgrConnectStandoff {
		t.Fatalf("expected ConnectStandoff after unexpected close, got %s", mgr.State())
	}

	clock.Advance(connectStandoffMs + 1)
	mgr.Service(clock.NowMs())

	if mgr.State() != MgrConnected {
		t.Fatalf("expected reconnect into Connected, got %s", mgr.State())
	}
	if completions != 2 {
		t.Fatalf("expected subscription state re-walked on reconnect, completions=%d", completions)
	}
}

func TestConnectionManagerStopDuringConnectingIsLatched(t *testing.T) {
	backend := newManualBackend()
	mgr, central, _ := newTestManager(backend)

	var disconnected bool
	mgr.AddListener(recordingManagerListener{onDisconnected: func() { disconnected = true }})

	mgr.NotifyBtlecReady(true)
	mgr.Start("AA:BB:CC:DD:EE:20")
	if mgr.State() != MgrConnecting {
		t.Fatalf("expected Connecting, got %s", mgr.State())
	}

	mgr.Stop()
	if mgr.State() != MgrConnecting {
		t.Fatalf("stop during Connecting must not act immediately, got %s", mgr.State())
	}
	if disconnected {
		t.Fatalf("must not fire disconnected before the connect attempt completes")
	}

	// The in-flight connect attempt now completes successfully.
	central.OnConnectionOpened(mgr.targetMac, true)

	if mgr.State() != MgrDisconnecting && mgr.State() != MgrStopped {
		t.Fatalf("expected the latched stop to be honored once connected, got %s", mgr.State())
	}

	// The backend's close event finally lands.
	central.OnConnectionClosed(mgr.targetMac, DisconnectUserRequested)
	if mgr.State() != MgrStopped {
		t.Fatalf("expected Stopped after latched stop completes, got %s", mgr.State())
	}
	if !disconnected {
		t.Fatalf("expected OnManagerDisconnected to fire")
	}
}

func TestConnectionManagerRestartDuringConnectedLatchesNewMac(t *testing.T) {
	backend := newFakeBackend()
	mgr, central, _ := newTestManager(backend)
	_ = central

	mgr.NotifyBtlecReady(true)
	mgr.Start("AA:BB:CC:DD:EE:30")
	if mgr.State() != MgrConnected {
		t.Fatalf("expected Connected, got %s", mgr.State())
	}

	mgr.Restart("AA:BB:CC:DD:EE:31")

	if mgr.State() != MgrConnected {
		t.Fatalf("expected restart to have completed the reconnect cycle via the synchronous fake, got %s", mgr.State())
	}
	if mgr.targetMac != "AA:BB:CC:DD:EE:31" {
		t.Fatalf("expected manager to have migrated to the new target mac, got %s", mgr.targetMac)
	}
}

// TestConnectionManagerStartDuringConnectingLatchesNewMac covers the
// scenario where a new target arrives while an attempt to the previous
// target is still in flight: the stale attempt must not be silently
// relabeled as the new target, and the manager must end up connected to
// the newly requested mac, not the one it was originally dialing.
func TestConnectionManagerStartDuringConnectingLatchesNewMac(t *testing.T) {
	backend := newManualBackend()
	mgr, central, _ := newTestManager(backend)

	const macA = "AA:BB:CC:DD:EE:40"
	const macB = "AA:BB:CC:DD:EE:41"

	mgr.NotifyBtlecReady(true)
	mgr.Start(macA)
	if mgr.State() != MgrConnecting {
		t.Fatalf("expected Connecting, got %s", mgr.State())
	}

	mgr.Start(macB)
	if mgr.State() != MgrConnecting {
		t.Fatalf("retargeting during Connecting must not act immediately, got %s", mgr.State())
	}
	if mgr.targetMac != macA {
		t.Fatalf("the in-flight attempt's target must not change underfoot, got %s", mgr.targetMac)
	}

	// The stale attempt to macA now completes successfully: it must be
	// torn back down rather than accepted as the new target.
	central.OnConnectionOpened(macA, true)
	if mgr.State() != MgrDisconnecting {
		t.Fatalf("expected the stale macA connection to be closed, got %s", mgr.State())
	}

	central.OnConnectionClosed(macA, DisconnectUserRequested)
	if mgr.State() != MgrConnecting {
		t.Fatalf("expected a fresh connect attempt to macB, got %s", mgr.State())
	}
	if mgr.targetMac != macB {
		t.Fatalf("expected manager to have retargeted to macB, got %s", mgr.targetMac)
	}

	central.OnConnectionOpened(macB, true)
	if mgr.State() != MgrConnected {
		t.Fatalf("expected Connected to macB, got %s", mgr.State())
	}
	if mgr.targetMac != macB {
		t.Fatalf("expected final target to be macB, got %s", mgr.targetMac)
	}
}

type recordingManagerListener struct {
	onConnected    func()
	onDisconnected func()
	onSubDone      func(success bool)
}

func (l recordingManagerListener) OnManagerConnected() {
	if l.onConnected != nil {
		l.onConnected()
	}
}
func (l recordingManagerListener) OnManagerDisconnected() {
	if l.onDisconnected != nil {
		l.onDisconnected()
	}
}
func (l recordingManagerListener) OnSubStateTransitionComplete(success bool) {
	if l.onSubDone != nil {
		l.onSubDone(success)
	}
}
