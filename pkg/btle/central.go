package btle

import (
	"github.com/edgelink/core/internal/provider"
	"github.com/edgelink/core/pkg/btle/advert"
	log "github.com/edgelink/core/pkg/minilog"
)

// Advertisement is a parsed scan result, with the raw AD structures
// decoded via pkg/btle/advert for the flags and manufacturer-data
// fields the core understands explicitly.
type Advertisement struct {
	Mac          string
	IsRandomAddr bool
	Rssi         int8
	Structures   []*advert.Structure
}

// CentralListener receives scan results.
type CentralListener interface {
	OnAdvertisement(ad Advertisement)
}

// notificationSubscription is one entry of a Central's cross-connection
// notification routing table: deliveries for (mac, service, char) are
// forwarded to on_rx, with userVar threaded through untouched the way
// the original implementation's void* context argument was.
type notificationSubscription struct {
	targetMac  string
	service    UUID
	char       UUID
	onRx       func(userVar any, data []byte)
	onSubState func(userVar any, nowSubscribed bool)
	userVar    any
}

// Central is the vendor-neutral GATT client: it owns the Backend,
// fans scan/connect/GATT events out to per-mac Connections, and routes
// characteristic notifications to whichever subscriptions match.
type Central struct {
	backend Backend
	clock   provider.MonotonicClock

	connections   map[string]*Connection
	subscriptions []*notificationSubscription

	listeners []CentralListener
	scanning  bool
}

func NewCentral(backend Backend, clock provider.MonotonicClock) *Central {
	return &Central{
		backend:     backend,
		clock:       clock,
		connections: make(map[string]*Connection),
	}
}

func (ct *Central) AddListener(l CentralListener) { ct.listeners = append(ct.listeners, l) }

func (ct *Central) StartScan(activeScan bool) bool {
	if !ct.backend.StartScan(activeScan) {
		return false
	}
	ct.scanning = true
	return true
}

func (ct *Central) StopScan() bool {
	if !ct.backend.StopScan() {
		return false
	}
	ct.scanning = false
	return true
}

func (ct *Central) IsScanning() bool { return ct.scanning }

// Connection returns the Connection tracking mac, creating it if this
// is the first time the central has been asked to reach that peer.
func (ct *Central) Connection(mac string, isRandomAddr bool) *Connection {
	if conn, ok := ct.connections[mac]; ok {
		return conn
	}
	conn := NewConnection(mac, isRandomAddr, ct.backend, ct.clock)
	ct.connections[mac] = conn
	return conn
}

// Subscribe adds a standing notification route: whenever the peer at
// targetMac sends a notification/indication for (service, char), onRx
// fires. It does not itself drive a ChangeNotifications procedure --
// callers still issue that through the Connection -- this only governs
// delivery once notifications are flowing.
func (ct *Central) Subscribe(targetMac string, service, char UUID, onRx func(userVar any, data []byte), onSubState func(userVar any, nowSubscribed bool), userVar any) {
	ct.subscriptions = append(ct.subscriptions, &notificationSubscription{
		targetMac:  targetMac,
		service:    service,
		char:       char,
		onRx:       onRx,
		onSubState: onSubState,
		userVar:    userVar,
	})
}

// Unsubscribe removes every standing route matching the given triple.
func (ct *Central) Unsubscribe(targetMac string, service, char UUID) {
	kept := ct.subscriptions[:0]
	for _, sub := range ct.subscriptions {
		if sub.targetMac == targetMac && sub.service.Equal(service) && sub.char.Equal(char) {
			continue
		}
		kept = append(kept, sub)
	}
	ct.subscriptions = kept
}

// Service advances every tracked Connection's procedure timeout.
func (ct *Central) Service(now uint64) {
	for _, conn := range ct.connections {
		conn.Service(now)
	}
}

// ---- BackendEvents ----

func (ct *Central) OnAdvertisement(mac string, isRandomAddr bool, rssi int8, payload []byte) {
	structures, err := advert.Parse(payload)
	if err != nil {
		log.WarnNamed("btle", "malformed advertisement from %s: %v", mac, err)
		return
	}
	ad := Advertisement{Mac: mac, IsRandomAddr: isRandomAddr, Rssi: rssi, Structures: structures}
	for _, l := range ct.listeners {
		l.OnAdvertisement(ad)
	}
}

func (ct *Central) OnConnectionOpened(mac string, success bool) {
	if conn, ok := ct.connections[mac]; ok {
		conn.onConnectionOpened(success)
	}
}

func (ct *Central) OnConnectionClosed(mac string, reason DisconnectReason) {
	if conn, ok := ct.connections[mac]; ok {
		conn.onConnectionClosed(reason)
	}
}

func (ct *Central) OnServicesDiscovered(mac string, success bool, services []UUID) {
	if conn, ok := ct.connections[mac]; ok {
		conn.onServicesDiscovered(success, services)
	}
}

func (ct *Central) OnCharacteristicsDiscovered(mac string, service UUID, success bool, chars []UUID) {
	if conn, ok := ct.connections[mac]; ok {
		conn.onCharacteristicsDiscovered(service, success, chars)
	}
}

func (ct *Central) OnReadComplete(mac string, service, char UUID, success bool, data []byte) {
	if conn, ok := ct.connections[mac]; ok {
		conn.onReadComplete(success, data)
	}
}

func (ct *Central) OnWriteComplete(mac string, service, char UUID, success bool) {
	if conn, ok := ct.connections[mac]; ok {
		conn.onWriteComplete(success)
	}
}

func (ct *Central) OnSubscriptionChanged(mac string, service, char UUID, success bool, nowSubscribed bool) {
	if conn, ok := ct.connections[mac]; ok {
		conn.onSubscriptionChanged(success, nowSubscribed)
	}
	for _, sub := range ct.subscriptions {
		if sub.targetMac == mac && sub.service.Equal(service) && sub.char.Equal(char) {
			sub.onSubState(sub.userVar, nowSubscribed)
		}
	}
}

// OnNotification dispatches an inbound notification/indication to every
// subscription matching (mac, service, char); unmatched deliveries are
// silently dropped, matching an unknown handle producing no route.
func (ct *Central) OnNotification(mac string, service, char UUID, data []byte) {
	for _, sub := range ct.subscriptions {
		if sub.targetMac == mac && sub.service.Equal(service) && sub.char.Equal(char) {
			sub.onRx(sub.userVar, data)
		}
	}
}
