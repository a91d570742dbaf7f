package btle

// Backend is the vendor-specific GATT radio driver a Central is bound
// to at construction -- BlueGiga, SiLabs, or a test fake, selected by
// the host program at runtime. This mirrors the teacher's own `VM`
// interface in internal/ron/ron.go: a narrow contract the protocol
// engine depends on without knowing which concrete implementation is
// behind it. Every method returns false immediately on a request the
// backend cannot currently accept (radio busy, not bound); the
// eventual outcome, success or failure, always arrives later through
// BackendEvents rather than as a return value.
type Backend interface {
	StartScan(activeScan bool) bool
	StopScan() bool

	StartConnection(targetMac string, isRandomAddr bool) bool
	StopConnection(targetMac string) bool

	DiscoverServices(targetMac string) bool
	DiscoverCharacteristics(targetMac string, service UUID) bool

	ReadCharacteristic(targetMac string, service, char UUID) bool
	WriteCharacteristic(targetMac string, service, char UUID, data []byte) bool
	ChangeNotifications(targetMac string, service, char UUID, enable bool) bool
}

// BackendEvents is the callback sink a Backend drives; a Central
// implements it and fans events out to the Connection owning the
// relevant mac address.
type BackendEvents interface {
	OnAdvertisement(mac string, isRandomAddr bool, rssi int8, payload []byte)

	OnConnectionOpened(mac string, success bool)
	OnConnectionClosed(mac string, reason DisconnectReason)

	OnServicesDiscovered(mac string, success bool, services []UUID)
	OnCharacteristicsDiscovered(mac string, service UUID, success bool, chars []UUID)

	OnReadComplete(mac string, service, char UUID, success bool, data []byte)
	OnWriteComplete(mac string, service, char UUID, success bool)
	OnSubscriptionChanged(mac string, service, char UUID, success bool, nowSubscribed bool)

	OnNotification(mac string, service, char UUID, data []byte)
}
