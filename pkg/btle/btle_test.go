package btle

// fakeBackend is a synchronous Backend fake: every Start*/Discover*/
// Read/Write/ChangeNotifications call resolves immediately by calling
// back into the bound events sink, with the outcome taken from the
// fake's flag fields (connectSucceeds, discoverFails, ...) a test sets -- adequate since every
// engine in this module is single-threaded and cooperative anyway.
type fakeBackend struct {
	events BackendEvents

	connectSucceeds     bool
	discoverServices    []UUID
	discoverChars       map[string][]UUID // keyed by service.String()
	discoverFails       bool
	readData            []byte
	readSucceeds        bool
	writeSucceeds       bool
	subscribeSucceeds   bool

	startConnectionCalls []string
	stopConnectionCalls  []string
}

func newFakeBackend() *fakeBackend {
	return &fakeBackend{
		connectSucceeds:   true,
		discoverChars:     make(map[string][]UUID),
		readSucceeds:      true,
		writeSucceeds:     true,
		subscribeSucceeds: true,
	}
}

func (b *fakeBackend) StartScan(activeScan bool) bool { return true }
func (b *fakeBackend) StopScan() bool                 { return true }

func (b *fakeBackend) StartConnection(targetMac string, isRandomAddr bool) bool {
	b.startConnectionCalls = append(b.startConnectionCalls, targetMac)
	b.events.OnConnectionOpened(targetMac, b.connectSucceeds)
	return true
}

func (b *fakeBackend) StopConnection(targetMac string) bool {
	b.stopConnectionCalls = append(b.stopConnectionCalls, targetMac)
	b.events.OnConnectionClosed(targetMac, DisconnectUserRequested)
	return true
}

func (b *fakeBackend) DiscoverServices(targetMac string) bool {
	if b.discoverFails {
		b.events.OnServicesDiscovered(targetMac, false, nil)
		return true
	}
	b.events.OnServicesDiscovered(targetMac, true, b.discoverServices)
	return true
}

func (b *fakeBackend) DiscoverCharacteristics(targetMac string, service UUID) bool {
	if b.discoverFails {
		b.events.OnCharacteristicsDiscovered(targetMac, service, false, nil)
		return true
	}
	b.events.OnCharacteristicsDiscovered(targetMac, service, true, b.discoverChars[service.String()])
	return true
}

func (b *fakeBackend) ReadCharacteristic(targetMac string, service, char UUID) bool {
	b.events.OnReadComplete(targetMac, service, char, b.readSucceeds, b.readData)
	return true
}

func (b *fakeBackend) WriteCharacteristic(targetMac string, service, char UUID, data []byte) bool {
	b.events.OnWriteComplete(targetMac, service, char, b.writeSucceeds)
	return true
}

func (b *fakeBackend) ChangeNotifications(targetMac string, service, char UUID, enable bool) bool {
	b.events.OnSubscriptionChanged(targetMac, service, char, b.subscribeSucceeds, enable)
	return true
}
