package btle

import (
	"testing"

	"github.com/edgelink/core/pkg/btle/advert"
)

func TestCentralDispatchesAdvertisementsToListeners(t *testing.T) {
	backend := newFakeBackend()
	central, _ := newTestCentral(backend)

	var got Advertisement
	central.AddListener(recordingCentralListener{onAd: func(ad Advertisement) { got = ad }})

	payload := advert.Build([]*advert.Structure{{Type: advert.TypeFlags, Data: []byte{0x06}}})
	central.OnAdvertisement("AA:BB:CC:DD:EE:FF", true, -60, payload)

	if got.Mac != "AA:BB:CC:DD:EE:FF" || got.Rssi != -60 {
		t.Fatalf("got %+v", got)
	}
	flags, ok := advert.Flags(got.Structures)
	if !ok || flags != 0x06 {
		t.Fatalf("expected decoded flags 0x06, got %d ok=%v", flags, ok)
	}
}

func TestCentralRoutesNotificationsToMatchingSubscriptionsOnly(t *testing.T) {
	backend := newFakeBackend()
	central, _ := newTestCentral(backend)

	var gotA, gotB []byte
	central.Subscribe("mac1", svcUUID, charUUID, func(_ any, data []byte) { gotA = data }, func(any, bool) {}, nil)
	central.Subscribe("mac2", svcUUID, charUUID, func(_ any, data []byte) { gotB = data }, func(any, bool) {}, nil)

	central.OnNotification("mac1", svcUUID, charUUID, []byte{0x01})

	if string(gotA) != "\x01" {
		t.Fatalf("expected mac1 subscription to receive data, got %v", gotA)
	}
	if gotB != nil {
		t.Fatalf("expected mac2 subscription untouched, got %v", gotB)
	}
}

func TestCentralUnsubscribeStopsDelivery(t *testing.T) {
	backend := newFakeBackend()
	central, _ := newTestCentral(backend)

	var got []byte
	central.Subscribe("mac1", svcUUID, charUUID, func(_ any, data []byte) { got = data }, func(any, bool) {}, nil)
	central.Unsubscribe("mac1", svcUUID, charUUID)

	central.OnNotification("mac1", svcUUID, charUUID, []byte{0x01})
	if got != nil {
		t.Fatalf("expected no delivery after unsubscribe, got %v", got)
	}
}

type recordingCentralListener struct {
	onAd func(Advertisement)
}

func (l recordingCentralListener) OnAdvertisement(ad Advertisement) {
	if l.onAd != nil {
		l.onAd(ad)
	}
}
