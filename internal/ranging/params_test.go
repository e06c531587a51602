package ranging

import (
	"reflect"
	"testing"

	"github.com/danmuck/rangectl/internal/testutil/testlog"
)

func unicastParams() SessionParams {
	return NewSessionParams(ConfigUnicastDSTWR, 5, DeviceController,
		[]byte{1, 2}, [][]byte{{3, 4}})
}

func TestNewSessionParamsDefaults(t *testing.T) {
	testlog.Start(t)

	p := unicastParams()
	if p.SubSessionID != 0 {
		t.Fatalf("unexpected sub session id: %d", p.SubSessionID)
	}
	if !reflect.DeepEqual(p.SessionKeyInfo, DefaultSessionKey()) {
		t.Fatalf("unexpected session key: %v", p.SessionKeyInfo)
	}
	if p.UpdateRateType != UpdateRateAutomatic {
		t.Fatalf("unexpected update rate: %d", p.UpdateRateType)
	}
	if p.RangeDataConfigType != RangeDataEnable {
		t.Fatalf("unexpected range data config: %d", p.RangeDataConfigType)
	}
	if p.SlotDurationMillis != SlotDurationMillis2 {
		t.Fatalf("unexpected slot duration: %d", p.SlotDurationMillis)
	}
	if p.IsAoaDisabled {
		t.Fatalf("expected aoa enabled")
	}
}

func TestWireMapStableAndComplete(t *testing.T) {
	testlog.Start(t)

	first := unicastParams().WireMap()
	second := unicastParams().WireMap()
	if !reflect.DeepEqual(first, second) {
		t.Fatalf("wire map not stable under equal input:\n%v\n%v", first, second)
	}

	want := map[string]any{
		"configType":          1,
		"sessionId":           5,
		"subSessionId":        0,
		"sessionKeyInfo":      []int{1, 2, 3, 4, 5, 6, 7, 8, 8, 7, 6, 5, 4, 3, 2, 1},
		"peerAddresses":       [][]int{{3, 4}},
		"updateRateType":      1,
		"rangeDataConfigType": 1,
		"slotDurationMillis":  2,
		"isAoaDisabled":       false,
		"deviceAddress":       []int{1, 2},
		"deviceType":          1,
	}
	if !reflect.DeepEqual(first, want) {
		t.Fatalf("unexpected wire map:\n got %v\nwant %v", first, want)
	}
}

func TestWireMapOmitsSubSessionKeyOnlyWhenUnset(t *testing.T) {
	testlog.Start(t)

	p := unicastParams()
	if _, present := p.WireMap()["subSessionKeyInfo"]; present {
		t.Fatalf("subSessionKeyInfo serialized while unset")
	}

	p.SubSessionKeyInfo = []byte{8, 7, 6, 5, 4, 3, 2, 1, 1, 2, 3, 4, 5, 6, 7, 8}
	got, present := p.WireMap()["subSessionKeyInfo"]
	if !present {
		t.Fatalf("subSessionKeyInfo missing while set")
	}
	if !reflect.DeepEqual(got, []int{8, 7, 6, 5, 4, 3, 2, 1, 1, 2, 3, 4, 5, 6, 7, 8}) {
		t.Fatalf("unexpected subSessionKeyInfo: %v", got)
	}
}

func TestUpdateChangesOnlyNamedField(t *testing.T) {
	testlog.Start(t)

	p := unicastParams()
	before := p.WireMap()

	p.Update(map[string]any{"rangeDataConfigType": RangeDataDisable})

	after := p.WireMap()
	if after["rangeDataConfigType"] != 0 {
		t.Fatalf("rangeDataConfigType not updated: %v", after["rangeDataConfigType"])
	}
	for key, value := range before {
		if key == "rangeDataConfigType" {
			continue
		}
		if !reflect.DeepEqual(after[key], value) {
			t.Fatalf("field %q changed: %v -> %v", key, value, after[key])
		}
	}
}

func TestUpdateIgnoresUnknownFields(t *testing.T) {
	testlog.Start(t)

	p := unicastParams()
	before := p.WireMap()

	p.Update(map[string]any{
		"noSuchField":   42,
		"blockStride":   7,
		"deviceAddress": []byte{9, 9},
	})

	after := p.WireMap()
	if !reflect.DeepEqual(after["deviceAddress"], []int{9, 9}) {
		t.Fatalf("known field not applied: %v", after["deviceAddress"])
	}
	for key, value := range before {
		if key == "deviceAddress" {
			continue
		}
		if !reflect.DeepEqual(after[key], value) {
			t.Fatalf("field %q changed by unknown-field update: %v -> %v", key, value, after[key])
		}
	}
}

func TestUpdateAcceptsIntSliceAddresses(t *testing.T) {
	testlog.Start(t)

	p := unicastParams()
	p.Update(map[string]any{"peerAddresses": [][]int{{4, 5}, {6, 7}}})

	want := [][]byte{{4, 5}, {6, 7}}
	if !reflect.DeepEqual(p.PeerAddresses, want) {
		t.Fatalf("unexpected peer addresses: %v", p.PeerAddresses)
	}
}
