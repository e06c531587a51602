package snippet_test

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/danmuck/rangectl/internal/snippet"
	"github.com/danmuck/rangectl/internal/snippet/fake"
	"github.com/danmuck/rangectl/internal/testutil/testlog"
)

func startFakeDevice(t *testing.T, lab *fake.Lab, name string) *fake.Device {
	t.Helper()
	dev := fake.NewDevice(name, lab)
	dev.SetReportInterval(10 * time.Millisecond)
	if err := dev.Start("127.0.0.1:0"); err != nil {
		t.Fatalf("start fake device: %v", err)
	}
	t.Cleanup(dev.Close)
	return dev
}

func dialFake(t *testing.T, dev *fake.Device) *snippet.Client {
	t.Helper()
	client, err := snippet.Dial(context.Background(), dev.Name(), dev.Addr(), snippet.DefaultConfig())
	if err != nil {
		t.Fatalf("dial fake device: %v", err)
	}
	t.Cleanup(func() { _ = client.Close() })
	return client
}

func startParams(sessionID int, device, peer []int) map[string]any {
	return map[string]any{
		"configType":          1,
		"sessionId":           sessionID,
		"subSessionId":        0,
		"sessionKeyInfo":      []int{1, 2, 3, 4, 5, 6, 7, 8, 8, 7, 6, 5, 4, 3, 2, 1},
		"peerAddresses":       [][]int{peer},
		"updateRateType":      1,
		"rangeDataConfigType": 1,
		"slotDurationMillis":  2,
		"isAoaDisabled":       false,
		"deviceAddress":       device,
		"deviceType":          1,
	}
}

func TestDialKnocksAndCalls(t *testing.T) {
	testlog.Start(t)

	dev := startFakeDevice(t, fake.NewLab(), "device.a")
	client := dialFake(t, dev)

	var enabled bool
	if err := client.Call("isUwbEnabled", &enabled); err != nil {
		t.Fatalf("isUwbEnabled: %v", err)
	}
	if !enabled {
		t.Fatalf("expected uwb enabled by default")
	}
}

func TestDialFailsAfterMaxAttempts(t *testing.T) {
	testlog.Start(t)

	cfg := snippet.DefaultConfig()
	cfg.ConnectTimeout = 200 * time.Millisecond
	cfg.MaxConnectAttempts = 2
	cfg.Backoff.InitialDelay = 10 * time.Millisecond
	cfg.Backoff.Jitter = false

	_, err := snippet.Dial(context.Background(), "device.x", "127.0.0.1:1", cfg)
	if err == nil {
		t.Fatalf("expected dial failure")
	}
}

func TestCallAsyncReturnsHandlerAndStartedEvent(t *testing.T) {
	testlog.Start(t)

	dev := startFakeDevice(t, fake.NewLab(), "device.a")
	client := dialFake(t, dev)

	handler, err := client.CallAsync("startUwbRanging", startParams(5, []int{1, 2}, []int{3, 4}))
	if err != nil {
		t.Fatalf("startUwbRanging: %v", err)
	}
	if handler.ID() == "" {
		t.Fatalf("expected callback id")
	}

	ev, err := handler.WaitAndGet("GenericRangingCallback", time.Second)
	if err != nil {
		t.Fatalf("wait for event: %v", err)
	}
	if got := ev.StringData("genericRangingSessionEvent"); got != "Started" {
		t.Fatalf("unexpected session event: %q", got)
	}
}

func TestWaitAndGetTimesOutAsSentinel(t *testing.T) {
	testlog.Start(t)

	dev := startFakeDevice(t, fake.NewLab(), "device.a")
	client := dialFake(t, dev)

	handler, err := client.CallAsync("startUwbRanging", startParams(5, []int{1, 2}, []int{3, 4}))
	if err != nil {
		t.Fatalf("startUwbRanging: %v", err)
	}
	// Consume Started; no peer exists so nothing else arrives.
	if _, err := handler.WaitAndGet("GenericRangingCallback", time.Second); err != nil {
		t.Fatalf("wait for started: %v", err)
	}

	_, err = handler.WaitAndGet("GenericRangingCallback", 50*time.Millisecond)
	if !errors.Is(err, snippet.ErrEventWaitTimeout) {
		t.Fatalf("expected ErrEventWaitTimeout, got %v", err)
	}
}

func TestGetAllDrainsCache(t *testing.T) {
	testlog.Start(t)

	lab := fake.NewLab()
	devA := startFakeDevice(t, lab, "device.a")
	devB := startFakeDevice(t, lab, "device.b")
	clientA := dialFake(t, devA)
	clientB := dialFake(t, devB)

	handlerA, err := clientA.CallAsync("startUwbRanging", startParams(5, []int{1, 2}, []int{3, 4}))
	if err != nil {
		t.Fatalf("start on a: %v", err)
	}
	if _, err := clientB.CallAsync("startUwbRanging", startParams(5, []int{3, 4}, []int{1, 2})); err != nil {
		t.Fatalf("start on b: %v", err)
	}

	// Let reports accumulate, then drain.
	time.Sleep(100 * time.Millisecond)
	events, err := handlerA.GetAll("GenericRangingCallback")
	if err != nil {
		t.Fatalf("getAll: %v", err)
	}
	if len(events) == 0 {
		t.Fatalf("expected cached events")
	}

	again, err := handlerA.GetAll("GenericRangingCallback")
	if err != nil {
		t.Fatalf("getAll second pass: %v", err)
	}
	if len(again) != 0 {
		// A report may land between the two drains; anything more than a
		// tick's worth means draining failed.
		if len(again) > 2 {
			t.Fatalf("cache not drained: %d events", len(again))
		}
	}
}

func TestUnknownMethodIsRPCError(t *testing.T) {
	testlog.Start(t)

	dev := startFakeDevice(t, fake.NewLab(), "device.a")
	client := dialFake(t, dev)

	err := client.Call("definitelyNotAMethod", nil)
	if !errors.Is(err, snippet.ErrRPC) {
		t.Fatalf("expected ErrRPC, got %v", err)
	}
}

func TestCallAfterCloseFails(t *testing.T) {
	testlog.Start(t)

	dev := startFakeDevice(t, fake.NewLab(), "device.a")
	client := dialFake(t, dev)
	_ = client.Close()

	err := client.Call("isUwbEnabled", nil)
	if !errors.Is(err, snippet.ErrClientClosed) {
		t.Fatalf("expected ErrClientClosed, got %v", err)
	}
}
