package ranging

import (
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/danmuck/rangectl/internal/snippet"
	"github.com/danmuck/rangectl/internal/testutil/testlog"
)

func callbackEvent(sessionEvent string) snippet.Event {
	return snippet.Event{
		Name: callbackEventName,
		Data: map[string]any{sessionEventKey: sessionEvent},
	}
}

// scriptedHandler plays back a fixed event queue.
type scriptedHandler struct {
	events  []snippet.Event
	waitErr error
	drains  int
}

func (h *scriptedHandler) WaitAndGet(name string, timeout time.Duration) (snippet.Event, error) {
	if h.waitErr != nil {
		return snippet.Event{}, h.waitErr
	}
	if len(h.events) == 0 {
		// The real handler parks on the device for the full wait.
		time.Sleep(timeout)
		return snippet.Event{}, fmt.Errorf("%w: queue empty", snippet.ErrEventWaitTimeout)
	}
	next := h.events[0]
	h.events = h.events[1:]
	return next, nil
}

func (h *scriptedHandler) GetAll(name string) ([]snippet.Event, error) {
	h.drains++
	rest := h.events
	h.events = nil
	return rest, nil
}

type scriptedRPC struct {
	calls     []string
	handler   *scriptedHandler
	asyncErr  error
	callErrs  map[string]error
	peerFound bool
}

func (r *scriptedRPC) Call(method string, result any, params ...any) error {
	r.calls = append(r.calls, method)
	if err := r.callErrs[method]; err != nil {
		return err
	}
	if method == "verifyUwbPeerFound" {
		if out, ok := result.(*bool); ok {
			*out = r.peerFound
		}
	}
	return nil
}

func (r *scriptedRPC) CallAsync(method string, params ...any) (EventHandler, error) {
	r.calls = append(r.calls, method)
	if r.asyncErr != nil {
		return nil, r.asyncErr
	}
	return r.handler, nil
}

func TestStartSessionRegistersHandler(t *testing.T) {
	testlog.Start(t)

	rpc := &scriptedRPC{handler: &scriptedHandler{events: []snippet.Event{callbackEvent(EventStarted)}}}
	dev := NewDevice("device.a", rpc)

	params := NewSessionParams(ConfigUnicastDSTWR, 5, DeviceController, []byte{1, 2}, [][]byte{{3, 4}})
	if err := dev.StartSession(params); err != nil {
		t.Fatalf("start session: %v", err)
	}
	if len(dev.SessionIDs()) != 1 || dev.SessionIDs()[0] != 5 {
		t.Fatalf("unexpected registered sessions: %v", dev.SessionIDs())
	}
}

func TestStartSessionTimesOutWithoutStartedEvent(t *testing.T) {
	testlog.Start(t)

	rpc := &scriptedRPC{handler: &scriptedHandler{}}
	dev := NewDevice("device.a", rpc)
	dev.SetWaitBudgets(30*time.Millisecond, 30*time.Millisecond)

	params := NewSessionParams(ConfigUnicastDSTWR, 5, DeviceController, []byte{1, 2}, [][]byte{{3, 4}})
	err := dev.StartSession(params)
	if !errors.Is(err, ErrEventTimeout) {
		t.Fatalf("expected ErrEventTimeout, got %v", err)
	}
	// Registration happens before the wait, so a failed start still leaves
	// the handler registered for cleanup.
	if len(dev.SessionIDs()) != 1 {
		t.Fatalf("expected handler to remain registered: %v", dev.SessionIDs())
	}
}

func TestStopNeverStartedSessionFailsLoudly(t *testing.T) {
	testlog.Start(t)

	rpc := &scriptedRPC{handler: &scriptedHandler{}}
	dev := NewDevice("device.a", rpc)

	err := dev.StopSession(7)
	if !errors.Is(err, ErrSessionNotFound) {
		t.Fatalf("expected ErrSessionNotFound, got %v", err)
	}
	if len(rpc.calls) != 0 {
		t.Fatalf("no rpc should be issued for an unknown session: %v", rpc.calls)
	}
}

func TestStopSessionUnregistersEvenWhenStoppedEventMissing(t *testing.T) {
	testlog.Start(t)

	handler := &scriptedHandler{events: []snippet.Event{callbackEvent(EventStarted)}}
	rpc := &scriptedRPC{handler: handler}
	dev := NewDevice("device.a", rpc)
	dev.SetWaitBudgets(30*time.Millisecond, 30*time.Millisecond)

	params := NewSessionParams(ConfigUnicastDSTWR, 5, DeviceController, []byte{1, 2}, [][]byte{{3, 4}})
	if err := dev.StartSession(params); err != nil {
		t.Fatalf("start session: %v", err)
	}

	err := dev.StopSession(5)
	if !errors.Is(err, ErrEventTimeout) {
		t.Fatalf("expected ErrEventTimeout, got %v", err)
	}
	if len(dev.SessionIDs()) != 0 {
		t.Fatalf("registration must be removed unconditionally: %v", dev.SessionIDs())
	}
}

func TestStopSessionKeepsRegistrationOnRPCFailure(t *testing.T) {
	testlog.Start(t)

	handler := &scriptedHandler{events: []snippet.Event{callbackEvent(EventStarted)}}
	rpc := &scriptedRPC{
		handler:  handler,
		callErrs: map[string]error{"stopUwbRanging": errors.New("device went away")},
	}
	dev := NewDevice("device.a", rpc)

	params := NewSessionParams(ConfigUnicastDSTWR, 5, DeviceController, []byte{1, 2}, [][]byte{{3, 4}})
	if err := dev.StartSession(params); err != nil {
		t.Fatalf("start session: %v", err)
	}

	if err := dev.StopSession(5); err == nil {
		t.Fatalf("expected rpc failure to propagate")
	}
	if len(dev.SessionIDs()) != 1 {
		t.Fatalf("rpc failure must not unregister the handler: %v", dev.SessionIDs())
	}
}

func TestWaitForEventSkipsMismatchesAndDrainsOnMatch(t *testing.T) {
	testlog.Start(t)

	handler := &scriptedHandler{events: []snippet.Event{
		callbackEvent(EventReportReceived),
		callbackEvent(EventReportReceived),
		callbackEvent(EventStopped),
	}}
	rpc := &scriptedRPC{handler: handler}
	dev := NewDevice("device.a", rpc)
	dev.sessions[9] = handler

	if err := dev.WaitForEvent(EventStopped, 9, time.Second); err != nil {
		t.Fatalf("wait for event: %v", err)
	}
	if handler.drains != 1 {
		t.Fatalf("expected one drain after match, got %d", handler.drains)
	}
}

func TestWaitForEventMismatchOnlyTimesOut(t *testing.T) {
	testlog.Start(t)

	handler := &scriptedHandler{events: []snippet.Event{
		callbackEvent(EventReportReceived),
		callbackEvent(EventReportReceived),
	}}
	rpc := &scriptedRPC{handler: handler}
	dev := NewDevice("device.a", rpc)
	dev.sessions[9] = handler

	err := dev.WaitForEvent(EventStarted, 9, 40*time.Millisecond)
	if !errors.Is(err, ErrEventTimeout) {
		t.Fatalf("expected ErrEventTimeout, got %v", err)
	}
}

func TestWaitForEventUnknownSession(t *testing.T) {
	testlog.Start(t)

	dev := NewDevice("device.a", &scriptedRPC{})
	err := dev.WaitForEvent(EventStarted, 42, time.Second)
	if !errors.Is(err, ErrSessionNotFound) {
		t.Fatalf("expected ErrSessionNotFound, got %v", err)
	}
}

func TestWaitForEventPropagatesTransportFailure(t *testing.T) {
	testlog.Start(t)

	bang := errors.New("connection reset")
	handler := &scriptedHandler{waitErr: bang}
	dev := NewDevice("device.a", &scriptedRPC{})
	dev.sessions[9] = handler

	if err := dev.WaitForEvent(EventStarted, 9, time.Second); !errors.Is(err, bang) {
		t.Fatalf("expected transport error, got %v", err)
	}
}

func TestClearAllSessionsEmptiesMapDespiteStopFailures(t *testing.T) {
	testlog.Start(t)

	handlerA := &scriptedHandler{events: []snippet.Event{callbackEvent(EventStarted)}}
	handlerB := &scriptedHandler{events: []snippet.Event{callbackEvent(EventStarted)}}
	rpc := &scriptedRPC{
		callErrs: map[string]error{"stopUwbRanging": errors.New("busy")},
	}
	dev := NewDevice("device.a", rpc)
	dev.sessions[1] = handlerA
	dev.sessions[2] = handlerB

	dev.ClearAllSessions()

	if len(dev.SessionIDs()) != 0 {
		t.Fatalf("expected empty registration map: %v", dev.SessionIDs())
	}
	if handlerA.drains != 1 || handlerB.drains != 1 {
		t.Fatalf("expected both queues drained: %d %d", handlerA.drains, handlerB.drains)
	}
}

func TestIsPeerFound(t *testing.T) {
	testlog.Start(t)

	handler := &scriptedHandler{events: []snippet.Event{callbackEvent(EventReportReceived)}}
	rpc := &scriptedRPC{handler: handler, peerFound: true}
	dev := NewDevice("device.a", rpc)
	dev.sessions[5] = handler

	found, err := dev.IsPeerFound([]byte{3, 4}, 5, time.Second)
	if err != nil {
		t.Fatalf("is peer found: %v", err)
	}
	if !found {
		t.Fatalf("expected peer found")
	}
}

func TestIsPeerFoundWithoutReportIsFalseNotError(t *testing.T) {
	testlog.Start(t)

	handler := &scriptedHandler{}
	rpc := &scriptedRPC{handler: handler, peerFound: true}
	dev := NewDevice("device.a", rpc)
	dev.sessions[5] = handler

	found, err := dev.IsPeerFound([]byte{3, 4}, 5, 40*time.Millisecond)
	if err != nil {
		t.Fatalf("expected no error on missing report, got %v", err)
	}
	if found {
		t.Fatalf("expected peer not found")
	}
}
