package ranging

import (
	"errors"
	"fmt"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/danmuck/rangectl/internal/observability"
	"github.com/danmuck/rangectl/internal/snippet"
)

const (
	EventStarted        = "Started"
	EventStopped        = "Stopped"
	EventReportReceived = "ReportReceived"

	callbackEventName = "GenericRangingCallback"
	sessionEventKey   = "genericRangingSessionEvent"

	// StartTimeout bounds the wait for a Started callback; stops are given
	// twice the slack because teardown on the device is slower.
	StartTimeout = 3 * time.Second
	StopTimeout  = 6 * time.Second
)

var (
	// ErrEventTimeout reports that the target event was not observed within
	// budget. Every wait-type operation in this package surfaces timeouts
	// through this sentinel; none returns a bare boolean.
	ErrEventTimeout = errors.New("ranging: event not received before timeout")
	// ErrSessionNotFound reports a lookup of a session id that was never
	// started on this device. This is a harness bug, never swallowed.
	ErrSessionNotFound = errors.New("ranging: session not registered")
)

// EventHandler is the per-session callback-event queue surface.
type EventHandler interface {
	WaitAndGet(name string, timeout time.Duration) (snippet.Event, error)
	GetAll(name string) ([]snippet.Event, error)
}

// RPC is the slice of the snippet client the decorator needs.
type RPC interface {
	Call(method string, result any, params ...any) error
	CallAsync(method string, params ...any) (EventHandler, error)
}

// ClientRPC adapts a concrete snippet client to the RPC interface.
type ClientRPC struct {
	*snippet.Client
}

func (c ClientRPC) CallAsync(method string, params ...any) (EventHandler, error) {
	h, err := c.Client.CallAsync(method, params...)
	if err != nil {
		return nil, err
	}
	return h, nil
}

// Device wraps one phone's snippet surface and owns the set of ranging
// sessions currently believed active on it. It is driven from a single
// goroutine per the harness scheduling model; the sessions map is not
// locked.
type Device struct {
	name      string
	rpc       RPC
	log       zerolog.Logger
	sessions  map[int]EventHandler
	startWait time.Duration
	stopWait  time.Duration
}

func NewDevice(name string, rpc RPC) *Device {
	return &Device{
		name:      name,
		rpc:       rpc,
		log:       log.With().Str("device", name).Logger(),
		sessions:  make(map[int]EventHandler),
		startWait: StartTimeout,
		stopWait:  StopTimeout,
	}
}

// SetWaitBudgets overrides the start/stop event budgets, used by lab config
// and by tests that cannot afford the production deadlines.
func (d *Device) SetWaitBudgets(start, stop time.Duration) {
	if start > 0 {
		d.startWait = start
	}
	if stop > 0 {
		d.stopWait = stop
	}
}

func (d *Device) Name() string {
	return d.name
}

// SessionIDs returns the currently registered session ids.
func (d *Device) SessionIDs() []int {
	ids := make([]int, 0, len(d.sessions))
	for id := range d.sessions {
		ids = append(ids, id)
	}
	return ids
}

// StartSession starts ranging with the given parameters, registers the
// returned event handler under the session id, and blocks until the device
// reports Started or StartTimeout elapses.
func (d *Device) StartSession(params SessionParams) error {
	params = params.WithDefaults()
	handler, err := d.rpc.CallAsync("startUwbRanging", params.WireMap())
	if err != nil {
		return err
	}
	d.sessions[params.SessionID] = handler
	observability.SetActiveSessions(d.name, len(d.sessions))

	if err := d.WaitForEvent(EventStarted, params.SessionID, d.startWait); err != nil {
		return fmt.Errorf("start session %d: %w", params.SessionID, err)
	}
	d.log.Info().Int("session_id", params.SessionID).Msg("ranging session started")
	return nil
}

// StopSession stops the session and waits for the Stopped callback. The
// handler registration is removed unconditionally once the stop command has
// been accepted, even when the Stopped event never arrives; only an RPC
// failure leaves the registration in place.
func (d *Device) StopSession(sessionID int) error {
	if _, ok := d.sessions[sessionID]; !ok {
		return fmt.Errorf("%w: %d", ErrSessionNotFound, sessionID)
	}
	if err := d.rpc.Call("stopUwbRanging", nil, sessionID); err != nil {
		return err
	}

	waitErr := d.WaitForEvent(EventStopped, sessionID, d.stopWait)
	delete(d.sessions, sessionID)
	observability.SetActiveSessions(d.name, len(d.sessions))
	if waitErr != nil {
		return fmt.Errorf("stop session %d: %w", sessionID, waitErr)
	}
	d.log.Info().Int("session_id", sessionID).Msg("ranging session stopped")
	return nil
}

// ClearAllSessions best-effort stops every registered session and drains
// its pending callback events, then empties the registration map. Failed
// stops are logged, not verified.
func (d *Device) ClearAllSessions() {
	for id, handler := range d.sessions {
		if err := d.rpc.Call("stopUwbRanging", nil, id); err != nil {
			d.log.Warn().Int("session_id", id).Err(err).Msg("stop during clear failed")
		}
		if _, err := handler.GetAll(callbackEventName); err != nil {
			d.log.Warn().Int("session_id", id).Err(err).Msg("event drain during clear failed")
		}
	}
	d.sessions = make(map[int]EventHandler)
	observability.SetActiveSessions(d.name, 0)
}

// WaitForEvent polls the session's callback queue until an event carrying
// the target name arrives or the budget elapses. The remaining budget is
// recomputed every iteration so the stated deadline holds regardless of how
// many mismatched or empty waits occur. On a match, queued events of the
// callback type are drained so the next wait cannot hit a stale entry.
func (d *Device) WaitForEvent(name string, sessionID int, timeout time.Duration) error {
	handler, ok := d.sessions[sessionID]
	if !ok {
		return fmt.Errorf("%w: %d", ErrSessionNotFound, sessionID)
	}

	start := time.Now()
	deadline := start.Add(timeout)
	for {
		remaining := time.Until(deadline)
		if remaining <= 0 {
			break
		}
		event, err := handler.WaitAndGet(callbackEventName, remaining)
		if err != nil {
			if errors.Is(err, snippet.ErrEventWaitTimeout) {
				d.log.Warn().Str("event", name).Int("session_id", sessionID).
					Msg("callback queue empty before deadline")
				continue
			}
			observability.RecordEventWait(d.name, name, "error", time.Since(start))
			return err
		}

		received := event.StringData(sessionEventKey)
		d.log.Debug().Str("received", received).Msg("ranging callback event")
		if received != name {
			continue
		}
		if _, err := handler.GetAll(callbackEventName); err != nil {
			return err
		}
		d.log.Debug().Str("event", name).Dur("elapsed", time.Since(start)).
			Msg("expected event received")
		observability.RecordEventWait(d.name, name, "ok", time.Since(start))
		return nil
	}

	observability.RecordEventWait(d.name, name, "timeout", time.Since(start))
	return fmt.Errorf("%w: %q session %d after %s", ErrEventTimeout, name, sessionID, timeout)
}

// IsPeerFound waits for the next ranging report within the budget and then
// asks the device whether the report carried data from addr. A missing
// report maps to (false, nil); transport and lookup failures propagate.
func (d *Device) IsPeerFound(addr []byte, sessionID int, timeout time.Duration) (bool, error) {
	err := d.WaitForEvent(EventReportReceived, sessionID, timeout)
	if errors.Is(err, ErrEventTimeout) {
		return false, nil
	}
	if err != nil {
		return false, err
	}

	var found bool
	if err := d.rpc.Call("verifyUwbPeerFound", &found, byteInts(addr), sessionID); err != nil {
		return false, err
	}
	return found, nil
}

// LogMarker writes a marker line into the device logcat, used to bracket
// test cases.
func (d *Device) LogMarker(message string) error {
	return d.rpc.Call("logInfo", nil, message)
}
