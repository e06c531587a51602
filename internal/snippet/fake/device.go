package fake

import (
	"bufio"
	"encoding/json"
	"fmt"
	"net"
	"sync"
	"sync/atomic"
	"time"

	"github.com/cskr/pubsub/v2"
	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/danmuck/rangectl/internal/snippet"
)

const (
	callbackEventName = "GenericRangingCallback"
	sessionEventKey   = "genericRangingSessionEvent"

	defaultReportInterval = 50 * time.Millisecond
	eventCacheCapacity    = 128
)

// Device is an in-process snippet service for one simulated phone. It
// speaks the real wire protocol on a loopback listener, so the production
// client and decorator run against it unchanged.
type Device struct {
	name        string
	lab         *Lab
	log         zerolog.Logger
	reportEvery time.Duration

	ln     net.Listener
	closed chan struct{}
	wg     sync.WaitGroup

	mu         sync.Mutex
	ps         *pubsub.PubSub[string, snippet.Event]
	subs       map[string]chan snippet.Event
	sessions   map[int]*deviceSession
	airplane   bool
	uwbEnabled bool
}

type deviceSession struct {
	id               int
	callbackID       string
	deviceAddress    []int
	peerAddresses    [][]int
	rangeDataEnabled bool
	stop             chan struct{}
	gotReport        atomic.Bool
}

func NewDevice(name string, lab *Lab) *Device {
	return &Device{
		name:        name,
		lab:         lab,
		log:         log.With().Str("fake_device", name).Logger(),
		reportEvery: defaultReportInterval,
		closed:      make(chan struct{}),
		ps:          pubsub.New[string, snippet.Event](eventCacheCapacity),
		subs:        make(map[string]chan snippet.Event),
		sessions:    make(map[int]*deviceSession),
		uwbEnabled:  true,
	}
}

// SetReportInterval tunes how often ReportReceived events fire. Call before
// Start.
func (d *Device) SetReportInterval(interval time.Duration) {
	if interval > 0 {
		d.reportEvery = interval
	}
}

func (d *Device) SetUwbEnabled(enabled bool) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.uwbEnabled = enabled
}

func (d *Device) AirplaneMode() bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.airplane
}

func (d *Device) Name() string {
	return d.name
}

// Start listens on addr ("127.0.0.1:0" for an ephemeral port) and serves
// connections until Close.
func (d *Device) Start(addr string) error {
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return err
	}
	d.ln = ln
	d.wg.Add(1)
	go d.acceptLoop()
	return nil
}

func (d *Device) Addr() string {
	if d.ln == nil {
		return ""
	}
	return d.ln.Addr().String()
}

func (d *Device) Close() {
	select {
	case <-d.closed:
		return
	default:
	}
	close(d.closed)
	if d.ln != nil {
		_ = d.ln.Close()
	}
	d.mu.Lock()
	for id, s := range d.sessions {
		close(s.stop)
		d.lab.unregister(d.name, id)
	}
	d.sessions = make(map[int]*deviceSession)
	d.mu.Unlock()
	d.wg.Wait()
	d.ps.Shutdown()
}

func (d *Device) acceptLoop() {
	defer d.wg.Done()
	for {
		conn, err := d.ln.Accept()
		if err != nil {
			return
		}
		d.wg.Add(1)
		go func() {
			defer d.wg.Done()
			d.handleConn(conn)
		}()
	}
}

// probe covers both the knock and regular requests so one decode pass can
// branch on the line shape.
type probe struct {
	Cmd    string            `json:"cmd"`
	ID     uint64            `json:"id"`
	Method string            `json:"method"`
	Params []json.RawMessage `json:"params"`
}

func (d *Device) handleConn(conn net.Conn) {
	defer conn.Close()
	reader := bufio.NewReader(conn)
	for {
		line, err := reader.ReadBytes('\n')
		if err != nil {
			return
		}
		var req probe
		if err := json.Unmarshal(line, &req); err != nil {
			d.log.Warn().Err(err).Msg("bad request line")
			return
		}
		if req.Cmd == snippet.KnockCmdInitiate {
			if err := snippet.WriteEnvelope(conn, snippet.KnockResponse{Status: true, UID: 1}); err != nil {
				return
			}
			continue
		}
		resp := d.dispatch(req)
		if err := snippet.WriteEnvelope(conn, resp); err != nil {
			return
		}
	}
}

func (d *Device) dispatch(req probe) snippet.Response {
	switch req.Method {
	case "startUwbRanging":
		return d.handleStart(req)
	case "stopUwbRanging":
		return d.handleStop(req)
	case "verifyUwbPeerFound":
		return d.handleVerifyPeer(req)
	case "isUwbEnabled":
		d.mu.Lock()
		enabled := d.uwbEnabled && !d.airplane
		d.mu.Unlock()
		return okResponse(req.ID, enabled)
	case "setAirplaneMode":
		var on bool
		if err := decodeParam(req.Params, 0, &on); err != nil {
			return errResponse(req.ID, err)
		}
		d.mu.Lock()
		d.airplane = on
		d.mu.Unlock()
		return okResponse(req.ID, nil)
	case "logInfo":
		var msg string
		if err := decodeParam(req.Params, 0, &msg); err != nil {
			return errResponse(req.ID, err)
		}
		d.log.Info().Msg(msg)
		return okResponse(req.ID, nil)
	case "eventWaitAndGet":
		return d.handleEventWaitAndGet(req)
	case "eventGetAll":
		return d.handleEventGetAll(req)
	default:
		return errResponse(req.ID, fmt.Errorf("unknown method %q", req.Method))
	}
}

func (d *Device) handleStart(req probe) snippet.Response {
	var config map[string]any
	if err := decodeParam(req.Params, 0, &config); err != nil {
		return errResponse(req.ID, err)
	}

	d.mu.Lock()
	if !d.uwbEnabled || d.airplane {
		d.mu.Unlock()
		return errResponse(req.ID, fmt.Errorf("uwb is disabled"))
	}

	id := intField(config, "sessionId")
	callbackID := uuid.NewString()
	s := &deviceSession{
		id:               id,
		callbackID:       callbackID,
		deviceAddress:    intsField(config, "deviceAddress"),
		peerAddresses:    addrListField(config, "peerAddresses"),
		rangeDataEnabled: intField(config, "rangeDataConfigType") != 0,
		stop:             make(chan struct{}),
	}
	d.sessions[id] = s
	d.subs[callbackID] = d.ps.Sub(callbackID)
	d.mu.Unlock()

	d.lab.register(d.name, id, s.deviceAddress)
	d.postEvent(callbackID, "Started")
	d.wg.Add(1)
	go d.reportLoop(s)

	return snippet.Response{ID: req.ID, Callback: &callbackID}
}

func (d *Device) handleStop(req probe) snippet.Response {
	var id int
	if err := decodeParam(req.Params, 0, &id); err != nil {
		return errResponse(req.ID, err)
	}

	d.mu.Lock()
	s, ok := d.sessions[id]
	if !ok {
		d.mu.Unlock()
		return errResponse(req.ID, fmt.Errorf("no ranging session for id %d", id))
	}
	delete(d.sessions, id)
	d.mu.Unlock()

	close(s.stop)
	d.lab.unregister(d.name, id)
	d.postEvent(s.callbackID, "Stopped")
	return okResponse(req.ID, nil)
}

func (d *Device) handleVerifyPeer(req probe) snippet.Response {
	var addr []int
	var id int
	if err := decodeParam(req.Params, 0, &addr); err != nil {
		return errResponse(req.ID, err)
	}
	if err := decodeParam(req.Params, 1, &id); err != nil {
		return errResponse(req.ID, err)
	}

	d.mu.Lock()
	s, ok := d.sessions[id]
	d.mu.Unlock()
	if !ok {
		return errResponse(req.ID, fmt.Errorf("no ranging session for id %d", id))
	}

	found := s.gotReport.Load() && d.lab.peerActive(d.name, id, addr)
	return okResponse(req.ID, found)
}

func (d *Device) handleEventWaitAndGet(req probe) snippet.Response {
	var callbackID, name string
	var timeoutMS int64
	if err := decodeParam(req.Params, 0, &callbackID); err != nil {
		return errResponse(req.ID, err)
	}
	if err := decodeParam(req.Params, 1, &name); err != nil {
		return errResponse(req.ID, err)
	}
	if err := decodeParam(req.Params, 2, &timeoutMS); err != nil {
		return errResponse(req.ID, err)
	}

	d.mu.Lock()
	ch, ok := d.subs[callbackID]
	d.mu.Unlock()
	if !ok {
		return errResponse(req.ID, fmt.Errorf("unknown callback id %q", callbackID))
	}

	deadline := time.Now().Add(time.Duration(timeoutMS) * time.Millisecond)
	for {
		remaining := time.Until(deadline)
		if remaining <= 0 {
			return errResponse(req.ID,
				fmt.Errorf("EventSnippetException: timed out after %dms waiting for event %q", timeoutMS, name))
		}
		timer := time.NewTimer(remaining)
		select {
		case ev := <-ch:
			timer.Stop()
			if ev.Name != name {
				continue
			}
			return okResponse(req.ID, ev)
		case <-timer.C:
			return errResponse(req.ID,
				fmt.Errorf("EventSnippetException: timed out after %dms waiting for event %q", timeoutMS, name))
		}
	}
}

func (d *Device) handleEventGetAll(req probe) snippet.Response {
	var callbackID, name string
	if err := decodeParam(req.Params, 0, &callbackID); err != nil {
		return errResponse(req.ID, err)
	}
	if err := decodeParam(req.Params, 1, &name); err != nil {
		return errResponse(req.ID, err)
	}

	d.mu.Lock()
	ch, ok := d.subs[callbackID]
	d.mu.Unlock()
	if !ok {
		return errResponse(req.ID, fmt.Errorf("unknown callback id %q", callbackID))
	}

	events := []snippet.Event{}
	for {
		select {
		case ev := <-ch:
			if ev.Name == name {
				events = append(events, ev)
			}
		default:
			return okResponse(req.ID, events)
		}
	}
}

func (d *Device) reportLoop(s *deviceSession) {
	defer d.wg.Done()
	ticker := time.NewTicker(d.reportEvery)
	defer ticker.Stop()
	for {
		select {
		case <-s.stop:
			return
		case <-d.closed:
			return
		case <-ticker.C:
			// Reports surface only while a matching peer session is live and
			// range-data notifications are enabled on this side.
			if !s.rangeDataEnabled {
				continue
			}
			if !d.lab.anyPeerActive(d.name, s.id, s.peerAddresses) {
				continue
			}
			s.gotReport.Store(true)
			d.postEvent(s.callbackID, "ReportReceived")
		}
	}
}

func (d *Device) postEvent(callbackID, sessionEvent string) {
	ev := snippet.Event{
		CallbackID:   callbackID,
		Name:         callbackEventName,
		CreationTime: time.Now().UnixMilli(),
		Data:         map[string]any{sessionEventKey: sessionEvent},
	}
	d.ps.TryPub(ev, callbackID)
}

func okResponse(id uint64, result any) snippet.Response {
	if result == nil {
		return snippet.Response{ID: id}
	}
	raw, err := json.Marshal(result)
	if err != nil {
		return errResponse(id, err)
	}
	return snippet.Response{ID: id, Result: raw}
}

func errResponse(id uint64, err error) snippet.Response {
	msg := err.Error()
	return snippet.Response{ID: id, Error: &msg}
}

func decodeParam(params []json.RawMessage, index int, out any) error {
	if index >= len(params) {
		return fmt.Errorf("missing param %d", index)
	}
	if err := json.Unmarshal(params[index], out); err != nil {
		return fmt.Errorf("param %d: %w", index, err)
	}
	return nil
}

func intField(m map[string]any, key string) int {
	switch v := m[key].(type) {
	case float64:
		return int(v)
	case int:
		return v
	default:
		return 0
	}
}

func intsField(m map[string]any, key string) []int {
	raw, _ := m[key].([]any)
	out := make([]int, 0, len(raw))
	for _, v := range raw {
		if f, ok := v.(float64); ok {
			out = append(out, int(f))
		}
	}
	return out
}

func addrListField(m map[string]any, key string) [][]int {
	raw, _ := m[key].([]any)
	out := make([][]int, 0, len(raw))
	for _, entry := range raw {
		inner, _ := entry.([]any)
		addr := make([]int, 0, len(inner))
		for _, v := range inner {
			if f, ok := v.(float64); ok {
				addr = append(addr, int(f))
			}
		}
		out = append(out, addr)
	}
	return out
}
