package snippet

import (
	"time"
)

const (
	eventWaitAndGetMethod = "eventWaitAndGet"
	eventGetAllMethod     = "eventGetAll"
)

// CallbackHandler polls the device-side event cache scoped to one callback
// id. It is owned by whoever issued the async RPC that created it.
type CallbackHandler struct {
	client *Client
	id     string
}

func (h *CallbackHandler) ID() string {
	return h.id
}

// WaitAndGet blocks until the device posts the next event of the given name
// or the device-side wait expires, which surfaces as ErrEventWaitTimeout.
func (h *CallbackHandler) WaitAndGet(name string, timeout time.Duration) (Event, error) {
	var ev Event
	_, err := h.client.roundTrip(eventWaitAndGetMethod, &ev, timeout,
		[]any{h.id, name, timeout.Milliseconds()})
	if err != nil {
		return Event{}, err
	}
	return ev, nil
}

// GetAll drains every cached event of the given name without blocking.
func (h *CallbackHandler) GetAll(name string) ([]Event, error) {
	events := []Event{}
	_, err := h.client.roundTrip(eventGetAllMethod, &events, 0, []any{h.id, name})
	if err != nil {
		return nil, err
	}
	return events, nil
}
