package snippet

import (
	"bufio"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"strings"
)

// Wire format of the on-device snippet service: line-delimited JSON over TCP.
// One knock exchange opens the connection, then numbered requests with
// matching responses. Async RPCs hand back a callback id that scopes the
// device-side event cache.

const (
	KnockCmdInitiate = "initiate"
	KnockUID         = -1

	maxEnvelopeBytes = 128 * 1024
)

var (
	ErrInvalidResponse  = errors.New("snippet: invalid response")
	ErrEnvelopeTooLarge = errors.New("snippet: envelope too large")
	ErrKnockRejected    = errors.New("snippet: knock rejected")
	ErrRPC              = errors.New("snippet: rpc failed on device")
	ErrEventWaitTimeout = errors.New("snippet: event wait timed out")
	ErrNoCallback       = errors.New("snippet: response carries no callback id")
	ErrClientClosed     = errors.New("snippet: client closed")
)

type Request struct {
	ID     uint64 `json:"id"`
	Method string `json:"method"`
	Params []any  `json:"params"`
}

type Response struct {
	ID       uint64          `json:"id"`
	Result   json.RawMessage `json:"result"`
	Error    *string         `json:"error"`
	Callback *string         `json:"callback"`
}

type KnockRequest struct {
	Cmd string `json:"cmd"`
	UID int    `json:"uid"`
}

type KnockResponse struct {
	Status bool `json:"status"`
	UID    int  `json:"uid"`
}

// Event is one callback event posted by the device snippet.
type Event struct {
	CallbackID   string         `json:"callbackId"`
	Name         string         `json:"name"`
	CreationTime int64          `json:"time"`
	Data         map[string]any `json:"data"`
}

// StringData returns the named data field when it is a string, else "".
func (e Event) StringData(key string) string {
	v, _ := e.Data[key].(string)
	return v
}

func WriteEnvelope(w io.Writer, v any) error {
	payload, err := json.Marshal(v)
	if err != nil {
		return err
	}
	payload = append(payload, '\n')
	if _, err := w.Write(payload); err != nil {
		return err
	}
	return nil
}

func ReadEnvelope(r *bufio.Reader, out any) error {
	line, err := r.ReadBytes('\n')
	if err != nil {
		return err
	}
	if len(line) > maxEnvelopeBytes {
		return ErrEnvelopeTooLarge
	}
	if err := json.Unmarshal(line, out); err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidResponse, err)
	}
	return nil
}

// mapRPCError sorts device-side failures: the event cache signals an empty
// wait with a message the caller must be able to branch on.
func mapRPCError(method, msg string) error {
	if isEventTimeoutMessage(msg) {
		return fmt.Errorf("%w: %s", ErrEventWaitTimeout, msg)
	}
	return fmt.Errorf("%w: %s: %s", ErrRPC, method, msg)
}

func isEventTimeoutMessage(msg string) bool {
	lower := strings.ToLower(msg)
	return strings.Contains(lower, "timed out") || strings.Contains(lower, "timeout")
}
