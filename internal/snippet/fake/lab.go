package fake

import (
	"sync"
)

// Lab links fake devices into one shared radio environment so both ends of
// a ranging session observe consistent peer state.
type Lab struct {
	mu       sync.Mutex
	sessions map[string]map[int]labSession
}

type labSession struct {
	deviceAddress []int
}

func NewLab() *Lab {
	return &Lab{sessions: make(map[string]map[int]labSession)}
}

func (l *Lab) register(device string, id int, deviceAddress []int) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.sessions[device] == nil {
		l.sessions[device] = make(map[int]labSession)
	}
	l.sessions[device][id] = labSession{deviceAddress: deviceAddress}
}

func (l *Lab) unregister(device string, id int) {
	l.mu.Lock()
	defer l.mu.Unlock()
	delete(l.sessions[device], id)
}

// peerActive reports whether some other device has a live session with the
// same session id and the given short address.
func (l *Lab) peerActive(device string, id int, addr []int) bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	for other, sessions := range l.sessions {
		if other == device {
			continue
		}
		s, ok := sessions[id]
		if ok && equalAddr(s.deviceAddress, addr) {
			return true
		}
	}
	return false
}

func (l *Lab) anyPeerActive(device string, id int, addrs [][]int) bool {
	for _, addr := range addrs {
		if l.peerActive(device, id, addr) {
			return true
		}
	}
	return false
}

func equalAddr(a, b []int) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if a[i] != b[i] {
			return false
		}
	}
	return true
}
