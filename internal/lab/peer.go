package lab

import (
	"errors"
	"fmt"
	"time"

	"github.com/danmuck/rangectl/internal/ranging"
)

// ErrPeerNotFound reports that no ranging report from the peer arrived
// within the overall wait budget.
var ErrPeerNotFound = errors.New("lab: peer not found")

// WaitForPeer retries IsPeerFound until the peer shows up or the budget is
// spent. One deadline covers the whole wait: each retry is handed only the
// remaining budget, so a slow device cannot stretch the total past timeout.
func WaitForPeer(dev *ranging.Device, peerAddr []byte, sessionID int, timeout time.Duration) error {
	deadline := time.Now().Add(timeout)
	for {
		remaining := time.Until(deadline)
		if remaining <= 0 {
			return fmt.Errorf("%w: %v on %s session %d after %s",
				ErrPeerNotFound, peerAddr, dev.Name(), sessionID, timeout)
		}
		found, err := dev.IsPeerFound(peerAddr, sessionID, remaining)
		if err != nil {
			return err
		}
		if found {
			return nil
		}
		// A report arrived but named a different peer. Breathe before the
		// next report so a chatty neighbor cannot spin this loop hot.
		time.Sleep(PollInterval)
	}
}
