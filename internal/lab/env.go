package lab

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/rs/zerolog/log"
)

var (
	ErrAirplaneModeStuck = errors.New("lab: airplane mode did not settle")
	ErrRangingDisabled   = errors.New("lab: uwb ranging not enabled")
)

// airplaneSettle bounds how long we poll adb for the airplane toggle to
// land after the snippet acknowledged the request.
const airplaneSettle = 3 * time.Second

// SetAirplaneMode flips airplane mode through the snippet and then confirms
// through adb settings that the toggle actually landed.
func SetAirplaneMode(ctx context.Context, node *Node, enabled bool) error {
	if err := node.Client.Call("setAirplaneMode", nil, enabled); err != nil {
		return fmt.Errorf("setAirplaneMode rpc on %s: %w", node.ID, err)
	}

	deadline := time.Now().Add(airplaneSettle)
	for {
		state, err := node.ADB.GetAirplaneMode()
		if err == nil && state == enabled {
			log.Debug().Str("device", node.ID).Bool("enabled", enabled).
				Msg("airplane mode settled")
			return nil
		}
		if time.Now().After(deadline) {
			return fmt.Errorf("%w: %s wanted %v", ErrAirplaneModeStuck, node.ID, enabled)
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(PollInterval):
		}
	}
}

// IsRangingEnabled asks the device whether the UWB stack is up.
func IsRangingEnabled(node *Node) (bool, error) {
	var enabled bool
	if err := node.Client.Call("isUwbEnabled", &enabled); err != nil {
		return false, fmt.Errorf("isUwbEnabled rpc on %s: %w", node.ID, err)
	}
	return enabled, nil
}

// WaitRangingEnabled polls until the UWB stack reports up or the budget is
// spent.
func WaitRangingEnabled(ctx context.Context, node *Node, timeout time.Duration) error {
	deadline := time.Now().Add(timeout)
	for {
		enabled, err := IsRangingEnabled(node)
		if err != nil {
			return err
		}
		if enabled {
			return nil
		}
		if time.Now().After(deadline) {
			return fmt.Errorf("%w: %s after %s", ErrRangingDisabled, node.ID, timeout)
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(PollInterval):
		}
	}
}

// EnsureCountryCode makes sure the regulatory state permits ranging. The
// stack normally comes up on its own; when it stays down past the budget we
// pin the country code over adb and wait once more. A second miss fails the
// run, no silent degradation.
func EnsureCountryCode(ctx context.Context, node *Node, code string, timeout time.Duration) error {
	if err := WaitRangingEnabled(ctx, node, timeout); err == nil {
		return nil
	} else if !errors.Is(err, ErrRangingDisabled) {
		return err
	}

	log.Warn().Str("device", node.ID).Str("country_code", code).
		Msg("uwb stack down, forcing country code")
	if err := node.ADB.ForceCountryCode(code); err != nil {
		return fmt.Errorf("force country code on %s: %w", node.ID, err)
	}
	return WaitRangingEnabled(ctx, node, timeout)
}

// SetSnippetForegroundState moves the snippet app between foreground and
// background, which changes how the stack throttles its ranging sessions.
func SetSnippetForegroundState(node *Node, appID string, foreground bool) error {
	return node.ADB.SimulateAppStateChange(appID, foreground)
}
