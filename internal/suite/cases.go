package suite

import (
	"context"
	"errors"
	"fmt"

	"golang.org/x/sync/errgroup"

	"github.com/danmuck/rangectl/internal/lab"
	"github.com/danmuck/rangectl/internal/ranging"
)

// Session ids are fixed per case so leaked sessions are attributable in
// device logs.
const (
	sessionOneToOne     = 5
	sessionMulticast    = 6
	sessionNeverStarted = 7
	sessionNtfDisable   = 8
	sessionStopOneSide  = 9
	sessionSweepBase    = 20
)

// Cases returns the full registered scenario list in execution order.
func Cases() []Case {
	return []Case{
		{Name: "one_to_one_ranging", Run: runOneToOne},
		{Name: "provisioned_multicast_ranging", Run: runProvisionedMulticast},
		{Name: "range_data_ntf_disable", Run: runRangeDataNtfDisable},
		{Name: "stop_responder_only", Run: runStopResponderOnly},
		{Name: "stop_never_started_session", Run: runStopNeverStarted},
		{Name: "update_rate_sweep", Run: runUpdateRateSweep},
	}
}

// startPair brings both endpoints of a session up in parallel and joins
// before any assertion runs, since neither side reports Started until its
// peer configuration is accepted.
func startPair(initiator, responder *lab.Node, initParams, respParams ranging.SessionParams) error {
	var g errgroup.Group
	g.Go(func() error { return initiator.Ranging.StartSession(initParams) })
	g.Go(func() error { return responder.Ranging.StartSession(respParams) })
	return g.Wait()
}

func stopPair(initiator, responder *lab.Node, sessionID int) error {
	if err := initiator.Ranging.StopSession(sessionID); err != nil {
		return err
	}
	return responder.Ranging.StopSession(sessionID)
}

func pairParams(configType ranging.ConfigType, sessionID int,
	initiator, responder *lab.Node) (ranging.SessionParams, ranging.SessionParams) {
	initParams := ranging.NewSessionParams(configType, sessionID, ranging.DeviceController,
		initiator.Address, [][]byte{responder.Address})
	respParams := ranging.NewSessionParams(configType, sessionID, ranging.DeviceControlee,
		responder.Address, [][]byte{initiator.Address})
	return initParams, respParams
}

// runOneToOne ranges a single controller/controlee pair and requires both
// sides to see each other's reports.
func runOneToOne(ctx context.Context, l *lab.Lab) error {
	initiator, responder := l.Initiator(), l.Responder()
	peerWait := l.Config().Timeouts.PeerWait.Std()

	initParams, respParams := pairParams(ranging.ConfigProvisionedUnicastDSTWR,
		sessionOneToOne, initiator, responder)
	if err := startPair(initiator, responder, initParams, respParams); err != nil {
		return err
	}

	if err := lab.WaitForPeer(initiator.Ranging, responder.Address, sessionOneToOne, peerWait); err != nil {
		return fmt.Errorf("initiator: %w", err)
	}
	if err := lab.WaitForPeer(responder.Ranging, initiator.Address, sessionOneToOne, peerWait); err != nil {
		return fmt.Errorf("responder: %w", err)
	}
	return stopPair(initiator, responder, sessionOneToOne)
}

// runProvisionedMulticast uses the provisioned multicast profile with a
// dedicated sub-session key on the controlee side.
func runProvisionedMulticast(ctx context.Context, l *lab.Lab) error {
	initiator, responder := l.Initiator(), l.Responder()
	peerWait := l.Config().Timeouts.PeerWait.Std()

	initParams, respParams := pairParams(ranging.ConfigProvisionedIndividualMulticastDSTWR,
		sessionMulticast, initiator, responder)
	respParams.Update(map[string]any{
		"subSessionId":      2,
		"subSessionKeyInfo": []int{8, 7, 6, 5, 4, 3, 2, 1, 1, 2, 3, 4, 5, 6, 7, 8},
	})

	if err := startPair(initiator, responder, initParams, respParams); err != nil {
		return err
	}
	if err := lab.WaitForPeer(initiator.Ranging, responder.Address, sessionMulticast, peerWait); err != nil {
		return fmt.Errorf("initiator: %w", err)
	}
	if err := lab.WaitForPeer(responder.Ranging, initiator.Address, sessionMulticast, peerWait); err != nil {
		return fmt.Errorf("responder: %w", err)
	}
	return stopPair(initiator, responder, sessionMulticast)
}

// runRangeDataNtfDisable disables range-data notifications on the initiator
// only. The responder must keep receiving reports while the initiator must
// see none, which proves the flag gates notifications per endpoint rather
// than per session.
func runRangeDataNtfDisable(ctx context.Context, l *lab.Lab) error {
	initiator, responder := l.Initiator(), l.Responder()
	peerWait := l.Config().Timeouts.PeerWait.Std()

	initParams, respParams := pairParams(ranging.ConfigProvisionedUnicastDSTWR,
		sessionNtfDisable, initiator, responder)
	initParams.Update(map[string]any{
		"rangeDataConfigType": int(ranging.RangeDataDisable),
	})

	if err := startPair(initiator, responder, initParams, respParams); err != nil {
		return err
	}

	if err := lab.WaitForPeer(responder.Ranging, initiator.Address, sessionNtfDisable, peerWait); err != nil {
		return fmt.Errorf("responder lost reports: %w", err)
	}
	err := lab.WaitForPeer(initiator.Ranging, responder.Address, sessionNtfDisable, peerWait)
	if err == nil {
		return errors.New("initiator received reports despite disabled notifications")
	}
	if !errors.Is(err, lab.ErrPeerNotFound) {
		return fmt.Errorf("initiator: %w", err)
	}
	return stopPair(initiator, responder, sessionNtfDisable)
}

// runStopResponderOnly tears down only the responder side. The responder
// must observe its Stopped callback within the stop budget while the
// initiator keeps its session registered; once the peer is gone the
// initiator's peer wait must come up empty.
func runStopResponderOnly(ctx context.Context, l *lab.Lab) error {
	initiator, responder := l.Initiator(), l.Responder()
	peerWait := l.Config().Timeouts.PeerWait.Std()

	initParams, respParams := pairParams(ranging.ConfigProvisionedUnicastDSTWR,
		sessionStopOneSide, initiator, responder)
	if err := startPair(initiator, responder, initParams, respParams); err != nil {
		return err
	}
	if err := lab.WaitForPeer(initiator.Ranging, responder.Address, sessionStopOneSide, peerWait); err != nil {
		return fmt.Errorf("before stop: %w", err)
	}

	if err := responder.Ranging.StopSession(sessionStopOneSide); err != nil {
		return fmt.Errorf("responder stop: %w", err)
	}
	if ids := initiator.Ranging.SessionIDs(); len(ids) != 1 {
		return fmt.Errorf("initiator sessions after peer stop: %v", ids)
	}

	err := lab.WaitForPeer(initiator.Ranging, responder.Address, sessionStopOneSide, peerWait)
	if err == nil {
		return errors.New("initiator still sees the peer after its stop")
	}
	if !errors.Is(err, lab.ErrPeerNotFound) {
		return fmt.Errorf("initiator after stop: %w", err)
	}
	return initiator.Ranging.StopSession(sessionStopOneSide)
}

// runStopNeverStarted stops a session id that was never started and
// requires the decorator to refuse locally instead of issuing the RPC.
func runStopNeverStarted(ctx context.Context, l *lab.Lab) error {
	err := l.Initiator().Ranging.StopSession(sessionNeverStarted)
	if err == nil {
		return errors.New("stop of unknown session id succeeded")
	}
	if !errors.Is(err, ranging.ErrSessionNotFound) {
		return fmt.Errorf("unexpected stop failure: %w", err)
	}
	return nil
}

// runUpdateRateSweep ranges once per supported update rate, mutating the
// base parameters through the wire-keyed update path.
func runUpdateRateSweep(ctx context.Context, l *lab.Lab) error {
	initiator, responder := l.Initiator(), l.Responder()
	peerWait := l.Config().Timeouts.PeerWait.Std()

	rates := []ranging.UpdateRate{
		ranging.UpdateRateAutomatic,
		ranging.UpdateRateInfrequent,
		ranging.UpdateRateFrequent,
	}
	for i, rate := range rates {
		sessionID := sessionSweepBase + i
		initParams, respParams := pairParams(ranging.ConfigProvisionedUnicastDSTWR,
			sessionID, initiator, responder)
		update := map[string]any{"updateRateType": int(rate)}
		initParams.Update(update)
		respParams.Update(update)

		if err := startPair(initiator, responder, initParams, respParams); err != nil {
			return fmt.Errorf("rate %d: %w", rate, err)
		}
		if err := lab.WaitForPeer(initiator.Ranging, responder.Address, sessionID, peerWait); err != nil {
			return fmt.Errorf("rate %d: %w", rate, err)
		}
		if err := stopPair(initiator, responder, sessionID); err != nil {
			return fmt.Errorf("rate %d: %w", rate, err)
		}
	}
	return nil
}
