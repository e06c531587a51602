// Package lab assembles the configured testbed: one adb handle, one snippet
// connection and one ranging decorator per configured phone, plus the
// device-environment helpers the test cases call between sessions.
package lab

import (
	"context"
	"fmt"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"golang.org/x/sync/errgroup"

	"github.com/danmuck/rangectl/internal/adb"
	"github.com/danmuck/rangectl/internal/config"
	"github.com/danmuck/rangectl/internal/ranging"
	"github.com/danmuck/rangectl/internal/snippet"
)

// Options tweaks registration, mostly so tests can substitute fakes.
type Options struct {
	// RunnerFactory supplies the command runner for a device. Nil picks
	// LocalRunner, or SSHRunner when the device configures ssh.
	RunnerFactory func(dev config.Device) adb.Runner
	// SnippetConfig overrides the dial settings. The RPC timeout from the
	// lab config is applied on top when set.
	SnippetConfig snippet.Config
}

// Node bundles the three per-phone handles the harness works with.
type Node struct {
	ID      string
	Address []byte
	ADB     *adb.Device
	Client  *snippet.Client
	Ranging *ranging.Device
}

type Lab struct {
	cfg   config.Lab
	nodes []*Node
	byID  map[string]*Node
	log   zerolog.Logger
}

// Register connects every configured device: sets up port forwarding where
// asked, dials the snippet server and wraps it in a ranging decorator with
// the configured wait budgets. Devices are dialed in parallel; any failure
// tears down the ones that already connected.
func Register(ctx context.Context, cfg config.Lab, opts Options) (*Lab, error) {
	if err := config.ValidateLab(cfg); err != nil {
		return nil, err
	}

	snipCfg := opts.SnippetConfig
	if rpc := cfg.Timeouts.RPC.Std(); rpc > 0 {
		snipCfg.RPCTimeout = rpc
	}

	nodes := make([]*Node, len(cfg.Devices))
	g, gctx := errgroup.WithContext(ctx)
	for i, dev := range cfg.Devices {
		i, dev := i, dev
		g.Go(func() error {
			node, err := connect(gctx, dev, cfg, snipCfg, opts.RunnerFactory)
			if err != nil {
				return fmt.Errorf("device %s: %w", dev.ID, err)
			}
			nodes[i] = node
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		for _, node := range nodes {
			if node != nil {
				node.Client.Close()
			}
		}
		return nil, err
	}

	l := &Lab{
		cfg:   cfg,
		nodes: nodes,
		byID:  make(map[string]*Node, len(nodes)),
		log:   log.With().Str("lab", cfg.Name).Logger(),
	}
	for _, node := range nodes {
		l.byID[node.ID] = node
	}
	l.log.Info().Int("devices", len(nodes)).Msg("lab registered")
	return l, nil
}

func connect(ctx context.Context, dev config.Device, cfg config.Lab,
	snipCfg snippet.Config, factory func(config.Device) adb.Runner) (*Node, error) {
	var runner adb.Runner
	switch {
	case factory != nil:
		runner = factory(dev)
	case dev.SSH != nil:
		runner = adb.SSHRunner{
			Host:                        dev.SSH.Host,
			Port:                        dev.SSH.Port,
			User:                        dev.SSH.User,
			KeyPath:                     dev.SSH.KeyPath,
			KnownHostsPath:              dev.SSH.KnownHostsPath,
			InsecureSkipHostKeyChecking: dev.SSH.InsecureSkipHostKeyChecking,
		}
	default:
		runner = adb.LocalRunner{}
	}

	adbDev := adb.NewDevice(dev.Serial, runner)
	if dev.ForwardPort != 0 {
		if err := adbDev.Forward(dev.ForwardPort, dev.SnippetPort); err != nil {
			return nil, fmt.Errorf("port forward: %w", err)
		}
	}

	client, err := snippet.Dial(ctx, dev.ID, dev.SnippetAddr, snipCfg)
	if err != nil {
		return nil, err
	}

	rangingDev := ranging.NewDevice(dev.ID, ranging.ClientRPC{Client: client})
	rangingDev.SetWaitBudgets(cfg.Timeouts.Start.Std(), cfg.Timeouts.Stop.Std())

	return &Node{
		ID:      dev.ID,
		Address: addressBytes(dev.Address),
		ADB:     adbDev,
		Client:  client,
		Ranging: rangingDev,
	}, nil
}

func addressBytes(addr []int) []byte {
	out := make([]byte, len(addr))
	for i, v := range addr {
		out[i] = byte(v)
	}
	return out
}

// Close clears any leftover sessions and drops every snippet connection.
func (l *Lab) Close() error {
	var firstErr error
	for _, node := range l.nodes {
		node.Ranging.ClearAllSessions()
		if err := node.Client.Close(); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	return firstErr
}

func (l *Lab) Config() config.Lab {
	return l.cfg
}

func (l *Lab) Nodes() []*Node {
	return l.nodes
}

func (l *Lab) Node(id string) (*Node, bool) {
	node, ok := l.byID[id]
	return node, ok
}

// Initiator is the first configured device; Responder the second. The
// two-phone cases are written against these roles.
func (l *Lab) Initiator() *Node {
	return l.nodes[0]
}

func (l *Lab) Responder() *Node {
	return l.nodes[1]
}

// PollInterval paces the environment polling loops below and the peer wait.
const PollInterval = 100 * time.Millisecond
