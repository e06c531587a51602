package adb

import (
	"errors"
	"strings"
	"testing"

	"github.com/danmuck/rangectl/internal/testutil/testlog"
)

type scriptedRunner struct {
	calls   []string
	outputs map[string]string
	err     error
}

func (r *scriptedRunner) Run(cmd string, args ...string) (string, error) {
	call := cmd + " " + strings.Join(args, " ")
	r.calls = append(r.calls, call)
	if r.err != nil {
		return "", r.err
	}
	for prefix, out := range r.outputs {
		if strings.Contains(call, prefix) {
			return out, nil
		}
	}
	return "", nil
}

func TestShellTargetsSerial(t *testing.T) {
	testlog.Start(t)

	runner := &scriptedRunner{outputs: map[string]string{"echo": "hello\n"}}
	dev := NewDevice("R5CT1000", runner)

	out, err := dev.Shell("echo", "hello")
	if err != nil {
		t.Fatalf("shell: %v", err)
	}
	if out != "hello" {
		t.Fatalf("unexpected output: %q", out)
	}
	if len(runner.calls) != 1 {
		t.Fatalf("expected one call, got %d", len(runner.calls))
	}
	if want := "adb -s R5CT1000 shell echo hello"; runner.calls[0] != want {
		t.Fatalf("unexpected call: %q", runner.calls[0])
	}
}

func TestGetAirplaneMode(t *testing.T) {
	testlog.Start(t)

	runner := &scriptedRunner{outputs: map[string]string{"airplane_mode_on": "1\n"}}
	dev := NewDevice("serial-a", runner)

	on, err := dev.GetAirplaneMode()
	if err != nil {
		t.Fatalf("get airplane mode: %v", err)
	}
	if !on {
		t.Fatalf("expected airplane mode on")
	}

	runner.outputs["airplane_mode_on"] = "0"
	on, err = dev.GetAirplaneMode()
	if err != nil {
		t.Fatalf("get airplane mode: %v", err)
	}
	if on {
		t.Fatalf("expected airplane mode off")
	}
}

func TestGetAirplaneModeRejectsGarbage(t *testing.T) {
	testlog.Start(t)

	runner := &scriptedRunner{outputs: map[string]string{"airplane_mode_on": "null"}}
	dev := NewDevice("serial-a", runner)

	if _, err := dev.GetAirplaneMode(); err == nil {
		t.Fatalf("expected parse error")
	}
}

func TestShellPropagatesRunnerError(t *testing.T) {
	testlog.Start(t)

	bang := errors.New("device offline")
	dev := NewDevice("serial-a", &scriptedRunner{err: bang})

	if _, err := dev.Shell("ls"); !errors.Is(err, bang) {
		t.Fatalf("expected wrapped runner error, got %v", err)
	}
}

func TestSimulateAppStateChange(t *testing.T) {
	testlog.Start(t)

	runner := &scriptedRunner{}
	dev := NewDevice("serial-a", runner)

	if err := dev.SimulateAppStateChange("multidevices.snippet.ranging", false); err != nil {
		t.Fatalf("simulate app state: %v", err)
	}
	want := "adb -s serial-a shell cmd uwb simulate-app-state-change multidevices.snippet.ranging background"
	if runner.calls[0] != want {
		t.Fatalf("unexpected call: %q", runner.calls[0])
	}
}

func TestJoinCommandEscapes(t *testing.T) {
	testlog.Start(t)

	got := joinCommand("adb", []string{"shell", "echo", "it's"})
	if want := `'adb' 'shell' 'echo' 'it'"'"'s'`; got != want {
		t.Fatalf("unexpected join: %q", got)
	}
}
