package adb

import (
	"fmt"
	"strconv"
	"strings"
)

// Device issues adb commands against one serial through a Runner.
type Device struct {
	serial string
	runner Runner
}

func NewDevice(serial string, runner Runner) *Device {
	if runner == nil {
		runner = LocalRunner{}
	}
	return &Device{serial: serial, runner: runner}
}

func (d *Device) Serial() string {
	return d.serial
}

// Shell runs `adb -s <serial> shell <args...>` and returns trimmed output.
func (d *Device) Shell(args ...string) (string, error) {
	full := append([]string{"-s", d.serial, "shell"}, args...)
	out, err := d.runner.Run("adb", full...)
	if err != nil {
		return "", fmt.Errorf("adb shell %s: %w (output: %s)", strings.Join(args, " "), err, strings.TrimSpace(out))
	}
	return strings.TrimSpace(out), nil
}

// Forward maps a host TCP port to a device TCP port for the snippet socket.
func (d *Device) Forward(hostPort, devicePort int) error {
	out, err := d.runner.Run("adb", "-s", d.serial, "forward",
		"tcp:"+strconv.Itoa(hostPort), "tcp:"+strconv.Itoa(devicePort))
	if err != nil {
		return fmt.Errorf("adb forward: %w (output: %s)", err, strings.TrimSpace(out))
	}
	return nil
}

func (d *Device) GetAirplaneMode() (bool, error) {
	out, err := d.Shell("settings", "get", "global", "airplane_mode_on")
	if err != nil {
		return false, err
	}
	state, err := strconv.Atoi(strings.TrimSpace(out))
	if err != nil {
		return false, fmt.Errorf("adb: unexpected airplane_mode_on value %q", out)
	}
	return state != 0, nil
}

func (d *Device) SetScreenRotationLandscape(landscape bool) error {
	if _, err := d.Shell("settings", "put", "system", "accelerometer_rotation", "0"); err != nil {
		return err
	}
	rotation := "0"
	if landscape {
		rotation = "1"
	}
	_, err := d.Shell("settings", "put", "system", "user_rotation", rotation)
	return err
}

// ForceCountryCode overrides the UWB regulatory country code. This relies on
// an unstable shell command on purpose: there is no stable API for it.
func (d *Device) ForceCountryCode(code string) error {
	_, err := d.Shell("cmd", "uwb", "force-country-code", "enabled", code)
	return err
}

// SimulateAppStateChange flips the snippet app between foreground and
// background as seen by the UWB service.
func (d *Device) SimulateAppStateChange(appID string, foreground bool) error {
	state := "background"
	if foreground {
		state = "foreground"
	}
	_, err := d.Shell("cmd", "uwb", "simulate-app-state-change", appID, state)
	return err
}
