package config

import (
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/BurntSushi/toml"
)

const (
	DefaultSnippetAppID = "multidevices.snippet.ranging"
	DefaultCountryCode  = "US"
)

// Duration parses TOML duration strings like "3s" or "500ms".
type Duration time.Duration

func (d *Duration) UnmarshalText(text []byte) error {
	parsed, err := time.ParseDuration(string(text))
	if err != nil {
		return err
	}
	*d = Duration(parsed)
	return nil
}

func (d Duration) Std() time.Duration {
	return time.Duration(d)
}

// Lab describes the device testbed a harness run drives.
type Lab struct {
	Name         string    `toml:"name"`
	StatusAddr   string    `toml:"status_addr"`
	CorsOrigins  []string  `toml:"cors_origins"`
	SnippetAppID string    `toml:"snippet_app_id"`
	CountryCode  string    `toml:"country_code"`
	CaseFilter   string    `toml:"case_filter"`
	Devices      []Device  `toml:"devices"`
	Timeouts     Timeouts  `toml:"timeouts"`
}

type Device struct {
	ID          string `toml:"id"`
	Serial      string `toml:"serial"`
	SnippetAddr string `toml:"snippet_addr"`
	// When both ports are set, the harness forwards host ForwardPort to
	// device SnippetPort before dialing.
	SnippetPort int   `toml:"snippet_port"`
	ForwardPort int   `toml:"forward_port"`
	Address     []int `toml:"address"`
	SSH         *SSH  `toml:"ssh"`
}

// SSH points adb at a remote lab host instead of the local workstation.
type SSH struct {
	Host                        string `toml:"host"`
	Port                        string `toml:"port"`
	User                        string `toml:"user"`
	KeyPath                     string `toml:"key_path"`
	KnownHostsPath              string `toml:"known_hosts_path"`
	InsecureSkipHostKeyChecking bool   `toml:"insecure_skip_host_key_checking"`
}

type Timeouts struct {
	Start    Duration `toml:"start"`
	Stop     Duration `toml:"stop"`
	PeerWait Duration `toml:"peer_wait"`
	Enable   Duration `toml:"enable"`
	RPC      Duration `toml:"rpc"`
}

func defaultLab() Lab {
	return Lab{
		Name:         "rangectl-lab",
		SnippetAppID: DefaultSnippetAppID,
		CountryCode:  DefaultCountryCode,
		Timeouts: Timeouts{
			Start:    Duration(3 * time.Second),
			Stop:     Duration(6 * time.Second),
			PeerWait: Duration(3 * time.Second),
			Enable:   Duration(120 * time.Second),
			RPC:      Duration(10 * time.Second),
		},
	}
}

func LoadLab(path string) (Lab, error) {
	cfg := defaultLab()

	data, err := os.ReadFile(path)
	if err != nil {
		return Lab{}, fmt.Errorf("config load failed (%s): %w", path, err)
	}
	var raw Lab
	meta, err := toml.Decode(string(data), &raw)
	if err != nil {
		return Lab{}, fmt.Errorf("config parse failed (%s): %w", path, err)
	}

	if meta.IsDefined("name") {
		cfg.Name = strings.TrimSpace(raw.Name)
	}
	if meta.IsDefined("status_addr") {
		cfg.StatusAddr = strings.TrimSpace(raw.StatusAddr)
	}
	if meta.IsDefined("cors_origins") {
		cfg.CorsOrigins = raw.CorsOrigins
	}
	if meta.IsDefined("snippet_app_id") {
		cfg.SnippetAppID = strings.TrimSpace(raw.SnippetAppID)
	}
	if meta.IsDefined("country_code") {
		cfg.CountryCode = strings.TrimSpace(raw.CountryCode)
	}
	if meta.IsDefined("case_filter") {
		cfg.CaseFilter = strings.TrimSpace(raw.CaseFilter)
	}
	if meta.IsDefined("devices") {
		cfg.Devices = raw.Devices
	}
	if meta.IsDefined("timeouts", "start") {
		cfg.Timeouts.Start = raw.Timeouts.Start
	}
	if meta.IsDefined("timeouts", "stop") {
		cfg.Timeouts.Stop = raw.Timeouts.Stop
	}
	if meta.IsDefined("timeouts", "peer_wait") {
		cfg.Timeouts.PeerWait = raw.Timeouts.PeerWait
	}
	if meta.IsDefined("timeouts", "enable") {
		cfg.Timeouts.Enable = raw.Timeouts.Enable
	}
	if meta.IsDefined("timeouts", "rpc") {
		cfg.Timeouts.RPC = raw.Timeouts.RPC
	}

	if err := ValidateLab(cfg); err != nil {
		return Lab{}, err
	}
	return cfg, nil
}

func ValidateLab(cfg Lab) error {
	if strings.TrimSpace(cfg.Name) == "" {
		return fmt.Errorf("lab config missing name")
	}
	if len(cfg.Devices) < 2 {
		return fmt.Errorf("lab config needs at least 2 devices, found %d", len(cfg.Devices))
	}
	seenIDs := make(map[string]bool)
	for i, dev := range cfg.Devices {
		if err := validateDevice(dev); err != nil {
			return fmt.Errorf("devices[%d] invalid: %w", i, err)
		}
		if seenIDs[dev.ID] {
			return fmt.Errorf("devices[%d] invalid: duplicate id %q", i, dev.ID)
		}
		seenIDs[dev.ID] = true
	}
	return nil
}

func validateDevice(dev Device) error {
	if strings.TrimSpace(dev.ID) == "" {
		return fmt.Errorf("id is required")
	}
	if strings.TrimSpace(dev.SnippetAddr) == "" {
		return fmt.Errorf("snippet_addr is required")
	}
	if len(dev.Address) == 0 {
		return fmt.Errorf("address is required")
	}
	for _, b := range dev.Address {
		if b < 0 || b > 255 {
			return fmt.Errorf("address bytes must be 0..255, got %d", b)
		}
	}
	if (dev.SnippetPort == 0) != (dev.ForwardPort == 0) {
		return fmt.Errorf("snippet_port and forward_port must be set together")
	}
	if dev.ForwardPort != 0 && strings.TrimSpace(dev.Serial) == "" {
		return fmt.Errorf("serial is required when forwarding ports")
	}
	if dev.SSH != nil && strings.TrimSpace(dev.SSH.Host) == "" {
		return fmt.Errorf("ssh host is required when ssh is configured")
	}
	return nil
}
