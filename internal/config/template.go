package config

import (
	"fmt"
	"os"
)

const labTemplate = `# rangectl lab configuration
name = "rangectl-lab"

# Optional status/metrics server; leave empty to disable.
status_addr = "127.0.0.1:8088"
cors_origins = ["http://localhost:5173"]

snippet_app_id = "multidevices.snippet.ranging"
country_code = "US"

[timeouts]
start = "3s"
stop = "6s"
peer_wait = "3s"
enable = "120s"
rpc = "10s"

[[devices]]
id = "initiator"
serial = "emulator-5554"
snippet_addr = "127.0.0.1:9911"
snippet_port = 62100
forward_port = 9911
address = [1, 2]

[[devices]]
id = "responder"
serial = "emulator-5556"
snippet_addr = "127.0.0.1:9912"
snippet_port = 62100
forward_port = 9912
address = [3, 4]

# Remote lab hosts reach adb over ssh:
# [devices.ssh]
# host = "lab-rack-2"
# port = "22"
# user = "lab"
# key_path = "~/.ssh/id_ed25519"
# known_hosts_path = "~/.ssh/known_hosts"
`

// WriteTemplate writes a starter lab config. Refuses to clobber an
// existing file unless force is set.
func WriteTemplate(path string, force bool) error {
	if !force {
		if _, err := os.Stat(path); err == nil {
			return fmt.Errorf("refusing to overwrite %s (use force)", path)
		}
	}
	if err := os.WriteFile(path, []byte(labTemplate), 0o644); err != nil {
		return fmt.Errorf("template write failed (%s): %w", path, err)
	}
	return nil
}
