package config

import (
	"fmt"
	"os"
	"strings"
)

const (
	KindServer = "server"
	KindClient = "client"
)

func Template(kind string) (string, error) {
	switch strings.ToLower(strings.TrimSpace(kind)) {
	case KindServer:
		return serverTemplate, nil
	case KindClient:
		return clientTemplate, nil
	default:
		return "", fmt.Errorf("unknown config kind: %s", kind)
	}
}

func WriteTemplate(path, kind string, overwrite bool) error {
	template, err := Template(kind)
	if err != nil {
		return err
	}
	if !overwrite {
		if _, err := os.Stat(path); err == nil {
			return fmt.Errorf("config already exists: %s", path)
		}
	}
	return os.WriteFile(path, []byte(template), 0o600)
}

// Validate loads path as the given kind and reports the first problem.
func Validate(path, kind string) error {
	switch strings.ToLower(strings.TrimSpace(kind)) {
	case KindServer:
		_, err := LoadServerConfig(path)
		return err
	case KindClient:
		_, err := LoadClientConfig(path)
		return err
	default:
		return fmt.Errorf("unknown config kind: %s", kind)
	}
}

const serverTemplate = `# idl = "contracts/kv.idl"   # omit to serve the built-in key/value contract
unit = "Messages"
listen = "127.0.0.1:7400"

[admin]
listen = "127.0.0.1:7401"
token = ""

[transport]
handshake_timeout = "5s"
read_timeout = "0s"
write_timeout = "15s"
max_payload_bytes = 8388608
security_mode = "development"

[transport.tls]
enabled = false
mutual = false
cert_file = ""
key_file = ""
ca_file = ""
`

const clientTemplate = `unit = "Messages"
addr = "127.0.0.1:7400"
timeout = "10s"

[transport]
connect_timeout = "5s"
handshake_timeout = "5s"
write_timeout = "15s"
max_connect_attempts = 5
max_payload_bytes = 8388608
security_mode = "development"

[transport.backoff]
initial = "250ms"
multiplier = 2.0
max = "5s"
jitter = true

[transport.tls]
enabled = false
mutual = false
cert_file = ""
key_file = ""
ca_file = ""
server_name = ""
insecure_skip_verify = false
`
