package config

import (
	"fmt"
	"os"
	"strings"
)

func Template(kind string) (string, error) {
	switch strings.ToLower(strings.TrimSpace(kind)) {
	case "mirror":
		return mirrorTemplate, nil
	case "replay":
		return replayTemplate, nil
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

const mirrorTemplate = `name = "rbmirror"
admin_addr = "127.0.0.1:7300"
admin_token = ""
log_level = "info"

[session]
inbox_depth = 64
outbox_depth = 256
compress_above = 16384

[limits]
max_payload_bytes = 8388608
max_string_bytes = 1048576
max_frames = 1048576
max_diffs = 65536
max_edits = 1048576
max_disposed = 65536
`

const replayTemplate = `name = "rbmirror-replay"
admin_addr = "127.0.0.1:7301"
replay = "batches.rbf"
log_level = "debug"
`
