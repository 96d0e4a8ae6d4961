package main

import (
	"bytes"
	"path/filepath"
	"strings"
	"testing"

	"github.com/danmuck/rbmirror/internal/testutil/testlog"
)

func TestWriteThenValidate(t *testing.T) {
	testlog.Start(t)
	path := filepath.Join(t.TempDir(), "mirror.toml")

	var out bytes.Buffer
	if err := run([]string{"--kind", "replay", "-o", path}, &out); err != nil {
		t.Fatalf("write template: %v", err)
	}
	if err := run([]string{"--kind", "replay", "-o", path}, &out); err == nil {
		t.Fatalf("expected existing file kept without --force")
	}
	if err := run([]string{"--kind", "mirror", "-o", path, "--force"}, &out); err != nil {
		t.Fatalf("overwrite template: %v", err)
	}
	if err := run([]string{"--validate", "-i", path, "--print"}, &out); err != nil {
		t.Fatalf("validate: %v", err)
	}
	if !strings.Contains(out.String(), "127.0.0.1:7300") {
		t.Fatalf("unexpected printed config: %s", out.String())
	}

	if err := run([]string{"--kind", "yaml", "-o", filepath.Join(t.TempDir(), "x.toml")}, &out); err == nil {
		t.Fatalf("expected unknown kind rejected")
	}
	if err := run([]string{"--validate", "-i", filepath.Join(t.TempDir(), "missing.toml")}, &out); err == nil {
		t.Fatalf("expected missing file rejected")
	}
}
