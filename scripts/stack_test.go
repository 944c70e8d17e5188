package scripts

import (
	"bytes"
	"os/exec"
	"path/filepath"
	"runtime"
	"strings"
	"testing"
)

func TestStackScriptDryRunUp(t *testing.T) {
	out, stderr, err := runStack(t, "up", "--dry-run")
	if err != nil {
		t.Fatalf("stack up dry-run failed: %v\nstdout:\n%s\nstderr:\n%s", err, out, stderr)
	}
	for _, token := range []string{
		"[dry-run] docker compose",
		"[dry-run] cd",
		"seed-lake --replace",
		"[dry-run] nohup env",
		"QUERYGATE_LAKE_ENABLED=true",
		"stack is up",
	} {
		if !strings.Contains(out, token) {
			t.Fatalf("output missing %q\noutput:\n%s", token, out)
		}
	}
}

func TestStackScriptDryRunDown(t *testing.T) {
	out, stderr, err := runStack(t, "down", "--dry-run")
	if err != nil {
		t.Fatalf("stack down dry-run failed: %v\nstdout:\n%s\nstderr:\n%s", err, out, stderr)
	}
	for _, token := range []string{
		"[dry-run] cd",
		"[dry-run] docker compose",
		"stack is down",
	} {
		if !strings.Contains(out, token) {
			t.Fatalf("output missing %q\noutput:\n%s", token, out)
		}
	}
}

func TestStackScriptUnknownCommand(t *testing.T) {
	_, stderr, err := runStack(t, "not-a-command")
	if err == nil {
		t.Fatal("expected non-zero exit for unknown command")
	}
	if !strings.Contains(stderr, "unknown command") {
		t.Fatalf("stderr missing unknown command message:\n%s", stderr)
	}
}

func TestStackScriptUnknownArgument(t *testing.T) {
	_, stderr, err := runStack(t, "up", "--not-a-real-flag")
	if err == nil {
		t.Fatal("expected non-zero exit for unknown flag")
	}
	if !strings.Contains(stderr, "unknown argument") {
		t.Fatalf("stderr missing unknown argument message:\n%s", stderr)
	}
}

func runStack(t *testing.T, args ...string) (string, string, error) {
	t.Helper()
	_, thisFile, _, ok := runtime.Caller(0)
	if !ok {
		t.Fatal("runtime.Caller failed")
	}
	scriptPath := filepath.Join(filepath.Dir(thisFile), "stack.sh")

	cmd := exec.Command("bash", append([]string{scriptPath}, args...)...)
	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr
	err := cmd.Run()
	return stdout.String(), stderr.String(), err
}
