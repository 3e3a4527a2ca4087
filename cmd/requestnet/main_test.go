package main

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"testing"
	"time"

	"github.com/mattjoyce/requestnet/internal/ledger"
	"github.com/mattjoyce/requestnet/internal/storage"
	"github.com/mattjoyce/requestnet/pkg/dispatch"
	"github.com/mattjoyce/requestnet/pkg/schema"
	"github.com/mattjoyce/requestnet/pkg/webhook"
)

const (
	cliSecret = "whsec_cli"
	cliBody   = `{"event":"payment.confirmed","requestId":"req-cli"}`
)

func captureOutputWithExitCode(t *testing.T, run func() int) (int, string, string) {
	t.Helper()

	oldStdout := os.Stdout
	oldStderr := os.Stderr

	stdoutR, stdoutW, err := os.Pipe()
	if err != nil {
		t.Fatalf("os.Pipe stdout failed: %v", err)
	}
	stderrR, stderrW, err := os.Pipe()
	if err != nil {
		t.Fatalf("os.Pipe stderr failed: %v", err)
	}

	os.Stdout = stdoutW
	os.Stderr = stderrW

	code := run()

	_ = stdoutW.Close()
	_ = stderrW.Close()
	os.Stdout = oldStdout
	os.Stderr = oldStderr

	stdoutBytes, _ := io.ReadAll(stdoutR)
	stderrBytes, _ := io.ReadAll(stderrR)
	_ = stdoutR.Close()
	_ = stderrR.Close()

	return code, string(stdoutBytes), string(stderrBytes)
}

func runCaptured(t *testing.T, args ...string) (int, string, string) {
	t.Helper()
	return captureOutputWithExitCode(t, func() int { return runCLI(args) })
}

func writeTemp(t *testing.T, name, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), name)
	if err := os.WriteFile(path, []byte(content), 0o600); err != nil {
		t.Fatal(err)
	}
	return path
}

func TestRunCLIUsage(t *testing.T) {
	code, _, stderr := runCaptured(t)
	if code != 1 || !strings.Contains(stderr, "Usage:") {
		t.Fatalf("no args: code=%d stderr=%q", code, stderr)
	}

	code, stdout, _ := runCaptured(t, "help")
	if code != 0 || !strings.Contains(stdout, "deliveries list") {
		t.Fatalf("help: code=%d stdout=%q", code, stdout)
	}

	code, _, stderr = runCaptured(t, "bogus")
	if code != 1 || !strings.Contains(stderr, "Unknown command: bogus") {
		t.Fatalf("unknown: code=%d stderr=%q", code, stderr)
	}
}

func TestRunVersionJSON(t *testing.T) {
	code, stdout, stderr := runCaptured(t, "version", "--json")
	if code != 0 {
		t.Fatalf("code=%d stderr=%s", code, stderr)
	}
	var info versionInfo
	if err := json.Unmarshal([]byte(stdout), &info); err != nil {
		t.Fatalf("invalid JSON %q: %v", stdout, err)
	}
	if info.Version == "" || info.Commit == "" || info.BuildTime == "" {
		t.Fatalf("incomplete version info: %+v", info)
	}
}

func TestRunSign(t *testing.T) {
	payload := writeTemp(t, "payload.json", cliBody)
	want := webhook.Sign([]byte(cliBody), cliSecret)

	code, stdout, stderr := runCaptured(t, "sign", "--secret", cliSecret, "--file", payload)
	if code != 0 {
		t.Fatalf("code=%d stderr=%s", code, stderr)
	}
	if strings.TrimSpace(stdout) != want {
		t.Fatalf("signature = %q, want %q", stdout, want)
	}

	_, stdout, _ = runCaptured(t, "sign", "--secret", cliSecret, "--file", payload, "--prefix")
	if strings.TrimSpace(stdout) != "sha256="+want {
		t.Fatalf("prefixed signature = %q", stdout)
	}

	code, _, _ = runCaptured(t, "sign", "--file", payload)
	if code != 1 {
		t.Fatalf("missing secret should fail, got %d", code)
	}
}

func TestRunVerify(t *testing.T) {
	payload := writeTemp(t, "payload.json", cliBody)
	sig := webhook.Sign([]byte(cliBody), cliSecret)

	tests := []struct {
		name     string
		args     []string
		wantCode int
		wantOut  string
	}{
		{
			name:     "valid",
			args:     []string{"--secret", cliSecret, "--signature", sig},
			wantCode: 0,
			wantOut:  "VALID: matched secret #0",
		},
		{
			name:     "rotated secret",
			args:     []string{"--secret", "old", "--secret", cliSecret, "--signature", "sha256=" + sig},
			wantCode: 0,
			wantOut:  "matched secret #1",
		},
		{
			name:     "wrong secret",
			args:     []string{"--secret", "other", "--signature", sig},
			wantCode: 1,
			wantOut:  "INVALID",
		},
		{
			name:     "parse mode",
			args:     []string{"--secret", cliSecret, "--signature", sig, "--parse"},
			wantCode: 0,
			wantOut:  "VALID: payment.confirmed",
		},
		{
			name:     "stale timestamp",
			args:     []string{"--secret", cliSecret, "--signature", sig, "--timestamp", "1000", "--tolerance", "5m"},
			wantCode: 1,
			wantOut:  "INVALID",
		},
		{
			name: "fresh seconds timestamp",
			args: []string{"--secret", cliSecret, "--signature", sig,
				"--timestamp", strconv.FormatInt(time.Now().Unix(), 10), "--tolerance", "5m", "--timestamp-unit", "seconds"},
			wantCode: 0,
			wantOut:  "VALID",
		},
		{
			name:     "tolerance without timestamp",
			args:     []string{"--secret", cliSecret, "--signature", sig, "--tolerance", "5m"},
			wantCode: 1,
			wantOut:  "--tolerance requires --timestamp",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			args := append([]string{"verify", "--file", payload}, tt.args...)
			code, stdout, stderr := runCaptured(t, args...)
			if code != tt.wantCode {
				t.Fatalf("code = %d, want %d (stdout=%q stderr=%q)", code, tt.wantCode, stdout, stderr)
			}
			if !strings.Contains(stdout+stderr, tt.wantOut) {
				t.Fatalf("output missing %q: stdout=%q stderr=%q", tt.wantOut, stdout, stderr)
			}
		})
	}
}

func TestRunSendSignsBody(t *testing.T) {
	payload := writeTemp(t, "payload.json", cliBody)

	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		body, _ := io.ReadAll(r.Body)
		if _, err := webhook.Verify(webhook.VerifyOptions{
			RawBody:         body,
			Headers:         r.Header,
			Secrets:         []string{cliSecret},
			TimestampHeader: "x-request-network-timestamp",
			Tolerance:       time.Minute,
		}); err != nil {
			w.WriteHeader(http.StatusUnauthorized)
			return
		}
		w.WriteHeader(http.StatusAccepted)
		_, _ = w.Write([]byte(`{"event":"payment.confirmed"}`))
	}))
	defer ts.Close()

	code, stdout, stderr := runCaptured(t, "send", "--url", ts.URL, "--secret", cliSecret,
		"--file", payload, "--timestamp-header", "x-request-network-timestamp")
	if code != 0 {
		t.Fatalf("code=%d stdout=%q stderr=%q", code, stdout, stderr)
	}
	if !strings.HasPrefix(stdout, "202 Accepted") {
		t.Fatalf("unexpected status line: %q", stdout)
	}

	code, stdout, _ = runCaptured(t, "send", "--url", ts.URL, "--secret", "wrong", "--file", payload)
	if code != 1 || !strings.HasPrefix(stdout, "401") {
		t.Fatalf("wrong secret: code=%d stdout=%q", code, stdout)
	}
}

func TestRunEvents(t *testing.T) {
	code, stdout, _ := runCaptured(t, "events", "--json")
	if code != 0 {
		t.Fatalf("code=%d", code)
	}
	var names []string
	if err := json.Unmarshal([]byte(stdout), &names); err != nil {
		t.Fatalf("invalid JSON: %v", err)
	}
	if len(names) != len(schema.Default().Events()) {
		t.Fatalf("events = %v", names)
	}
	if !strings.Contains(stdout, schema.EventComplianceUpdated) {
		t.Fatalf("missing compliance.updated: %s", stdout)
	}
}

func TestRunConfigCheckAndLock(t *testing.T) {
	dir := t.TempDir()
	cfgPath := filepath.Join(dir, "config.yaml")
	cfgYAML := `
webhook:
  secrets:
    - ${REQUESTNET_TEST_SECRET}
state:
  path: ` + filepath.Join(dir, "deliveries.db") + `
`
	if err := os.WriteFile(cfgPath, []byte(cfgYAML), 0o600); err != nil {
		t.Fatal(err)
	}
	t.Setenv("REQUESTNET_TEST_SECRET", "whsec_from_env")

	code, stdout, stderr := runCaptured(t, "config", "check", "--config", dir)
	if code != 0 {
		t.Fatalf("check: code=%d stderr=%s", code, stderr)
	}
	if !strings.Contains(stdout, "Configuration valid (") || !strings.Contains(stdout, "webhook.timestamp_header") {
		t.Fatalf("check output: %s", stdout)
	}

	code, _, _ = runCaptured(t, "config", "check", "--config", dir, "--strict")
	if code != 1 {
		t.Fatalf("strict check with warnings should fail, got %d", code)
	}

	code, stdout, _ = runCaptured(t, "config", "show", "--config", cfgPath)
	if code != 0 || strings.Contains(stdout, "whsec_from_env") || !strings.Contains(stdout, "<secret #0>") {
		t.Fatalf("show leaked or failed: code=%d stdout=%s", code, stdout)
	}

	code, stdout, stderr = runCaptured(t, "config", "lock", "--config", dir)
	if code != 0 || !strings.Contains(stdout, "Locked") {
		t.Fatalf("lock: code=%d stdout=%s stderr=%s", code, stdout, stderr)
	}

	if err := os.WriteFile(cfgPath, []byte(cfgYAML+"\nservice:\n  log_level: debug\n"), 0o600); err != nil {
		t.Fatal(err)
	}
	code, _, stderr = runCaptured(t, "config", "check", "--config", cfgPath)
	if code != 1 || !strings.Contains(stderr, "hash mismatch") {
		t.Fatalf("tampered check: code=%d stderr=%s", code, stderr)
	}
}

func TestRunConfigLockRefusesInvalid(t *testing.T) {
	cfgPath := writeTemp(t, "config.yaml", "webhook:\n  path: no-slash\n")
	code, _, stderr := runCaptured(t, "config", "lock", "--config", cfgPath)
	if code != 1 || !strings.Contains(stderr, "Refusing to lock") {
		t.Fatalf("code=%d stderr=%s", code, stderr)
	}
	if _, err := os.Stat(filepath.Join(filepath.Dir(cfgPath), ".checksums")); !os.IsNotExist(err) {
		t.Fatalf("checksums written for invalid config: %v", err)
	}
}

func TestRunDeliveriesListAndShow(t *testing.T) {
	dbPath := filepath.Join(t.TempDir(), "deliveries.db")
	ctx := context.Background()
	db, err := storage.OpenSQLite(ctx, dbPath)
	if err != nil {
		t.Fatalf("OpenSQLite: %v", err)
	}
	d, err := ledger.New(db).Record(ctx, ledger.RecordRequest{
		Event:       schema.EventPaymentConfirmed,
		RequestID:   "req-cli",
		Fingerprint: "abc",
		Verified:    true,
		Payload:     json.RawMessage(cliBody),
	})
	if err != nil {
		t.Fatalf("Record: %v", err)
	}
	_ = db.Close()

	code, stdout, stderr := runCaptured(t, "deliveries", "list", "--db", dbPath)
	if code != 0 {
		t.Fatalf("list: code=%d stderr=%s", code, stderr)
	}
	if !strings.Contains(stdout, d.ID) || !strings.Contains(stdout, "req-cli") {
		t.Fatalf("list output: %s", stdout)
	}

	code, stdout, _ = runCaptured(t, "deliveries", "list", "--db", dbPath, "--event", schema.EventPaymentFailed)
	if code != 0 || !strings.Contains(stdout, "No deliveries recorded.") {
		t.Fatalf("filtered list: code=%d stdout=%s", code, stdout)
	}

	code, stdout, _ = runCaptured(t, "deliveries", "show", "--db", dbPath, d.ID)
	if code != 0 {
		t.Fatalf("show: code=%d", code)
	}
	var shown ledger.Delivery
	if err := json.Unmarshal([]byte(stdout), &shown); err != nil {
		t.Fatalf("show JSON: %v", err)
	}
	var compact bytes.Buffer
	if err := json.Compact(&compact, shown.Payload); err != nil {
		t.Fatalf("payload: %v", err)
	}
	if shown.ID != d.ID || compact.String() != cliBody {
		t.Fatalf("shown = %+v", shown)
	}

	code, _, stderr = runCaptured(t, "deliveries", "show", "--db", dbPath, "missing")
	if code != 1 || !strings.Contains(stderr, "not found") {
		t.Fatalf("missing: code=%d stderr=%s", code, stderr)
	}

	code, _, stderr = runCaptured(t, "deliveries", "list", "--db", filepath.Join(t.TempDir(), "nope.db"))
	if code != 1 || !strings.Contains(stderr, "ledger not found") {
		t.Fatalf("absent db: code=%d stderr=%s", code, stderr)
	}
}

func TestRegisterLogHandlers(t *testing.T) {
	d := dispatch.New()
	reg := schema.Default()
	registerLogHandlers(d, reg)

	if got, want := d.HandlerCount(""), len(reg.Events()); got != want {
		t.Fatalf("HandlerCount = %d, want %d", got, want)
	}

	ev, err := webhook.Parse(webhook.ParseOptions{RawBody: cliBody, SkipVerification: true})
	if err != nil {
		t.Fatal(err)
	}
	if err := d.Dispatch(context.Background(), ev); err != nil {
		t.Fatalf("Dispatch: %v", err)
	}
}
