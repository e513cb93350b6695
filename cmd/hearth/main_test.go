package main

import (
	"bytes"
	"context"
	"encoding/json"
	"os"
	"path/filepath"
	"strings"
	"testing"
)

func runArgs(t *testing.T, stdin string, args ...string) (string, error) {
	t.Helper()
	var stdout, stderr bytes.Buffer
	err := run(context.Background(), strings.NewReader(stdin), &stdout, &stderr, args)
	return stdout.String(), err
}

func TestRun_Usage(t *testing.T) {
	for _, args := range [][]string{nil, {"-h"}, {"--help"}} {
		out, err := runArgs(t, "", args...)
		if err != nil {
			t.Fatalf("%v: %v", args, err)
		}
		if !strings.Contains(out, "Usage: hearth") {
			t.Errorf("%v: usage missing from %q", args, out)
		}
	}
}

func TestRun_Errors(t *testing.T) {
	tests := []struct {
		args []string
		want string
	}{
		{[]string{"frobnicate"}, "unknown command"},
		{[]string{"-bogus"}, "unknown flag"},
		{[]string{"-o", "yaml", "version"}, "unknown output format"},
		{[]string{"ask"}, "usage: hearth ask"},
		{[]string{"key", "get", "openai"}, "usage: hearth key set"},
		{[]string{"vault"}, "usage: hearth vault"},
		{[]string{"-config", "/nonexistent/hearth.yaml", "vault", "status"}, "config file not found"},
	}
	for _, tt := range tests {
		_, err := runArgs(t, "", tt.args...)
		if err == nil || !strings.Contains(err.Error(), tt.want) {
			t.Errorf("%v: err = %v, want containing %q", tt.args, err, tt.want)
		}
	}
}

func TestRun_Version(t *testing.T) {
	out, err := runArgs(t, "", "version")
	if err != nil {
		t.Fatal(err)
	}
	if !strings.HasPrefix(out, "Hearth ") || !strings.Contains(out, "go_version:") {
		t.Errorf("text version = %q", out)
	}

	out, err = runArgs(t, "", "-o", "json", "version")
	if err != nil {
		t.Fatal(err)
	}
	var info map[string]string
	if err := json.Unmarshal([]byte(out), &info); err != nil {
		t.Fatalf("json version: %v", err)
	}
	if info["version"] == "" {
		t.Errorf("info = %v", info)
	}
}

func writeTestConfig(t *testing.T) string {
	t.Helper()
	dir := t.TempDir()
	path := filepath.Join(dir, "config.yaml")
	body := "data_dir: " + filepath.Join(dir, "data") + "\nlog_level: error\n"
	if err := os.WriteFile(path, []byte(body), 0o600); err != nil {
		t.Fatal(err)
	}
	return path
}

func TestRun_VaultAndKey(t *testing.T) {
	cfg := writeTestConfig(t)
	t.Setenv(passphraseEnv, "correct horse battery")

	out, err := runArgs(t, "", "-config", cfg, "vault", "init")
	if err != nil {
		t.Fatalf("vault init: %v", err)
	}
	if !strings.Contains(out, "Vault initialized") {
		t.Errorf("vault init output = %q", out)
	}
	if _, err := runArgs(t, "", "-config", cfg, "vault", "init"); err == nil {
		t.Error("second vault init succeeded")
	}

	out, err = runArgs(t, "sk-test-123\n", "-config", cfg, "key", "set", "OpenAI")
	if err != nil {
		t.Fatalf("key set: %v", err)
	}
	if !strings.Contains(out, "Saved openai credential (encrypted)") {
		t.Errorf("key set output = %q", out)
	}

	out, err = runArgs(t, "", "-config", cfg, "-o", "json", "vault", "status")
	if err != nil {
		t.Fatalf("vault status: %v", err)
	}
	if strings.Contains(out, "sk-test-123") {
		t.Fatal("status printed the credential")
	}
	var st struct {
		Vault struct {
			Initialized bool `json:"initialized"`
		} `json:"vault"`
		Credentials map[string]string `json:"credentials"`
	}
	if err := json.Unmarshal([]byte(out), &st); err != nil {
		t.Fatalf("decode status %q: %v", out, err)
	}
	if !st.Vault.Initialized || st.Credentials["openai"] != "encrypted" || st.Credentials["telegram"] != "missing" {
		t.Errorf("status = %+v", st)
	}
}

func TestRun_KeySetWrongPassphrase(t *testing.T) {
	cfg := writeTestConfig(t)
	t.Setenv(passphraseEnv, "correct horse battery")
	if _, err := runArgs(t, "", "-config", cfg, "vault", "init"); err != nil {
		t.Fatal(err)
	}

	t.Setenv(passphraseEnv, "")
	_, err := runArgs(t, "sk-1\nwrong horse battery\n", "-config", cfg, "key", "set", "anthropic")
	if err == nil || !strings.Contains(err.Error(), "passphrase") {
		t.Errorf("err = %v, want a passphrase error", err)
	}
}

func TestWriteQR(t *testing.T) {
	var buf bytes.Buffer
	if err := writeQR(&buf, "https://t.me/hearth_bot", nil); err != nil {
		t.Fatal(err)
	}
	if !strings.HasSuffix(buf.String(), "https://t.me/hearth_bot\n") || strings.Count(buf.String(), "\n") < 10 {
		t.Errorf("terminal QR output = %q", buf.String())
	}

	png := filepath.Join(t.TempDir(), "bot.png")
	buf.Reset()
	if err := writeQR(&buf, "https://t.me/hearth_bot", []string{png}); err != nil {
		t.Fatal(err)
	}
	data, err := os.ReadFile(png)
	if err != nil {
		t.Fatal(err)
	}
	if !bytes.HasPrefix(data, []byte("\x89PNG")) {
		t.Error("output is not a PNG")
	}
}
