package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
)

func writeFile(t *testing.T, dir, name, content string) string {
	t.Helper()
	path := filepath.Join(dir, name)
	if err := os.WriteFile(path, []byte(content), 0600); err != nil {
		t.Fatal(err)
	}
	return path
}

func TestFingerprint(t *testing.T) {
	dir := t.TempDir()
	a := writeFile(t, dir, "a.yaml", "service:\n  name: a\n")
	b := writeFile(t, dir, "b.yaml", "service:\n  name: b\n")

	ha, err := Fingerprint(a)
	if err != nil {
		t.Fatalf("Fingerprint() failed: %v", err)
	}
	if len(ha) != 64 {
		t.Fatalf("len(hash) = %d, want 64", len(ha))
	}
	hb, _ := Fingerprint(b)
	if ha == hb {
		t.Fatal("different files produced the same fingerprint")
	}
	if err := VerifyFileHash(a, ha); err != nil {
		t.Fatalf("VerifyFileHash() failed: %v", err)
	}
	if err := VerifyFileHash(a, hb); err == nil {
		t.Fatal("VerifyFileHash() accepted the wrong hash")
	}
	if _, err := Fingerprint(filepath.Join(dir, "missing.yaml")); err == nil {
		t.Fatal("Fingerprint() of missing file should fail")
	}
}

func TestLockAndVerify(t *testing.T) {
	t.Setenv("LOCK_TEST_SECRET", "whsec_lock")
	dir := t.TempDir()
	path := writeFile(t, dir, "config.yaml", "webhook:\n  secrets: [\"${LOCK_TEST_SECRET}\"]\n")

	// Unlocked configs load without verification.
	if _, err := Load(path); err != nil {
		t.Fatalf("Load() unlocked failed: %v", err)
	}

	hash, err := Lock(path)
	if err != nil {
		t.Fatalf("Lock() failed: %v", err)
	}
	manifest, err := LoadChecksums(dir)
	if err != nil {
		t.Fatalf("LoadChecksums() failed: %v", err)
	}
	if manifest.Hashes["config.yaml"] != hash {
		t.Fatalf("manifest hash = %q, want %q", manifest.Hashes["config.yaml"], hash)
	}

	if _, err := Load(path); err != nil {
		t.Fatalf("Load() locked failed: %v", err)
	}

	writeFile(t, dir, "config.yaml", "webhook:\n  secrets: [\"tampered\"]\n")
	_, err = Load(path)
	if err == nil || !strings.Contains(err.Error(), "hash mismatch") {
		t.Fatalf("Load() after tamper: err = %v, want hash mismatch", err)
	}
}

func TestLoadRejectsFileMissingFromManifest(t *testing.T) {
	dir := t.TempDir()
	other := writeFile(t, dir, "other.yaml", "x: 1\n")
	if _, err := Lock(other); err != nil {
		t.Fatal(err)
	}
	path := writeFile(t, dir, "config.yaml", "webhook:\n  skip_verification: true\n")

	if _, err := Load(path); err == nil || !strings.Contains(err.Error(), "no hash in checksums") {
		t.Fatalf("Load() err = %v, want missing-hash error", err)
	}
}
