package main

import "testing"

func TestSelectQuadletDirSystemAndUserConflict(t *testing.T) {
	if _, err := selectQuadletDir(true, true, 80, 443); err == nil {
		t.Error("expected error when both --system and --user are set")
	}
}

func TestSelectQuadletDirForcedSystem(t *testing.T) {
	dir, err := selectQuadletDir(true, false, 8080, 8443)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if dir != "/etc/containers/systemd" {
		t.Errorf("expected system dir, got %s", dir)
	}
}

func TestSelectQuadletDirHighPortsDefaultsToUser(t *testing.T) {
	t.Setenv("HOME", "/home/deploy")
	dir, err := selectQuadletDir(false, false, 8080, 8443)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if dir != "/home/deploy/.config/containers/systemd" {
		t.Errorf("expected user dir, got %s", dir)
	}
}
