package main

import (
	"strings"
	"testing"
)

func TestDefaultAppTomlSubstitutesName(t *testing.T) {
	raw := string(defaultAppToml("hello"))
	if !strings.Contains(raw, `name = "hello"`) {
		t.Errorf("expected generated app.toml to name the app, got:\n%s", raw)
	}
	if strings.Contains(raw, "{{app}}") {
		t.Error("expected all {{app}} placeholders to be substituted")
	}
}
