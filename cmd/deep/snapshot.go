package main

import (
	"encoding/json"

	"github.com/deepctl/deep/internal/config"
	"github.com/deepctl/deep/internal/errs"
)

// unmarshalSnapshotForCLI decodes a release's stored config snapshot for
// commands that only need to read it (apps start/stop/restart).
func unmarshalSnapshotForCLI(raw string) (config.ConfigSnapshot, error) {
	var s config.ConfigSnapshot
	if err := json.Unmarshal([]byte(raw), &s); err != nil {
		return config.ConfigSnapshot{}, errs.Corrupt("cli", "invalid release config", err)
	}
	return s, nil
}
