package runner_test

import (
	"context"
	"testing"

	"github.com/deepctl/deep/internal/runner"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestFakeRunnerRecordsAndMatchesRules(t *testing.T) {
	fake := &runner.Fake{}
	fake.AddRule(runner.Rule{
		Contains: []string{"podman", "build"},
		Result:   runner.Result{ExitCode: 1, Stderr: "build failed"},
	})

	restore := runner.Guard(fake)
	defer restore()

	res, err := runner.Run(context.Background(), "podman", "build", "-t", "app", ".")
	require.NoError(t, err)
	assert.Equal(t, 1, res.ExitCode)
	assert.Equal(t, "build failed", res.Stderr)
	assert.False(t, res.Success())

	assert.Contains(t, fake.Invocations(), "podman build -t app .")
}

func TestGuardRestoresPreviousRunner(t *testing.T) {
	before := runner.Default()

	fake := &runner.Fake{}
	restore := runner.Guard(fake)
	assert.Equal(t, fake, runner.Default())
	restore()

	assert.Equal(t, before, runner.Default())
}

func TestDefaultSuccessWhenNoRuleMatches(t *testing.T) {
	fake := &runner.Fake{}
	restore := runner.Guard(fake)
	defer restore()

	res, err := runner.Run(context.Background(), "echo", "hi")
	require.NoError(t, err)
	assert.True(t, res.Success())
}
