package errs_test

import (
	"errors"
	"fmt"
	"testing"

	"github.com/deepctl/deep/internal/errs"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestErrorFormatting(t *testing.T) {
	cause := errors.New("boom")
	e := errs.New(errs.CodeExternal, "runtime", "pull failed", cause)

	assert.Equal(t, "[runtime:external] pull failed: boom", e.Error())
	assert.Equal(t, cause, e.Unwrap())
}

func TestErrorFormattingWithoutCause(t *testing.T) {
	e := errs.New(errs.CodeValidation, "orchestrator", "missing image ref", nil)
	assert.Equal(t, "[orchestrator:validation] missing image ref", e.Error())
}

func TestIsMatchesByCode(t *testing.T) {
	err := errs.NotFound("catalog", "app not found", nil)
	require.True(t, errs.Is(err, errs.CodeNotFound))
	require.False(t, errs.Is(err, errs.CodeConflict))
}

func TestIsUnwrapsWrappedErrors(t *testing.T) {
	base := errs.IO("catalog", "disk full", nil)
	wrapped := fmt.Errorf("opening db: %w", base)
	assert.True(t, errs.Is(wrapped, errs.CodeIO))
}

func TestErrorsIsUsesCode(t *testing.T) {
	a := errs.New(errs.CodeConflict, "catalog", "dup name", nil)
	b := errs.New(errs.CodeConflict, "addon", "dup binding", nil)
	assert.True(t, errors.Is(a, b))
}
