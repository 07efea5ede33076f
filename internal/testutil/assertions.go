// Package testutil provides common test utilities and assertions for bridge tests
package testutil

import (
	"errors"
	"testing"

	domainerrors "github.com/reglet-dev/portbridge/domain/errors"
	"github.com/stretchr/testify/require"
)

// RequireErrorAs asserts that err wraps a *T and returns it.
func RequireErrorAs[T any, PT interface {
	*T
	error
}](t *testing.T, err error, msgAndArgs ...interface{}) PT {
	t.Helper()
	require.Error(t, err, msgAndArgs...)

	var target PT
	require.True(t, errors.As(err, &target), "expected %T in chain, got %v", target, err)
	return target
}

// RequireLoadStage asserts that err is a *LoadError raised at the given stage.
func RequireLoadStage(t *testing.T, err error, stage domainerrors.Stage) *domainerrors.LoadError {
	t.Helper()
	loadErr := RequireErrorAs[domainerrors.LoadError](t, err)
	require.Equal(t, stage, loadErr.Stage, "unexpected load stage: %v", err)
	return loadErr
}
