package service

import (
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestKindOf(t *testing.T) {
	tests := []struct {
		name     string
		err      error
		wantKind Kind
		wantCode string
	}{
		{"sentinel", ErrAlreadyQueued, KindConflict, "already_queued"},
		{"wrapped", fmt.Errorf("%w: empty", ErrInvalidCode), KindValidation, "invalid_code"},
		{"external", external("save match", errors.New("connection refused")), KindExternalDependency, "dependency_failure"},
		{"plain", errors.New("boom"), KindUnknown, "internal_error"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.wantKind, KindOf(tt.err))
			assert.Equal(t, tt.wantCode, CodeOf(tt.err))
		})
	}
}

func TestExternalKeepsCause(t *testing.T) {
	cause := errors.New("connection refused")
	err := external("save match", cause)

	assert.ErrorIs(t, err, ErrExternalDependency)
	assert.ErrorIs(t, err, cause)
	assert.Contains(t, err.Error(), "save match")
}
