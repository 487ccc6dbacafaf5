package errors

import (
	"errors"
	"fmt"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestNew(t *testing.T) {
	cause := errors.New("missing group")
	err := New(ConfigInvalid, "namespace FT pattern does not compile", cause)

	assert.Equal(t, ConfigInvalid, err.Code)
	assert.Equal(t, "namespace FT pattern does not compile", err.Message)
	assert.NotEmpty(t, err.SuggestedFixes, "config errors carry default fixes")
	assert.Same(t, cause, errors.Unwrap(err))
}

func TestTraceError_Error(t *testing.T) {
	tests := []struct {
		name      string
		code      ErrorCode
		message   string
		cause     error
		wantParts []string
	}{
		{
			name:      "with cause",
			code:      CorpusUnreadable,
			message:   "cannot read corpus root",
			cause:     errors.New("permission denied"),
			wantParts: []string{"CORPUS_UNREADABLE", "cannot read corpus root", "permission denied"},
		},
		{
			name:      "without cause",
			code:      UnknownMode,
			message:   "unknown mode \"bogus\"",
			wantParts: []string{"UNKNOWN_MODE", "bogus"},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := New(tt.code, tt.message, tt.cause).Error()
			for _, part := range tt.wantParts {
				if !strings.Contains(got, part) {
					t.Errorf("Error() = %q, missing %q", got, part)
				}
			}
		})
	}
}

func TestSupersededIsNotFatal(t *testing.T) {
	err := New(ScanSuperseded, "newer change event arrived", nil)

	assert.True(t, errors.Is(err, ErrSuperseded))
	assert.False(t, IsFatal(err))
	assert.False(t, IsFatal(fmt.Errorf("watch: %w", ErrSuperseded)))
	assert.Equal(t, ScanSuperseded, CodeOf(fmt.Errorf("wrapped: %w", ErrSuperseded)))
}

func TestCodeOf(t *testing.T) {
	wrapped := fmt.Errorf("load: %w", New(ConfigInvalid, "bad", nil))

	assert.Equal(t, ConfigInvalid, CodeOf(wrapped))
	assert.Equal(t, InternalError, CodeOf(errors.New("plain")))
	assert.True(t, IsFatal(wrapped))
	assert.False(t, IsFatal(nil))
}

func TestGetSuggestedFixes(t *testing.T) {
	assert.NotEmpty(t, GetSuggestedFixes(UnknownMode))
	assert.Nil(t, GetSuggestedFixes(InternalError))
}
