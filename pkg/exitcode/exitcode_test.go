package exitcode

import (
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestString(t *testing.T) {
	tests := []struct {
		code     int
		expected string
	}{
		{Success, "Success"},
		{GeneralError, "General error"},
		{ConfigError, "Configuration error"},
		{ValidationError, "Validation error"},
		{FileSystemError, "File system error"},
		{NoCandidates, "No valid export candidates"},
		{SelectionRefused, "Selection refused"},
		{RegressionBlocked, "Focus regression blocked"},
		{999, "Unknown error"},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.expected, String(tt.code), "code %d", tt.code)
	}
}

func TestFromError(t *testing.T) {
	assert.Equal(t, Success, FromError(nil))
	assert.Equal(t, GeneralError, FromError(errors.New("plain")))

	coded := WithCode(SelectionRefused, errors.New("focus mismatch"))
	assert.Equal(t, SelectionRefused, FromError(coded))

	wrapped := fmt.Errorf("sync: %w", coded)
	assert.Equal(t, SelectionRefused, FromError(wrapped))
	assert.Equal(t, "sync: focus mismatch", wrapped.Error())
}

func TestWithCodeNil(t *testing.T) {
	assert.NoError(t, WithCode(ConfigError, nil))
}

func TestErrorUnwrap(t *testing.T) {
	sentinel := errors.New("sentinel")
	err := WithCode(NoCandidates, sentinel)
	assert.ErrorIs(t, err, sentinel)
	assert.Equal(t, "No valid export candidates", (&Error{Code: NoCandidates}).Error())
}
