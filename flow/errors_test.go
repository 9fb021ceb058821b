package flow

import (
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestError_MessageFormat(t *testing.T) {
	err := NewError(ErrCodeValidation, "bad input")
	assert.Equal(t, "[VALIDATION_ERROR] bad input", err.Error())

	err = err.WithStep("fetch")
	assert.Equal(t, "[VALIDATION_ERROR] step fetch: bad input", err.Error())
}

func TestError_UnwrapChain(t *testing.T) {
	cause := errors.New("root cause")
	err := NewError(ErrCodeBodyFailure, "step blew up").WithCause(cause)

	assert.True(t, errors.Is(err, cause))

	wrapped := fmt.Errorf("outer: %w", err)
	assert.Equal(t, ErrCodeBodyFailure, CodeOf(wrapped))
}

func TestNewTimeout_CarriesDuration(t *testing.T) {
	err := NewTimeout("fetch", 3*time.Second)
	assert.Equal(t, ErrCodeTimeout, err.Code)
	assert.Equal(t, "fetch", err.Step)
	assert.Equal(t, 3*time.Second, err.Duration)
	assert.Contains(t, err.Error(), "3s")
	assert.True(t, IsTimeout(err))
}

func TestCodeOf_NonFlowError(t *testing.T) {
	assert.Equal(t, "", CodeOf(errors.New("plain")))
	assert.Equal(t, "", CodeOf(nil))
}

func TestErrorPredicates(t *testing.T) {
	assert.True(t, IsAbort(NewError(ErrCodeAborted, "stop")))
	assert.True(t, IsDeadlock(NewError(ErrCodeDeadlock, "stuck")))
	assert.False(t, IsAbort(NewError(ErrCodeTimeout, "slow")))
	assert.False(t, IsDeadlock(errors.New("plain")))
}
