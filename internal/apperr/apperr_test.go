package apperr

import (
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestIsMatchesKindAndDetail(t *testing.T) {
	err := NotOwner("update listing")

	assert.True(t, errors.Is(err, ErrAuthorization))
	assert.True(t, errors.Is(err, ErrNotOwner))
	assert.False(t, errors.Is(err, ErrNotParticipant))
	assert.False(t, errors.Is(err, ErrNotFound))

	wrapped := fmt.Errorf("handler: %w", err)
	assert.True(t, errors.Is(wrapped, ErrNotOwner))
	assert.Equal(t, KindAuthorization, KindOf(wrapped))
	assert.Equal(t, "not the listing owner", DetailOf(wrapped))
}

func TestKindOf(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want Kind
	}{
		{name: "validation", err: Validation("op", "bad %s", "input"), want: KindValidation},
		{name: "not found", err: NotFound("op", "listing"), want: KindNotFound},
		{name: "insufficient balance", err: InsufficientBalance("op", 1, 2), want: KindInsufficientBalance},
		{name: "self contact", err: SelfContact("op"), want: KindSelfContact},
		{name: "unavailable", err: Unavailable("op", errors.New("timeout")), want: KindBackendUnavailable},
		{name: "plain error", err: errors.New("boom"), want: KindInternal},
		{name: "nil", err: nil, want: KindInternal},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, KindOf(tt.err))
		})
	}
}

func TestErrorMessage(t *testing.T) {
	cause := errors.New("connection reset")
	err := Unavailable("get listing", cause)

	assert.Equal(t, "get listing: backend unavailable: connection reset", err.Error())
	assert.True(t, errors.Is(err, cause))
	assert.Equal(t, "backend unavailable", DetailOf(err))
	assert.Equal(t, "insufficient balance: have 499, need 500", DetailOf(InsufficientBalance("boost", 499, 500)))
	assert.Equal(t, "internal error", DetailOf(errors.New("secret database detail")))
}
