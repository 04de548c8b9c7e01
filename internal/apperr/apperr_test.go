package apperr

import (
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestIsMatchesByCode(t *testing.T) {
	err := ErrCopyNotAvailable.With("circulation.Issue", "copy %s is %s", "c-1", "ON_LOAN")
	wrapped := fmt.Errorf("issue: %w", err)

	assert.True(t, errors.Is(wrapped, ErrCopyNotAvailable))
	assert.False(t, errors.Is(wrapped, ErrAlreadyReturned))
	assert.Equal(t, InvalidState, KindOf(wrapped))
	assert.Equal(t, "COPY_NOT_AVAILABLE", CodeOf(wrapped))
	assert.Contains(t, err.Error(), "circulation.Issue: book copy is not available for issue: copy c-1 is ON_LOAN")
}

func TestIsMatchesByKindWhenTargetHasNoCode(t *testing.T) {
	err := ErrRenewalLimitExceeded.With("circulation.Renew", "")

	assert.True(t, errors.Is(err, &Error{Kind: LimitExceeded}))
	assert.False(t, errors.Is(err, &Error{Kind: Conflict}))
}

func TestOnlyConflictIsRetryable(t *testing.T) {
	cause := errors.New("version mismatch")

	assert.True(t, IsRetryable(ErrConcurrentModification.Wrap("store.Save", cause)))
	assert.False(t, IsRetryable(ErrFineAlreadyResolved))
	assert.False(t, IsRetryable(cause))
	assert.False(t, IsRetryable(nil))
}

func TestWrapKeepsCause(t *testing.T) {
	cause := errors.New("boom")
	err := ErrConcurrentModification.Wrap("memstore.commit", cause)

	assert.ErrorIs(t, err, cause)
	assert.ErrorIs(t, err, ErrConcurrentModification)
	assert.Equal(t, Internal, KindOf(cause))
}

func TestParseKindRoundTrip(t *testing.T) {
	for k := Internal; k <= InvalidArgument; k++ {
		assert.Equal(t, k, ParseKind(k.String()))
	}
	assert.Equal(t, Internal, ParseKind("nonsense"))
}
