package errors

import (
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestErrorKind_String(t *testing.T) {
	tests := []struct {
		kind ErrorKind
		want string
	}{
		{KindInsufficientPopulation, "insufficient_population"},
		{KindDegenerateCandidates, "degenerate_candidates"},
		{KindInvalidK, "invalid_k"},
		{KindEmptyReplayNeed, "empty_replay_need"},
		{KindInvalidConfig, "invalid_config"},
		{KindShapeMismatch, "shape_mismatch"},
		{KindExtraction, "extraction"},
		{ErrorKind(99), "unknown"},
	}

	for _, tt := range tests {
		t.Run(tt.want, func(t *testing.T) {
			assert.Equal(t, tt.want, tt.kind.String())
		})
	}
}

func TestReplayError_Error(t *testing.T) {
	err := New(KindInvalidK, "knnsv.Score", "k=0")
	assert.Equal(t, "[invalid_k] knnsv.Score: k=0", err.Error())

	bare := New(KindInvalidConfig, "", "bad policy")
	assert.Equal(t, "[invalid_config]: bad policy", bare.Error())

	wrapped := Wrap(KindExtraction, "features.Extract", "chunk 2", fmt.Errorf("device lost"))
	assert.Equal(t, "[extraction] features.Extract: chunk 2: device lost", wrapped.Error())
}

func TestReplayError_IsMatchesKind(t *testing.T) {
	err := Newf(KindInvalidK, "selector.New", "k=%d candidate_size=%d", 60, 50)
	wrapped := fmt.Errorf("setup: %w", err)

	assert.True(t, errors.Is(wrapped, ErrInvalidK))
	assert.False(t, errors.Is(wrapped, ErrInvalidConfig))
}

func TestWrap_PreservesKind(t *testing.T) {
	inner := New(KindShapeMismatch, "distance.Rank", "dims 3 != 4")
	outer := Wrap(KindExtraction, "selector.Select", "rank", inner)

	require.Error(t, outer)
	assert.Equal(t, KindShapeMismatch, GetKind(outer))
	assert.Nil(t, Wrap(KindExtraction, "op", "msg", nil))
}

func TestIsRecoverable(t *testing.T) {
	assert.True(t, IsRecoverable(nil))
	assert.True(t, IsRecoverable(ErrDegenerateCandidates))
	assert.True(t, IsRecoverable(ErrInvalidK))
	assert.False(t, IsRecoverable(ErrExtraction))
	assert.False(t, IsRecoverable(errors.New("foreign")))
}
