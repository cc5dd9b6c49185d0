package draft

import (
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/roach88/draftkeep/internal/integrity"
)

func TestNewSaveError_Advice(t *testing.T) {
	tests := []struct {
		name   string
		err    error
		advice string
	}{
		{"quota", &integrity.StorageError{Code: integrity.CodeQuotaExceeded}, AdviceQuota},
		{"serialization", &integrity.StorageError{Code: integrity.CodeSerialization}, AdviceSerialization},
		{"unknown storage", &integrity.StorageError{Code: integrity.CodeUnknown}, AdviceUnknown},
		{"plain", errors.New("disk on fire"), AdviceUnknown},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			se := newSaveError("draft:1", tt.err)
			assert.Equal(t, tt.advice, se.Advice)
			assert.ErrorIs(t, se, tt.err)
		})
	}
}

func TestIsSaveError(t *testing.T) {
	se := newSaveError("draft:1", errors.New("boom"))

	assert.True(t, IsSaveError(se))
	assert.True(t, IsSaveError(fmt.Errorf("autosave: %w", se)))
	assert.False(t, IsSaveError(errors.New("boom")))
}
