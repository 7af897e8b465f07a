package types

import (
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestIsDataGap(t *testing.T) {
	gap := &DataGapError{Symbol: "AAPL", Date: time.Date(2024, 3, 1, 0, 0, 0, 0, time.UTC), Reason: "no bars"}

	assert.True(t, IsDataGap(gap))
	assert.True(t, IsDataGap(fmt.Errorf("loading prices: %w", gap)))
	assert.False(t, IsDataGap(&ConfigurationError{Field: "universe", Reason: "empty"}))
	assert.False(t, IsDataGap(errors.New("unrelated")))
	assert.False(t, IsDataGap(nil))
}

func TestExternalCollaboratorErrorUnwrap(t *testing.T) {
	inner := errors.New("connection refused")
	err := &ExternalCollaboratorError{Collaborator: "scoring", Symbol: "MSFT", Err: inner}

	assert.ErrorIs(t, err, inner)
	assert.Contains(t, err.Error(), "scoring")
	assert.Contains(t, err.Error(), "MSFT")
}
