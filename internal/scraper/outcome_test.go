package scraper

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestOutcome(t *testing.T) {
	found := Found("abc123")
	v, ok := found.Get()
	assert.True(t, ok)
	assert.Equal(t, "abc123", v)
	assert.Empty(t, found.Reason())
	assert.NoError(t, found.Err())
	assert.Equal(t, "Found(abc123)", found.String())

	missing := NotFound[string](ReasonNoLink)
	v, ok = missing.Get()
	assert.False(t, ok)
	assert.Empty(t, v)
	assert.Equal(t, "NotFound(no_link)", missing.String())
}

func TestReasonErrors(t *testing.T) {
	assert.ErrorIs(t, ReasonNavigationFailed.Err(), ErrNavigation)
	assert.ErrorIs(t, ReasonChainExhausted.Err(), ErrSelectorExhausted)
	assert.ErrorIs(t, ReasonDetailChainExhausted.Err(), ErrSelectorExhausted)
	assert.ErrorIs(t, ReasonUnparseableID.Err(), ErrParse)
	assert.NotErrorIs(t, ReasonUnparseableID.Err(), ErrNavigation)
}
