package replication

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestShouldWaitTrueWhenPageWellBelowHalfLimit(t *testing.T) {
	s := &ChangesStream{}
	assert.True(t, s.ShouldWait(2))
	assert.True(t, s.ShouldWait(0))
}

func TestShouldWaitFalseAtAndAboveHalfLimit(t *testing.T) {
	s := &ChangesStream{}
	assert.False(t, s.ShouldWait(30))
	assert.False(t, s.ShouldWait(pageLimit/2))
	assert.False(t, s.ShouldWait(pageLimit))
}

func TestShouldWaitTrueJustBelowHalfLimit(t *testing.T) {
	s := &ChangesStream{}
	assert.True(t, s.ShouldWait(pageLimit/2-1))
}
