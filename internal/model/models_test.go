package model

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestPairKey(t *testing.T) {
	assert.Equal(t, "7:42", PairKey(42, 7))
	assert.Equal(t, "7:42", PairKey(7, 42))
	assert.Equal(t, "5:5", PairKey(5, 5))
}

func TestBattleStateTerminal(t *testing.T) {
	assert.False(t, StateProposed.Terminal())
	assert.False(t, StateApproved.Terminal())
	assert.True(t, StateSettled.Terminal())
	assert.True(t, StateCancelled.Terminal())
}

func TestOutcomeValid(t *testing.T) {
	assert.True(t, OutcomeWinA.Valid())
	assert.True(t, OutcomeWinB.Valid())
	assert.True(t, OutcomeDraw.Valid())
	assert.False(t, Outcome("").Valid())
	assert.False(t, Outcome("win").Valid())
}
