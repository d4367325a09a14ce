package pattern

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestExpandSequenceSingleRange(t *testing.T) {
	got, err := ExpandSequence("0..4")
	require.NoError(t, err)
	assert.Equal(t, []int{0, 1, 2, 3, 4}, got)
}

func TestExpandSequenceAddAndSubtract(t *testing.T) {
	got, err := ExpandSequence("0..10 - 3..5")
	require.NoError(t, err)
	assert.Equal(t, []int{0, 1, 2, 6, 7, 8, 9, 10}, got)
}

func TestExpandSequenceUnionOfDisjointRanges(t *testing.T) {
	got, err := ExpandSequence("0..2 + 10..12")
	require.NoError(t, err)
	assert.Equal(t, []int{0, 1, 2, 10, 11, 12}, got)
}

func TestExpandSequenceLeadingMinusIsRejected(t *testing.T) {
	_, err := ExpandSequence("- 0..2")
	assert.Error(t, err)
}

func TestExpandSequenceRemovingUnaddedElementErrors(t *testing.T) {
	_, err := ExpandSequence("0..2 - 5")
	assert.Error(t, err)
}

func TestExpandSequenceDoubleAddErrors(t *testing.T) {
	_, err := ExpandSequence("0..2 + 1..3")
	assert.Error(t, err)
}

func TestExpandSequenceMalformedTokenErrors(t *testing.T) {
	_, err := ExpandSequence("0..2..4")
	assert.Error(t, err)
}

func TestExpandSubstitutesTokens(t *testing.T) {
	got, err := Expand("checkpoint/step{%04d,step}/worker{%03d,rank}.chk", map[string]int{"step": 12, "rank": 7})
	require.NoError(t, err)
	assert.Equal(t, "checkpoint/step0012/worker007.chk", got)
}

func TestExpandWithNoTokensReturnsLiteral(t *testing.T) {
	got, err := Expand("static.txt", nil)
	require.NoError(t, err)
	assert.Equal(t, "static.txt", got)
}

func TestExpandMissingVariableErrors(t *testing.T) {
	_, err := Expand("{%d,step}.txt", map[string]int{"rank": 1})
	assert.Error(t, err)
}

func TestExpandUnmatchedBraceErrors(t *testing.T) {
	_, err := Expand("{%d,step", map[string]int{"step": 1})
	assert.Error(t, err)
}

func TestExpandNestedBraceErrors(t *testing.T) {
	_, err := Expand("{%d,{step}}", map[string]int{"step": 1})
	assert.Error(t, err)
}

func TestExpandMalformedTokenErrors(t *testing.T) {
	_, err := Expand("{step}", map[string]int{"step": 1})
	assert.Error(t, err)
}
