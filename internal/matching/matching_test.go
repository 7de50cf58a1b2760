package matching

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNormalize(t *testing.T) {
	assert.Equal(t, "valanchio putra", Normalize("  Valanchio   PUTRA "))
	assert.Equal(t, "jose nunez", Normalize("José Núñez"))
	assert.Equal(t, "", Normalize("   "))
}

func TestScoreExactMatch(t *testing.T) {
	assert.Equal(t, 100, Score("Valanchio Putra", "Valanchio Putra"))
}

func TestScoreTruncatedDeviceName(t *testing.T) {
	// Devices cap display names; the registry keeps the full name.
	score := Score("Valanchio", "Valanchio Putra")
	require.GreaterOrEqual(t, score, 90)
}

func TestScoreCaseAndDiacriticsIgnored(t *testing.T) {
	score := Score("valánchio pütra", "VALANCHIO PUTRA")
	require.GreaterOrEqual(t, score, 95)
}

func TestScoreReorderedTokens(t *testing.T) {
	score := Score("Putra Valanchio", "Valanchio Putra")
	require.GreaterOrEqual(t, score, 95)
}

func TestScoreNicknameInsideToken(t *testing.T) {
	score := Score("Laras", "Larasati Putri")
	require.GreaterOrEqual(t, score, 90)
}

func TestScoreShortNamePenalty(t *testing.T) {
	// A two-rune fragment gets a perfect partial ratio but must not win.
	score := Score("An", "Andika Pratama Wijaya")
	assert.Less(t, score, 90)
}

func TestScoreUnrelatedNamesStayLow(t *testing.T) {
	score := Score("Zulkifli", "Kirana Larasati")
	assert.Less(t, score, 50)
}

func TestScoreEmptyInput(t *testing.T) {
	assert.Equal(t, 0, Score("", "Valanchio"))
	assert.Equal(t, 0, Score("Valanchio", ""))
	assert.Equal(t, 0, Score("", ""))
}

func TestScoreSymmetric(t *testing.T) {
	a, b := "Laras", "Larasati Putri"
	assert.Equal(t, Score(a, b), Score(b, a))
}
