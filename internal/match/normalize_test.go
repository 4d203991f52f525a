package match

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestNormalize_Empty(t *testing.T) {
	assert.Equal(t, "", Normalize(""))
	assert.Equal(t, "", Normalize("  \t\n "))
	assert.Equal(t, "", Normalize("¡¿?!"))
}

func TestNormalize_Accents(t *testing.T) {
	assert.Equal(t, "jose maria", Normalize("José María!"))
	assert.Equal(t, "alvaro uribe velez", Normalize("Álvaro Uribe Vélez"))
	assert.Equal(t, "guengue", Normalize("güengüe"))
}

func TestNormalize_KeepsEnye(t *testing.T) {
	assert.Equal(t, "nuñez", Normalize("NÚÑEZ"))
	assert.Equal(t, "peña", Normalize("Peña"))
}

func TestNormalize_Punctuation(t *testing.T) {
	assert.Equal(t, "petro anuncia reforma 2024", Normalize("Petro anuncia: ¡reforma! (2024)"))
	assert.Equal(t, "cabal molina el tiempo", Normalize("Cabal-Molina - El Tiempo"))
}

func TestNormalize_CollapsesWhitespace(t *testing.T) {
	assert.Equal(t, "a b c", Normalize("  a \t b\n\nc  "))
}

func TestNormalize_Idempotent(t *testing.T) {
	inputs := []string{
		"José María!",
		"  María Fernanda CABAL molina ",
		"Ñandú en la ciudad... 100%",
		"Œuvre çà et là",
		"",
	}
	for _, in := range inputs {
		once := Normalize(in)
		assert.Equal(t, once, Normalize(once), "input %q", in)
	}
}

func TestCleanTokens_DropsParticles(t *testing.T) {
	assert.Equal(t, []string{"juan", "manuel", "santos"}, CleanTokens("Juan Manuel de los Santos"))
	assert.Equal(t, []string{"maria", "fernanda", "cabal", "molina"}, CleanTokens("María Fernanda Cabal Molina"))
	assert.Empty(t, CleanTokens("de la y"))
}
