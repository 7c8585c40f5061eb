package kg

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestTripleKeyIgnoresPathAndHop(t *testing.T) {
	a := Fact{
		Subject:     EntityRef{GraphID: "rice"},
		Relation:    "AFFECTED_BY",
		Object:      EntityRef{GraphID: "rice_blast"},
		HopDistance: 1,
	}
	b := a
	b.HopDistance = 3
	b.Subject.SurfaceForm = "Rice"

	assert.Equal(t, a.TripleKey(), b.TripleKey())
}

func TestTripleKeyDistinguishesLiterals(t *testing.T) {
	season := Fact{Subject: EntityRef{GraphID: "rice"}, Relation: "season", Object: Literal("kharif")}
	other := Fact{Subject: EntityRef{GraphID: "rice"}, Relation: "season", Object: Literal("rabi")}

	assert.NotEqual(t, season.TripleKey(), other.TripleKey())
}

func TestLiteralRefs(t *testing.T) {
	lit := Literal("42 quintals")
	assert.True(t, lit.IsLiteral())
	assert.Equal(t, "42 quintals", lit.SurfaceForm)

	node := EntityRef{GraphID: "wheat"}
	assert.False(t, node.IsLiteral())
}
