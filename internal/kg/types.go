// Package kg defines the knowledge-graph domain types and the Store
// contract the retrieval pipeline depends on. The concrete graph
// database lives behind Store; nothing in the core imports a driver.
package kg

import (
	"context"
	"errors"
	"fmt"
)

// ErrGraphUnavailable marks a graph connectivity failure. Retrieval
// degrades to whatever was collected before the failure; it is never
// fatal for a run.
var ErrGraphUnavailable = errors.New("graph store unavailable")

// EntityRef is a resolved mention of a graph node. Identity is GraphID;
// SurfaceForm is the name that matched in the question text.
type EntityRef struct {
	GraphID     string
	SurfaceForm string
	Type        string
}

// IsLiteral reports whether the ref stands for a literal value rather
// than a graph node. Literal objects carry the value in SurfaceForm and
// have no GraphID.
func (e EntityRef) IsLiteral() bool {
	return e.GraphID == ""
}

// Literal wraps a raw attribute value as the object of a Fact.
func Literal(value string) EntityRef {
	return EntityRef{SurfaceForm: value, Type: "literal"}
}

// Fact is one subject-relation-object triple discovered by traversal.
// HopDistance is the number of edges from the nearest seed entity at
// the moment of first discovery.
type Fact struct {
	Subject     EntityRef
	Relation    string
	Object      EntityRef
	HopDistance int
}

// TripleKey identifies a fact for deduplication: two facts with equal
// keys are the same triple regardless of the path that produced them.
func (f Fact) TripleKey() string {
	return fmt.Sprintf("%s\x1f%s\x1f%s", f.Subject.GraphID, f.Relation, f.objectKey())
}

func (f Fact) objectKey() string {
	if f.Object.IsLiteral() {
		return f.Object.SurfaceForm
	}
	return f.Object.GraphID
}

// Match pairs a resolved entity with the store's confidence in the
// resolution (1.0 for an exact name match).
type Match struct {
	Entity     EntityRef
	Confidence float64
}

// Store is the narrow contract the graph database must expose.
type Store interface {
	// FindEntities resolves a surface form to candidate graph entities.
	// An empty result is not an error.
	FindEntities(ctx context.Context, text string) ([]Match, error)

	// Neighbors returns the facts reachable from entity within maxHops
	// edges. Result order is unspecified; callers requiring determinism
	// must sort.
	Neighbors(ctx context.Context, entity EntityRef, maxHops int) ([]Fact, error)

	// EntityAttributes returns the literal properties of an entity.
	EntityAttributes(ctx context.Context, entity EntityRef) (map[string]string, error)
}

// DistanceEstimator is an optional Store capability used to break
// candidate ties by graph proximity. Stores that cannot answer distance
// queries simply do not implement it.
type DistanceEstimator interface {
	Distance(ctx context.Context, a, b EntityRef) (int, error)
}
