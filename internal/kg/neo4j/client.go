package neo4j

import (
	"context"
	"fmt"
	"sort"
	"time"

	"github.com/neo4j/neo4j-go-driver/v5/neo4j"
	"go.uber.org/zap"

	"github.com/agrirag/benchmark/internal/kg"
	"github.com/agrirag/benchmark/pkg/circuitbreaker"
	"github.com/agrirag/benchmark/pkg/logger"
	"github.com/agrirag/benchmark/pkg/retry"
)

// Client implements kg.Store against a Neo4j property graph. Nodes are
// keyed by their title property and connected through RELATION edges
// whose type property names the relation (the layout the agriculture
// graph was loaded with).
type Client struct {
	driver       neo4j.DriverWithContext
	database     string
	queryTimeout time.Duration
	cb           *circuitbreaker.CircuitBreaker
	retryConfig  retry.Config
}

// NewClient connects to the graph. timeoutSec bounds each read
// operation, including its retries; values below one fall back to the
// default.
func NewClient(uri, username, password, database string, timeoutSec int) (*Client, error) {
	driver, err := neo4j.NewDriverWithContext(
		uri,
		neo4j.BasicAuth(username, password, ""),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create neo4j driver: %w", err)
	}

	ctx := context.Background()
	err = driver.VerifyConnectivity(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to verify connectivity: %w", err)
	}

	cb := circuitbreaker.NewCircuitBreaker("neo4j", circuitbreaker.Config{
		MaxRequests:      3,
		Interval:         time.Minute,
		Timeout:          20 * time.Second,
		FailureThreshold: 5,
		SuccessThreshold: 2,
		Logger:           logger.GetLogger(),
	})

	retryConfig := retry.Config{
		MaxAttempts:    3,
		InitialDelay:   200 * time.Millisecond,
		MaxDelay:       3 * time.Second,
		Multiplier:     2.0,
		JitterFraction: 0.1,
		Logger:         logger.GetLogger(),
	}

	logger.Info("Neo4j client initialized", zap.String("uri", uri))

	return &Client{
		driver:       driver,
		database:     database,
		queryTimeout: queryTimeout(timeoutSec),
		cb:           cb,
		retryConfig:  retryConfig,
	}, nil
}

func queryTimeout(seconds int) time.Duration {
	if seconds < 1 {
		return 10 * time.Second
	}
	return time.Duration(seconds) * time.Second
}

func (c *Client) Close(ctx context.Context) error {
	return c.driver.Close(ctx)
}

func (c *Client) executeRead(ctx context.Context, operation func(neo4j.SessionWithContext) error) error {
	ctx, cancel := context.WithTimeout(ctx, c.queryTimeout)
	defer cancel()

	err := c.cb.Execute(ctx, func() error {
		return retry.Do(ctx, c.retryConfig, func(int) error {
			session := c.driver.NewSession(ctx, neo4j.SessionConfig{DatabaseName: c.database})
			defer session.Close(ctx)
			return operation(session)
		})
	})
	if err != nil {
		// Everything that escapes the breaker here is a connectivity-class
		// failure from the caller's point of view.
		return fmt.Errorf("%w: %v", kg.ErrGraphUnavailable, err)
	}
	return nil
}

// FindEntities resolves a surface form against node titles. Exact title
// matches score 1.0, substring matches 0.7.
func (c *Client) FindEntities(ctx context.Context, text string) ([]kg.Match, error) {
	var matches []kg.Match

	err := c.executeRead(ctx, func(session neo4j.SessionWithContext) error {
		query := `
			MATCH (n)
			WHERE n.title = $text OR n.title CONTAINS $text
			RETURN elementId(n) AS id, n.title AS title, head(labels(n)) AS label
			ORDER BY n.title
			LIMIT 25
		`

		result, err := session.Run(ctx, query, map[string]interface{}{
			"text": text,
		})
		if err != nil {
			return fmt.Errorf("failed to find entities: %w", err)
		}

		matches = matches[:0]
		for result.Next(ctx) {
			record := result.Record()

			id, _ := record.Get("id")
			title, _ := record.Get("title")
			label, _ := record.Get("label")

			ref := kg.EntityRef{
				GraphID:     asString(id),
				SurfaceForm: asString(title),
				Type:        asString(label),
			}

			confidence := 0.7
			if ref.SurfaceForm == text {
				confidence = 1.0
			}

			matches = append(matches, kg.Match{Entity: ref, Confidence: confidence})
		}

		return result.Err()
	})
	if err != nil {
		return nil, err
	}

	logger.Debug("Entity lookup completed",
		zap.String("text", text),
		zap.Int("matches", len(matches)),
	)

	return matches, nil
}

// Neighbors expands entity up to maxHops RELATION edges and returns the
// triples found. Hop distance is the shortest path length from entity
// to the triple's subject plus one.
func (c *Client) Neighbors(ctx context.Context, entity kg.EntityRef, maxHops int) ([]kg.Fact, error) {
	if maxHops < 1 {
		return nil, nil
	}

	var facts []kg.Fact

	err := c.executeRead(ctx, func(session neo4j.SessionWithContext) error {
		query := fmt.Sprintf(`
			MATCH (seed) WHERE elementId(seed) = $id
			MATCH path = (seed)-[:RELATION*1..%d]->(m)
			WITH relationships(path) AS rels, nodes(path) AS ns, length(path) AS hops
			WITH last(rels) AS r, ns[-2] AS s, last(ns) AS o, hops
			RETURN DISTINCT
				elementId(s) AS sid, s.title AS stitle, head(labels(s)) AS slabel,
				coalesce(r.type, type(r)) AS relation,
				elementId(o) AS oid, o.title AS otitle, head(labels(o)) AS olabel,
				hops
			LIMIT 200
		`, maxHops)

		result, err := session.Run(ctx, query, map[string]interface{}{
			"id": entity.GraphID,
		})
		if err != nil {
			return fmt.Errorf("failed to expand neighbors: %w", err)
		}

		facts = facts[:0]
		for result.Next(ctx) {
			record := result.Record()

			sid, _ := record.Get("sid")
			stitle, _ := record.Get("stitle")
			slabel, _ := record.Get("slabel")
			relation, _ := record.Get("relation")
			oid, _ := record.Get("oid")
			otitle, _ := record.Get("otitle")
			olabel, _ := record.Get("olabel")
			hops, _ := record.Get("hops")

			facts = append(facts, kg.Fact{
				Subject: kg.EntityRef{
					GraphID:     asString(sid),
					SurfaceForm: asString(stitle),
					Type:        asString(slabel),
				},
				Relation: asString(relation),
				Object: kg.EntityRef{
					GraphID:     asString(oid),
					SurfaceForm: asString(otitle),
					Type:        asString(olabel),
				},
				HopDistance: int(asInt64(hops)),
			})
		}

		return result.Err()
	})
	if err != nil {
		return nil, err
	}

	sort.Slice(facts, func(i, j int) bool {
		if facts[i].HopDistance != facts[j].HopDistance {
			return facts[i].HopDistance < facts[j].HopDistance
		}
		return facts[i].TripleKey() < facts[j].TripleKey()
	})

	return facts, nil
}

// EntityAttributes returns the typed attribute edges of an entity as a
// name-value map.
func (c *Client) EntityAttributes(ctx context.Context, entity kg.EntityRef) (map[string]string, error) {
	attrs := make(map[string]string)

	err := c.executeRead(ctx, func(session neo4j.SessionWithContext) error {
		query := `
			MATCH (n)-[r:RELATION]->(m)
			WHERE elementId(n) = $id AND r.type IS NOT NULL
			RETURN r.type AS name, m.title AS value
		`

		result, err := session.Run(ctx, query, map[string]interface{}{
			"id": entity.GraphID,
		})
		if err != nil {
			return fmt.Errorf("failed to get attributes: %w", err)
		}

		for result.Next(ctx) {
			record := result.Record()
			name, _ := record.Get("name")
			value, _ := record.Get("value")
			attrs[asString(name)] = asString(value)
		}

		return result.Err()
	})
	if err != nil {
		return nil, err
	}

	return attrs, nil
}

// Distance implements kg.DistanceEstimator via shortestPath. Returns -1
// when no path exists within the search horizon.
func (c *Client) Distance(ctx context.Context, a, b kg.EntityRef) (int, error) {
	distance := -1

	err := c.executeRead(ctx, func(session neo4j.SessionWithContext) error {
		query := `
			MATCH (n) WHERE elementId(n) = $a
			MATCH (m) WHERE elementId(m) = $b
			MATCH path = shortestPath((n)-[*..5]-(m))
			RETURN length(path) AS hops
			LIMIT 1
		`

		result, err := session.Run(ctx, query, map[string]interface{}{
			"a": a.GraphID,
			"b": b.GraphID,
		})
		if err != nil {
			return fmt.Errorf("failed to compute distance: %w", err)
		}

		if result.Next(ctx) {
			hops, _ := result.Record().Get("hops")
			distance = int(asInt64(hops))
		}

		return result.Err()
	})
	if err != nil {
		return -1, err
	}

	return distance, nil
}

// ListEntities pages through titled nodes in a stable order, for
// surface form indexing.
func (c *Client) ListEntities(ctx context.Context, offset, limit int) ([]kg.EntityRef, error) {
	var entities []kg.EntityRef

	err := c.executeRead(ctx, func(session neo4j.SessionWithContext) error {
		query := `
			MATCH (n)
			WHERE n.title IS NOT NULL
			RETURN elementId(n) AS id, n.title AS title, head(labels(n)) AS label
			ORDER BY n.title, elementId(n)
			SKIP $offset LIMIT $limit
		`

		result, err := session.Run(ctx, query, map[string]interface{}{
			"offset": offset,
			"limit":  limit,
		})
		if err != nil {
			return fmt.Errorf("failed to list entities: %w", err)
		}

		entities = entities[:0]
		for result.Next(ctx) {
			record := result.Record()

			id, _ := record.Get("id")
			title, _ := record.Get("title")
			label, _ := record.Get("label")

			entities = append(entities, kg.EntityRef{
				GraphID:     asString(id),
				SurfaceForm: asString(title),
				Type:        asString(label),
			})
		}

		return result.Err()
	})
	if err != nil {
		return nil, err
	}

	return entities, nil
}

// Stats reports node and relationship counts for the graph inspection
// endpoint.
func (c *Client) Stats(ctx context.Context) (nodes, relations int64, err error) {
	err = c.executeRead(ctx, func(session neo4j.SessionWithContext) error {
		result, err := session.Run(ctx,
			`MATCH (n) RETURN count(n) AS nodes`, nil)
		if err != nil {
			return err
		}
		if result.Next(ctx) {
			v, _ := result.Record().Get("nodes")
			nodes = asInt64(v)
		}
		if err := result.Err(); err != nil {
			return err
		}

		result, err = session.Run(ctx,
			`MATCH ()-[r]->() RETURN count(r) AS relations`, nil)
		if err != nil {
			return err
		}
		if result.Next(ctx) {
			v, _ := result.Record().Get("relations")
			relations = asInt64(v)
		}
		return result.Err()
	})
	return nodes, relations, err
}

func asString(v interface{}) string {
	s, _ := v.(string)
	return s
}

func asInt64(v interface{}) int64 {
	n, _ := v.(int64)
	return n
}
