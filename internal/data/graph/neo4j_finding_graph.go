package graph

import (
	"context"
	"fmt"
	"time"

	"github.com/neo4j/neo4j-go-driver/v5/neo4j"

	"github.com/hoferino/manda-platform-sub003/internal/domain/knowledge"
	"github.com/hoferino/manda-platform-sub003/internal/pkg/logger"
	"github.com/hoferino/manda-platform-sub003/internal/platform/neo4jdb"
)

// FindingGraph mirrors findings and their typed edges into Neo4j for
// traversal-heavy consumers. The relational store stays the source of truth;
// the projection is rebuilt idempotently with MERGE and can lag.
type FindingGraph struct {
	client *neo4jdb.Client
	log    *logger.Logger
}

func NewFindingGraph(client *neo4jdb.Client, baseLog *logger.Logger) *FindingGraph {
	return &FindingGraph{client: client, log: baseLog.With("graph", "FindingGraph")}
}

func (g *FindingGraph) Enabled() bool {
	return g != nil && g.client != nil && g.client.Driver != nil
}

func findingNode(f *knowledge.Finding, now string) map[string]any {
	n := map[string]any{
		"id":                 f.ID.String(),
		"deal_id":            f.DealID.String(),
		"document_id":        f.DocumentID.String(),
		"text":               f.Text,
		"domain":             f.Domain,
		"fact_key":           f.FactKey,
		"topic_key":          f.TopicKey,
		"status":             string(f.Status),
		"confidence":         f.Confidence,
		"date_referenced":    f.DateReferenced,
		"source_type":        f.SourceType,
		"extraction_pattern": f.ExtractionPattern,
		"date_extracted":     f.DateExtracted.UTC().Format(time.RFC3339Nano),
		"synced_at":          now,
	}
	if f.NumericValue != nil {
		n["numeric_value"] = *f.NumericValue
		n["unit"] = f.Unit
	}
	if f.HasPeriod() {
		n["period_start"] = f.PeriodStart.UTC().Format(time.RFC3339)
		n["period_end"] = f.PeriodEnd.UTC().Format(time.RFC3339)
		n["period_kind"] = string(f.PeriodKind)
	}
	return n
}

func (g *FindingGraph) session(ctx context.Context) neo4j.SessionWithContext {
	return g.client.Driver.NewSession(ctx, neo4j.SessionConfig{
		AccessMode:   neo4j.AccessModeWrite,
		DatabaseName: g.client.Database,
	})
}

func (g *FindingGraph) ensureSchema(ctx context.Context, session neo4j.SessionWithContext) {
	for _, stmt := range []string{
		`CREATE CONSTRAINT finding_id_unique IF NOT EXISTS FOR (f:Finding) REQUIRE f.id IS UNIQUE`,
		`CREATE CONSTRAINT document_id_unique IF NOT EXISTS FOR (d:Document) REQUIRE d.id IS UNIQUE`,
		`CREATE INDEX finding_topic_idx IF NOT EXISTS FOR (f:Finding) ON (f.deal_id, f.topic_key)`,
	} {
		res, err := session.Run(ctx, stmt, nil)
		if err != nil {
			g.log.Warn("neo4j schema init failed (continuing)", "error", err)
			continue
		}
		_, _ = res.Consume(ctx)
	}
}

// Project upserts findings, their source documents, and the given edges.
// Edge types map one to one onto Neo4j relationship types.
func (g *FindingGraph) Project(ctx context.Context, findings []*knowledge.Finding, rels []*knowledge.Relationship) error {
	if !g.Enabled() || len(findings) == 0 {
		return nil
	}
	now := time.Now().UTC().Format(time.RFC3339Nano)

	nodes := make([]map[string]any, 0, len(findings))
	for _, f := range findings {
		if f == nil {
			continue
		}
		nodes = append(nodes, findingNode(f, now))
	}
	byType := map[knowledge.RelationshipType][]map[string]any{}
	for _, r := range rels {
		if r == nil || !r.Type.Valid() {
			continue
		}
		byType[r.Type] = append(byType[r.Type], map[string]any{
			"id":          r.ID.String(),
			"from_id":     r.FromFindingID.String(),
			"to_id":       r.ToFindingID.String(),
			"strength":    r.Strength,
			"detected_at": r.DetectedAt.UTC().Format(time.RFC3339Nano),
			"synced_at":   now,
		})
	}

	session := g.session(ctx)
	defer session.Close(ctx)
	g.ensureSchema(ctx, session)

	_, err := session.ExecuteWrite(ctx, func(tx neo4j.ManagedTransaction) (any, error) {
		res, err := tx.Run(ctx, `
UNWIND $nodes AS n
MERGE (f:Finding {id: n.id})
SET f += n
MERGE (d:Document {id: n.document_id})
SET d.deal_id = n.deal_id
MERGE (f)-[:EXTRACTED_FROM]->(d)
`, map[string]any{"nodes": nodes})
		if err != nil {
			return nil, err
		}
		if _, err := res.Consume(ctx); err != nil {
			return nil, err
		}
		for _, t := range []knowledge.RelationshipType{knowledge.RelContradicts, knowledge.RelSupersedes, knowledge.RelSupports, knowledge.RelPattern} {
			edges := byType[t]
			if len(edges) == 0 {
				continue
			}
			// Relationship types cannot be parameters; t comes from the closed set above.
			cypher := fmt.Sprintf(`
UNWIND $rels AS r
MERGE (a:Finding {id: r.from_id})
MERGE (b:Finding {id: r.to_id})
MERGE (a)-[e:%s]->(b)
SET e.id = r.id,
    e.strength = r.strength,
    e.detected_at = r.detected_at,
    e.synced_at = r.synced_at
`, string(t))
			res, err := tx.Run(ctx, cypher, map[string]any{"rels": edges})
			if err != nil {
				return nil, err
			}
			if _, err := res.Consume(ctx); err != nil {
				return nil, err
			}
		}
		return nil, nil
	})
	if err != nil {
		return fmt.Errorf("neo4j finding graph sync: %w", err)
	}
	g.log.Debug("finding graph projected", "findings", len(nodes), "edges", len(rels))
	return nil
}

// SyncState refreshes status, confidence and text after feedback.
func (g *FindingGraph) SyncState(ctx context.Context, findings ...*knowledge.Finding) error {
	if !g.Enabled() || len(findings) == 0 {
		return nil
	}
	now := time.Now().UTC().Format(time.RFC3339Nano)
	rows := make([]map[string]any, 0, len(findings))
	for _, f := range findings {
		if f == nil {
			continue
		}
		rows = append(rows, map[string]any{
			"id":         f.ID.String(),
			"status":     string(f.Status),
			"confidence": f.Confidence,
			"text":       f.Text,
			"synced_at":  now,
		})
	}
	session := g.session(ctx)
	defer session.Close(ctx)
	_, err := session.ExecuteWrite(ctx, func(tx neo4j.ManagedTransaction) (any, error) {
		res, err := tx.Run(ctx, `
UNWIND $rows AS r
MATCH (f:Finding {id: r.id})
SET f.status = r.status,
    f.confidence = r.confidence,
    f.text = r.text,
    f.synced_at = r.synced_at
`, map[string]any{"rows": rows})
		if err != nil {
			return nil, err
		}
		_, err = res.Consume(ctx)
		return nil, err
	})
	if err != nil {
		return fmt.Errorf("neo4j finding state sync: %w", err)
	}
	return nil
}
