// Package graph adapts Neo4j to the Metadata Store's relations half:
// the address↔company↔country↔category graph that accelerates
// search_by. It is additive — Postgres remains the source of truth.
package graph

import (
	"context"

	"github.com/neo4j/neo4j-go-driver/v5/neo4j"

	"github.com/bridgeway/qualify/core/domain"
	"github.com/bridgeway/qualify/core/metadatastore"
)

// Neo4jMetadataIndex implements metadatastore.GraphIndex.
type Neo4jMetadataIndex struct {
	driver neo4j.DriverWithContext
}

// NewNeo4jMetadataIndex builds a Neo4jMetadataIndex.
func NewNeo4jMetadataIndex(driver neo4j.DriverWithContext) *Neo4jMetadataIndex {
	return &Neo4jMetadataIndex{driver: driver}
}

// Upsert mirrors one merged metadata record into the graph: an Address node
// linked to Company, Country, and Category nodes.
func (n *Neo4jMetadataIndex) Upsert(ctx context.Context, addr domain.Address, meta *domain.Metadata) error {
	session := n.driver.NewSession(ctx, neo4j.SessionConfig{AccessMode: neo4j.AccessModeWrite})
	defer session.Close(ctx)

	_, err := session.ExecuteWrite(ctx, func(tx neo4j.ManagedTransaction) (any, error) {
		_, err := tx.Run(ctx, `
			MERGE (a:Address {address: $address})
			FOREACH (_ IN CASE WHEN $company <> '' THEN [1] ELSE [] END |
				MERGE (c:Company {name: $company})
				MERGE (a)-[:BELONGS_TO]->(c))
			FOREACH (_ IN CASE WHEN $country <> '' THEN [1] ELSE [] END |
				MERGE (co:Country {name: $country})
				MERGE (a)-[:LOCATED_IN]->(co))
			FOREACH (_ IN CASE WHEN $category <> '' THEN [1] ELSE [] END |
				MERGE (cat:Category {name: $category})
				MERGE (a)-[:CLASSIFIED_AS]->(cat))
		`, map[string]any{
			"address":  string(addr),
			"company":  meta.CompanyName,
			"country":  meta.Country,
			"category": meta.Category,
		})
		return nil, err
	})
	return err
}

// SearchBy resolves addresses that satisfy every non-empty filter field by
// walking the relation graph; empty fields do not constrain the result.
func (n *Neo4jMetadataIndex) SearchBy(ctx context.Context, filter metadatastore.SearchFilter) ([]domain.Address, error) {
	session := n.driver.NewSession(ctx, neo4j.SessionConfig{AccessMode: neo4j.AccessModeRead})
	defer session.Close(ctx)

	result, err := session.ExecuteRead(ctx, func(tx neo4j.ManagedTransaction) (any, error) {
		records, err := tx.Run(ctx, `
			MATCH (a:Address)
			OPTIONAL MATCH (a)-[:BELONGS_TO]->(c:Company)
			OPTIONAL MATCH (a)-[:LOCATED_IN]->(co:Country)
			OPTIONAL MATCH (a)-[:CLASSIFIED_AS]->(cat:Category)
			WITH a, c, co, cat
			WHERE ($company = '' OR c.name = $company)
			  AND ($country = '' OR co.name = $country)
			  AND ($category = '' OR cat.name = $category)
			  AND ($domain = '' OR a.address ENDS WITH ('@' + $domain))
			RETURN DISTINCT a.address AS address
		`, map[string]any{
			"company":  filter.Company,
			"country":  filter.Country,
			"category": filter.Category,
			"domain":   filter.Domain,
		})
		if err != nil {
			return nil, err
		}

		var addrs []domain.Address
		for records.Next(ctx) {
			rec := records.Record()
			v, _ := rec.Get("address")
			if s, ok := v.(string); ok {
				addrs = append(addrs, domain.Address(s))
			}
		}
		return addrs, records.Err()
	})
	if err != nil {
		return nil, err
	}
	return result.([]domain.Address), nil
}
