package dynamock

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"maps"

	"github.com/nisimpson/dynatable"
)

// JSONAPIDocument represents the root structure of a seed document: an
// array of JSON:API resources.
type JSONAPIDocument []JSONAPIResource

// JSONAPIResource represents a single resource in JSON:API format. Type names
// the table and ID is the record's partition key.
type JSONAPIResource struct {
	Type       string         `json:"type"`
	ID         string         `json:"id"`
	Attributes map[string]any `json:"attributes,omitempty"`
}

// SeedTestData writes test records through table clients, so seeded data
// goes through the same validation and encoding as application writes.
type SeedTestData struct {
	tables map[string]*dynatable.Table[dynatable.Record]
}

// NewSeedTestData creates a seeder for the tables described by schemas.
func NewSeedTestData(client dynatable.DynamoDBClient, schemas ...*dynatable.Schema) (*SeedTestData, error) {
	s := &SeedTestData{tables: make(map[string]*dynatable.Table[dynatable.Record], len(schemas))}
	for _, schema := range schemas {
		table, err := dynatable.New[dynatable.Record](client, schema)
		if err != nil {
			return nil, fmt.Errorf("failed to create table client: %w", err)
		}
		s.tables[schema.TableName()] = table
	}
	return s, nil
}

// SeedRecord writes a single record into the named table.
func (s *SeedTestData) SeedRecord(ctx context.Context, tableName string, rec dynatable.Record) error {
	table, ok := s.tables[tableName]
	if !ok {
		return fmt.Errorf("unknown table %s", tableName)
	}
	if err := table.Create(ctx, rec); err != nil {
		return fmt.Errorf("failed to seed record: %w", err)
	}
	return nil
}

// SeedRecords writes multiple records into the named table.
func (s *SeedTestData) SeedRecords(ctx context.Context, tableName string, recs ...dynatable.Record) error {
	for _, rec := range recs {
		if err := s.SeedRecord(ctx, tableName, rec); err != nil {
			return err
		}
	}
	return nil
}

// SeedFromJSON reads a JSON:API document and writes one record per resource.
// Returns the number of records saved and any errors generated.
func (s *SeedTestData) SeedFromJSON(ctx context.Context, r io.Reader) (int, error) {
	var document JSONAPIDocument
	if err := parseJSONDocument(r, &document); err != nil {
		return 0, fmt.Errorf("failed to parse JSON document: %w", err)
	}

	type seed struct {
		table string
		rec   dynatable.Record
	}
	seeds := make([]seed, 0, len(document))
	for i, resource := range document {
		rec, err := s.convertResourceToRecord(resource)
		if err != nil {
			return 0, fmt.Errorf("failed to convert resource at index %d: %w", i, err)
		}
		seeds = append(seeds, seed{table: resource.Type, rec: rec})
	}

	count := 0
	for _, sd := range seeds {
		if err := s.SeedRecord(ctx, sd.table, sd.rec); err != nil {
			return count, fmt.Errorf("failed to seed %s/%v: %w", sd.table, sd.rec[s.tables[sd.table].Schema().PartitionKey()], err)
		}
		count++
	}
	return count, nil
}

// convertResourceToRecord merges the resource id into its attributes under
// the table's partition key.
func (s *SeedTestData) convertResourceToRecord(resource JSONAPIResource) (dynatable.Record, error) {
	if resource.Type == "" {
		return nil, fmt.Errorf("resource missing required 'type' field")
	}
	if resource.ID == "" {
		return nil, fmt.Errorf("resource missing required 'id' field")
	}
	table, ok := s.tables[resource.Type]
	if !ok {
		return nil, fmt.Errorf("unknown table %s", resource.Type)
	}

	rec := make(dynatable.Record, len(resource.Attributes)+1)
	maps.Copy(rec, resource.Attributes)
	rec[table.Schema().PartitionKey()] = resource.ID
	return rec, nil
}

// parseJSONDocument decodes a seed document, keeping numbers exact.
func parseJSONDocument(r io.Reader, document *JSONAPIDocument) error {
	decoder := json.NewDecoder(r)
	decoder.UseNumber()
	return decoder.Decode(document)
}
