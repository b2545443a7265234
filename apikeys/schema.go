package apikeys

import (
	"github.com/nisimpson/dynatable"
)

// Default table and index names.
const (
	KeysTable = "api-keys"
	LogsTable = "api-logs"
	UsesIndex = "api-key-uses-index"
)

// KeysSchema returns the schema of the api key table. Keys are looked up by
// the token itself.
func KeysSchema() *dynatable.Schema {
	return mustSchema(dynatable.NewSchema(KeysTable, dynatable.Columns{
		"key":          {Type: dynatable.String, Required: true},
		"limit":        {Type: dynatable.Number, Required: true},
		"useableSince": {Type: dynatable.String, Required: true},
		"usableUntil":  {Type: dynatable.String, Required: true},
	}, "key"))
}

// LogsSchema returns the schema of the api usage log table. Each call is
// stored under its own id and indexed by key and time of use.
func LogsSchema() *dynatable.Schema {
	return mustSchema(dynatable.NewSchema(LogsTable, dynatable.Columns{
		"id":                    {Type: dynatable.String, Required: true},
		"key":                   {Type: dynatable.String, Required: true},
		"datetime":              {Type: dynatable.String, Required: true},
		"ip":                    {Type: dynatable.String},
		"browser":               {Type: dynatable.String},
		"device":                {Type: dynatable.String},
		"prompt":                {Type: dynatable.String, Required: true},
		"fullResponse":          {Type: dynatable.String},
		"resultContent":         {Type: dynatable.String},
		"responseMs":            {Type: dynatable.Number, Required: true},
		"usagePromptTokens":     {Type: dynatable.Number, Required: true},
		"usageCompletionTokens": {Type: dynatable.Number, Required: true},
	}, "id", dynatable.WithIndex(dynatable.Index{
		Name:         UsesIndex,
		PartitionKey: "key",
		SortKey:      "datetime",
		Projection:   dynatable.ProjectSpecified,
		Attributes:   []string{"datetime"},
	})))
}

func mustSchema(schema *dynatable.Schema, err error) *dynatable.Schema {
	if err != nil {
		panic(err)
	}
	return schema
}
