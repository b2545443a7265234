// Package dynatable provides a schema-validated, record-typed access layer
// over the AWS SDK for Go v2 DynamoDB client.
//
// A Schema declares a table's columns, primary key and secondary indexes.
// A Table[T] uses it to validate and encode records of type T before they
// reach the client, and to decode what the client returns.
//
// # Basic Usage
//
//	type Product struct {
//	    ID       string `json:"id"`
//	    Category string `json:"category"`
//	    Views    int    `json:"views,omitempty"`
//	}
//
//	schema, err := dynatable.NewSchema("products", dynatable.Columns{
//	    "id":       {Type: dynatable.String, Required: true},
//	    "category": {Type: dynatable.String},
//	    "views":    {Type: dynatable.Number},
//	}, "id", dynatable.WithIndex(dynatable.Index{
//	    Name:         "category-index",
//	    PartitionKey: "category",
//	    Projection:   dynatable.ProjectAll,
//	}))
//
//	products, err := dynatable.New[Product](ddb, schema)
//	err = products.Create(ctx, Product{ID: "P1", Category: "books"}, dynatable.FailIfExists)
//	p, err := products.Get(ctx, dynatable.PK("P1"))
//	books, err := products.QueryIndex(ctx, "category-index", "category", "books")
//	p, err = products.Patch(ctx, dynatable.PK("P1"), map[string]any{"category": "music"})
//	views, err := products.Increment(ctx, dynatable.PK("P1"), "views", 1)
//
// # Values
//
// Encode and Decode convert between native values (strings, numbers,
// booleans, slices and string-keyed maps) and attribute values. Encoding nil
// yields NULL, but decoding NULL is an error: tables written through this
// package never store NULL.
//
// # Empty Index Keys
//
// DynamoDB cannot index an empty string. When a String index partition key
// holds "", Create omits the attribute and Patch removes it. Reads put the
// empty string back, so callers always see the value they wrote.
//
// # Errors
//
// Every error is an *Error whose kind matches one of ErrValidation,
// ErrConditionFailed, ErrNotFound, ErrTransport, ErrEncoding or ErrDecode
// with errors.Is. Validation happens before any request is sent. Reads
// report a missing record as nil, not as an error; Patch reports it as
// ErrNotFound.
package dynatable
