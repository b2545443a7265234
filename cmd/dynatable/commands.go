package main

import (
	"context"
	"encoding/json"
	"errors"
	"flag"
	"fmt"
	"io"
	"strconv"
	"strings"

	"github.com/aws/aws-sdk-go-v2/service/dynamodb"
	"github.com/nisimpson/dynatable"
	"github.com/rs/zerolog"
)

type tableAdmin interface {
	CreateTable(ctx context.Context, params *dynamodb.CreateTableInput, optFns ...func(*dynamodb.Options)) (*dynamodb.CreateTableOutput, error)
}

type app struct {
	cfg    *Config
	client dynatable.DynamoDBClient
	admin  tableAdmin
	in     io.Reader
	out    io.Writer
	log    zerolog.Logger
}

var errUsage = errors.New("wrong number of arguments")

func (a *app) run(ctx context.Context, cmd string, args []string) error {
	switch cmd {
	case "scan":
		return a.scan(ctx, args)
	case "get":
		return a.get(ctx, args)
	case "query":
		return a.query(ctx, args)
	case "put":
		return a.put(ctx, args)
	case "patch":
		return a.patch(ctx, args)
	case "incr":
		return a.incr(ctx, args)
	case "delete":
		return a.delete(ctx, args)
	case "create-table":
		return a.createTable(ctx, args)
	}
	return fmt.Errorf("unknown command %q", cmd)
}

func (a *app) table(name string) (*dynatable.Table[dynatable.Record], error) {
	schema, err := a.cfg.Schema(name)
	if err != nil {
		return nil, err
	}
	return dynatable.New[dynatable.Record](a.client, schema)
}

func (a *app) scan(ctx context.Context, args []string) error {
	fs := flag.NewFlagSet("scan", flag.ContinueOnError)
	if err := fs.Parse(args); err != nil {
		return err
	}
	if fs.NArg() != 1 {
		return errUsage
	}

	table, err := a.table(fs.Arg(0))
	if err != nil {
		return err
	}
	records, err := table.Scan(ctx)
	if err != nil {
		return err
	}
	a.log.Debug().Str("table", fs.Arg(0)).Int("count", len(records)).Msg("scanned")
	return a.print(records)
}

func (a *app) get(ctx context.Context, args []string) error {
	fs := flag.NewFlagSet("get", flag.ContinueOnError)
	sort := fs.String("sk", "", "sort key value")
	project := fs.String("project", "", "comma separated attributes to fetch")
	if err := fs.Parse(args); err != nil {
		return err
	}
	if fs.NArg() != 2 {
		return errUsage
	}

	table, err := a.table(fs.Arg(0))
	if err != nil {
		return err
	}
	key, err := parseKey(table.Schema(), fs.Arg(1), *sort)
	if err != nil {
		return err
	}
	record, err := table.Get(ctx, key, func(o *dynatable.GetOptions) {
		o.Projection = splitList(*project)
	})
	if err != nil {
		return err
	}
	if record == nil {
		return dynatable.ErrNotFound
	}
	return a.print(record)
}

func (a *app) query(ctx context.Context, args []string) error {
	fs := flag.NewFlagSet("query", flag.ContinueOnError)
	all := fs.Bool("all", false, "fetch every attribute; the index must project all")
	project := fs.String("project", "", "comma separated attributes to fetch")
	if err := fs.Parse(args); err != nil {
		return err
	}
	if fs.NArg() != 4 {
		return errUsage
	}

	table, err := a.table(fs.Arg(0))
	if err != nil {
		return err
	}
	value, err := parseValue(table.Schema(), fs.Arg(2), fs.Arg(3))
	if err != nil {
		return err
	}
	records, err := table.QueryIndex(ctx, fs.Arg(1), fs.Arg(2), value, func(o *dynatable.QueryOptions) {
		o.ProjectAll = *all
		o.Projection = splitList(*project)
	})
	if err != nil {
		return err
	}
	a.log.Debug().Str("index", fs.Arg(1)).Int("count", len(records)).Msg("queried")
	return a.print(records)
}

func (a *app) put(ctx context.Context, args []string) error {
	fs := flag.NewFlagSet("put", flag.ContinueOnError)
	failIfExists := fs.Bool("fail-if-exists", false, "reject the write when the record exists")
	if err := fs.Parse(args); err != nil {
		return err
	}
	if fs.NArg() != 2 {
		return errUsage
	}

	table, err := a.table(fs.Arg(0))
	if err != nil {
		return err
	}
	record, err := a.readObject(fs.Arg(1))
	if err != nil {
		return err
	}
	var opts []func(*dynatable.CreateOptions)
	if *failIfExists {
		opts = append(opts, dynatable.FailIfExists)
	}
	if err := table.Create(ctx, record, opts...); err != nil {
		return err
	}
	a.log.Info().Str("table", fs.Arg(0)).Msg("record written")
	return nil
}

func (a *app) patch(ctx context.Context, args []string) error {
	fs := flag.NewFlagSet("patch", flag.ContinueOnError)
	sort := fs.String("sk", "", "sort key value")
	if err := fs.Parse(args); err != nil {
		return err
	}
	if fs.NArg() != 3 {
		return errUsage
	}

	table, err := a.table(fs.Arg(0))
	if err != nil {
		return err
	}
	key, err := parseKey(table.Schema(), fs.Arg(1), *sort)
	if err != nil {
		return err
	}
	attrs, err := a.readObject(fs.Arg(2))
	if err != nil {
		return err
	}
	record, err := table.Patch(ctx, key, attrs)
	if err != nil {
		return err
	}
	a.log.Info().Str("table", fs.Arg(0)).Int("attributes", len(attrs)).Msg("record patched")
	return a.print(record)
}

func (a *app) incr(ctx context.Context, args []string) error {
	fs := flag.NewFlagSet("incr", flag.ContinueOnError)
	sort := fs.String("sk", "", "sort key value")
	if err := fs.Parse(args); err != nil {
		return err
	}
	if fs.NArg() != 4 {
		return errUsage
	}

	table, err := a.table(fs.Arg(0))
	if err != nil {
		return err
	}
	key, err := parseKey(table.Schema(), fs.Arg(1), *sort)
	if err != nil {
		return err
	}
	delta, err := strconv.ParseFloat(fs.Arg(3), 64)
	if err != nil {
		return fmt.Errorf("delta: %w", err)
	}
	value, err := table.Increment(ctx, key, fs.Arg(2), delta)
	if err != nil {
		return err
	}
	return a.print(value)
}

func (a *app) delete(ctx context.Context, args []string) error {
	fs := flag.NewFlagSet("delete", flag.ContinueOnError)
	sort := fs.String("sk", "", "sort key value")
	if err := fs.Parse(args); err != nil {
		return err
	}
	if fs.NArg() != 2 {
		return errUsage
	}

	table, err := a.table(fs.Arg(0))
	if err != nil {
		return err
	}
	key, err := parseKey(table.Schema(), fs.Arg(1), *sort)
	if err != nil {
		return err
	}
	if err := table.Delete(ctx, key); err != nil {
		return err
	}
	a.log.Info().Str("table", fs.Arg(0)).Msg("record deleted")
	return nil
}

func (a *app) createTable(ctx context.Context, args []string) error {
	fs := flag.NewFlagSet("create-table", flag.ContinueOnError)
	if err := fs.Parse(args); err != nil {
		return err
	}
	if fs.NArg() != 1 {
		return errUsage
	}

	schema, err := a.cfg.Schema(fs.Arg(0))
	if err != nil {
		return err
	}
	if _, err := a.admin.CreateTable(ctx, schema.CreateTableInput()); err != nil {
		return fmt.Errorf("create table %s: %w", schema.TableName(), err)
	}
	a.log.Info().Str("table", schema.TableName()).Int("indexes", len(schema.Indexes())).Msg("table created")
	return nil
}

// readObject decodes a JSON object given inline, or from stdin for "-".
// Numbers stay json.Number so they reach the codec as written.
func (a *app) readObject(arg string) (map[string]any, error) {
	var r io.Reader = strings.NewReader(arg)
	if arg == "-" {
		r = a.in
	}
	dec := json.NewDecoder(r)
	dec.UseNumber()

	var obj map[string]any
	if err := dec.Decode(&obj); err != nil {
		return nil, fmt.Errorf("decode record: %w", err)
	}
	if obj == nil {
		return nil, errors.New("decode record: expected a JSON object")
	}
	return obj, nil
}

func (a *app) print(v any) error {
	enc := json.NewEncoder(a.out)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

func parseKey(schema *dynatable.Schema, partition, sort string) (dynatable.Key, error) {
	pk, err := parseValue(schema, schema.PartitionKey(), partition)
	if err != nil {
		return dynatable.Key{}, err
	}
	key := dynatable.PK(pk)
	if sort == "" {
		return key, nil
	}
	sk, err := parseValue(schema, schema.SortKey(), sort)
	if err != nil {
		return dynatable.Key{}, err
	}
	return key.WithSort(sk), nil
}

// parseValue converts command line text to the type of the named column.
func parseValue(schema *dynatable.Schema, name, text string) (any, error) {
	if schema.ColumnType(name) != dynatable.Number {
		return text, nil
	}
	if _, err := strconv.ParseFloat(text, 64); err != nil {
		return nil, fmt.Errorf("%s: %q is not a number", name, text)
	}
	return json.Number(text), nil
}

func splitList(s string) []string {
	if s == "" {
		return nil
	}
	return strings.Split(s, ",")
}
