// dynatable is a command line client for tables described in a YAML file.
//
// # Commands
//
//	dynatable scan <table>
//	dynatable get [-sk value] [-project a,b] <table> <partition>
//	dynatable query [-all] [-project a,b] <table> <index> <attribute> <value>
//	dynatable put [-fail-if-exists] <table> <json|->
//	dynatable patch [-sk value] <table> <partition> <json|->
//	dynatable incr [-sk value] <table> <partition> <attribute> <delta>
//	dynatable delete [-sk value] <table> <partition>
//	dynatable create-table <table>
//
// # Configuration
//
// The configuration file (dynatable.yaml by default) declares the region,
// an optional endpoint such as DynamoDB Local, logging and the tables:
//
//	region: us-east-1
//	endpoint: http://localhost:8000
//	logging:
//	  enabled: true
//	  level: debug
//	  format: console
//	tables:
//	  - name: products
//	    partitionKey: id
//	    columns:
//	      id: {type: String, required: true}
//	      category: {type: String}
//	    indexes:
//	      - name: category-index
//	        partitionKey: category
//	        projection: all
package main

import (
	"context"
	"flag"
	"fmt"
	"os"
)

const version = "0.1.0"

func main() {
	configPath := flag.String("config", "dynatable.yaml", "path to the configuration file")
	flag.Usage = printUsage
	flag.Parse()

	if flag.NArg() < 1 {
		printUsage()
		os.Exit(1)
	}

	cmd, args := flag.Arg(0), flag.Args()[1:]
	switch cmd {
	case "help", "-h", "--help":
		printUsage()
		return
	case "version", "-v", "--version":
		fmt.Printf("dynatable version %s\n", version)
		return
	}

	if err := run(context.Background(), *configPath, cmd, args); err != nil {
		fmt.Fprintf(os.Stderr, "dynatable %s: %v\n", cmd, err)
		os.Exit(1)
	}
}

func run(ctx context.Context, configPath, cmd string, args []string) error {
	cfg, err := LoadConfig(configPath)
	if err != nil {
		return err
	}
	client, err := NewClient(ctx, cfg)
	if err != nil {
		return err
	}

	a := &app{
		cfg:    cfg,
		client: client,
		admin:  client,
		in:     os.Stdin,
		out:    os.Stdout,
		log:    NewLogger(cfg.Logging, os.Stderr),
	}
	return a.run(ctx, cmd, args)
}

func printUsage() {
	fmt.Println(`dynatable - schema-checked DynamoDB table client

Usage:
  dynatable [-config file] <command> [flags] [args]

Commands:
  scan          Print every record of a table
  get           Print one record
  query         Print the records of an index partition
  put           Write a record
  patch         Update attributes of an existing record
  incr          Add to a Number attribute
  delete        Delete a record
  create-table  Create a configured table

Flags go before positional arguments, e.g.

  dynatable get -sk 2 products p1
  echo '{"category":"books"}' | dynatable patch products p1 -

Run 'dynatable <command> -h' for the flags of a command.`)
}
