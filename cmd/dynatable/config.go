package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb"
	"github.com/go-playground/validator/v10"
	"github.com/joho/godotenv"
	"github.com/nisimpson/dynatable"
	"github.com/rs/zerolog"
	"gopkg.in/yaml.v3"
)

// Config is the contents of dynatable.yaml. Values may reference environment
// variables as ${NAME}; a .env file in the working directory is loaded first.
type Config struct {
	Region   string        `yaml:"region"`
	Endpoint string        `yaml:"endpoint" validate:"omitempty,url"`
	Logging  LoggingConfig `yaml:"logging"`
	Tables   []TableConfig `yaml:"tables" validate:"required,min=1,dive"`

	schemas map[string]*dynatable.Schema
}

// LoggingConfig selects the level and format of diagnostic output.
type LoggingConfig struct {
	Enabled bool   `yaml:"enabled"`
	Level   string `yaml:"level" validate:"omitempty,oneof=debug info warn error"`
	Format  string `yaml:"format" validate:"omitempty,oneof=json console"`
}

// TableConfig declares one table schema.
type TableConfig struct {
	Name         string            `yaml:"name" validate:"required"`
	PartitionKey string            `yaml:"partitionKey" validate:"required"`
	SortKey      string            `yaml:"sortKey"`
	Columns      dynatable.Columns `yaml:"columns" validate:"required,min=1"`
	Indexes      []dynatable.Index `yaml:"indexes"`
}

// Schema builds the validated schema of the table.
func (t TableConfig) Schema() (*dynatable.Schema, error) {
	var opts []func(*dynatable.SchemaOptions)
	if t.SortKey != "" {
		opts = append(opts, dynatable.WithSortKey(t.SortKey))
	}
	for _, index := range t.Indexes {
		opts = append(opts, dynatable.WithIndex(index))
	}
	return dynatable.NewSchema(t.Name, t.Columns, t.PartitionKey, opts...)
}

// LoadConfig reads, expands and validates the configuration file at path.
func LoadConfig(path string) (*Config, error) {
	// A missing .env file is not an error.
	_ = godotenv.Load()

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read config: %w", err)
	}
	return ParseConfig(data)
}

// ParseConfig expands environment references in data and decodes it.
func ParseConfig(data []byte) (*Config, error) {
	var cfg Config
	if err := yaml.Unmarshal([]byte(os.ExpandEnv(string(data))), &cfg); err != nil {
		return nil, fmt.Errorf("parse config: %w", err)
	}
	if cfg.Region == "" {
		cfg.Region = os.Getenv("AWS_REGION")
	}
	if endpoint := os.Getenv("DYNATABLE_ENDPOINT"); endpoint != "" {
		cfg.Endpoint = endpoint
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// Validate checks the struct tags, then builds every table schema.
func (c *Config) Validate() error {
	if err := validator.New().Struct(c); err != nil {
		var verrs validator.ValidationErrors
		if errors.As(err, &verrs) {
			msgs := make([]string, 0, len(verrs))
			for _, e := range verrs {
				msgs = append(msgs, fmt.Sprintf("field '%s' failed rule '%s'", e.Namespace(), e.Tag()))
			}
			return fmt.Errorf("invalid config:\n- %s", strings.Join(msgs, "\n- "))
		}
		return fmt.Errorf("invalid config: %w", err)
	}

	c.schemas = make(map[string]*dynatable.Schema, len(c.Tables))
	for _, table := range c.Tables {
		if _, dup := c.schemas[table.Name]; dup {
			return fmt.Errorf("invalid config: duplicate table %q", table.Name)
		}
		schema, err := table.Schema()
		if err != nil {
			return fmt.Errorf("invalid config: table %q: %w", table.Name, err)
		}
		c.schemas[table.Name] = schema
	}
	return nil
}

// Schema returns the schema of a configured table.
func (c *Config) Schema(name string) (*dynatable.Schema, error) {
	schema, ok := c.schemas[name]
	if !ok {
		return nil, fmt.Errorf("table %q is not configured", name)
	}
	return schema, nil
}

// NewLogger returns a logger writing to w as configured. Disabled logging
// discards everything; the level defaults to info.
func NewLogger(cfg LoggingConfig, w io.Writer) zerolog.Logger {
	level, err := zerolog.ParseLevel(strings.ToLower(cfg.Level))
	if err != nil || cfg.Level == "" {
		level = zerolog.InfoLevel
	}

	output := w
	if !cfg.Enabled {
		output = io.Discard
	} else if cfg.Format == "console" {
		output = zerolog.ConsoleWriter{Out: w, TimeFormat: time.RFC3339}
	}

	return zerolog.New(output).Level(level).With().Timestamp().Logger()
}

// NewClient resolves AWS configuration from the environment and returns a
// DynamoDB client, pointed at cfg.Endpoint when one is set.
func NewClient(ctx context.Context, cfg *Config) (*dynamodb.Client, error) {
	var opts []func(*config.LoadOptions) error
	if cfg.Region != "" {
		opts = append(opts, config.WithRegion(cfg.Region))
	}
	awsCfg, err := config.LoadDefaultConfig(ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("load aws config: %w", err)
	}
	return dynamodb.NewFromConfig(awsCfg, func(o *dynamodb.Options) {
		if cfg.Endpoint != "" {
			o.BaseEndpoint = aws.String(cfg.Endpoint)
		}
	}), nil
}
