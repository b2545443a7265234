// Package apikeys meters access to a metered API. Keys live in one table and
// every call made with a key is logged to a second table; a key's remaining
// allowance is its daily limit minus the calls logged in the past 24 hours.
package apikeys

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/google/uuid"
	"github.com/nisimpson/dynatable"
	"github.com/rs/zerolog"
)

var (
	// ErrInvalidKey is returned for unknown keys and for keys used outside
	// their validity window.
	ErrInvalidKey = errors.New("invalid api key")
	// ErrExhausted is returned by Authorize when a key has no uses left.
	ErrExhausted = errors.New("api key out of uses")
)

// Window is the rolling period a key's limit applies to.
const Window = 24 * time.Hour

// Clock is a function type that returns the current time for dependency injection.
type Clock func() time.Time

// DefaultClock returns the current UTC time.
func DefaultClock() time.Time {
	return time.Now().UTC()
}

// Options configures a Service.
type Options struct {
	Logger    zerolog.Logger // Defaults to a no-op logger
	Clock     Clock          // Defaults to DefaultClock
	KeysTable string         // Defaults to KeysTable
	LogsTable string         // Defaults to LogsTable
}

// WithLogger sets the service logger.
func WithLogger(logger zerolog.Logger) func(*Options) {
	return func(o *Options) {
		o.Logger = logger
	}
}

// WithClock sets the time source used for validity windows and log entries.
func WithClock(clock Clock) func(*Options) {
	return func(o *Options) {
		o.Clock = clock
	}
}

// WithTableNames overrides the default table names.
func WithTableNames(keys, logs string) func(*Options) {
	return func(o *Options) {
		o.KeysTable = keys
		o.LogsTable = logs
	}
}

// Service validates api keys and records their use.
type Service struct {
	keys   *dynatable.Table[APIKey]
	logs   *dynatable.Table[APILog]
	valid  *validator.Validate
	logger zerolog.Logger
	clock  Clock
}

// New returns a Service reading and writing through client.
func New(client dynatable.DynamoDBClient, opts ...func(*Options)) (*Service, error) {
	options := Options{
		Logger:    zerolog.Nop(),
		Clock:     DefaultClock,
		KeysTable: KeysTable,
		LogsTable: LogsTable,
	}
	for _, opt := range opts {
		opt(&options)
	}

	keys, err := dynatable.New[APIKey](client, KeysSchema().Renamed(options.KeysTable))
	if err != nil {
		return nil, fmt.Errorf("api keys: %w", err)
	}
	logs, err := dynatable.New[APILog](client, LogsSchema().Renamed(options.LogsTable))
	if err != nil {
		return nil, fmt.Errorf("api logs: %w", err)
	}

	valid := validator.New()
	if err := valid.RegisterValidation("forwarded_for", forwardedFor); err != nil {
		return nil, fmt.Errorf("register validation: %w", err)
	}

	return &Service{
		keys:   keys,
		logs:   logs,
		valid:  valid,
		logger: options.Logger,
		clock:  options.Clock,
	}, nil
}

// Issue stores a new key. It fails with dynatable.ErrConditionFailed when
// the key already exists.
func (s *Service) Issue(ctx context.Context, key APIKey) error {
	if err := s.valid.StructCtx(ctx, key); err != nil {
		return fmt.Errorf("issue key: %w: %w", dynatable.ErrValidation, err)
	}
	if err := s.keys.Create(ctx, key, dynatable.FailIfExists); err != nil {
		return fmt.Errorf("issue key: %w", err)
	}
	s.logger.Info().Str("until", key.UsableUntil).Int("limit", key.Limit).Msg("api key issued")
	return nil
}

// Revoke deletes a key. Its usage log is kept.
func (s *Service) Revoke(ctx context.Context, token string) error {
	if token == "" {
		return ErrInvalidKey
	}
	if err := s.keys.Delete(ctx, dynatable.PK(token)); err != nil {
		return fmt.Errorf("revoke key: %w", err)
	}
	s.logger.Info().Msg("api key revoked")
	return nil
}

// Remaining returns how many calls token may still make in the current
// window. It returns ErrInvalidKey when the key does not exist or is not
// active now.
func (s *Service) Remaining(ctx context.Context, token string) (int, error) {
	if token == "" {
		return 0, ErrInvalidKey
	}

	key, err := s.keys.Get(ctx, dynatable.PK(token))
	if err != nil {
		return 0, fmt.Errorf("remaining uses: %w", err)
	}
	now := s.clock()
	if key == nil || !key.ActiveAt(now) {
		s.logger.Debug().Bool("found", key != nil).Msg("api key rejected")
		return 0, ErrInvalidKey
	}

	uses, err := s.logs.QueryIndex(ctx, UsesIndex, "key", token)
	if err != nil {
		return 0, fmt.Errorf("remaining uses: %w", err)
	}

	since := now.Add(-Window)
	used := 0
	for _, use := range uses {
		recent, err := use.usedSince(since)
		if err != nil {
			s.logger.Warn().Err(err).Str("id", use.ID).Msg("skipping log entry with bad datetime")
			continue
		}
		if recent {
			used++
		}
	}

	remaining := max(0, key.Limit-used)
	s.logger.Debug().Int("limit", key.Limit).Int("used", used).Int("remaining", remaining).Msg("api key checked")
	return remaining, nil
}

// Authorize is Remaining followed by a check that at least one use is left.
func (s *Service) Authorize(ctx context.Context, token string) (int, error) {
	remaining, err := s.Remaining(ctx, token)
	if err != nil {
		return 0, err
	}
	if remaining < 1 {
		return 0, ErrExhausted
	}
	return remaining, nil
}

// RecordUse validates and stores a log entry. A missing ID is generated and
// a missing Datetime is set to the current time. The stored entry is
// returned.
func (s *Service) RecordUse(ctx context.Context, entry APILog) (APILog, error) {
	if entry.ID == "" {
		entry.ID = uuid.NewString()
	}
	if entry.Datetime == "" {
		entry.Datetime = s.clock().UTC().Format(TimeLayout)
	}
	if err := s.valid.StructCtx(ctx, entry); err != nil {
		return APILog{}, fmt.Errorf("record use: %w: %w", dynatable.ErrValidation, err)
	}
	if err := s.logs.Create(ctx, entry, dynatable.FailIfExists); err != nil {
		return APILog{}, fmt.Errorf("record use: %w", err)
	}
	s.logger.Debug().Str("id", entry.ID).Int64("responseMs", entry.ResponseMs).Msg("api use recorded")
	return entry, nil
}
