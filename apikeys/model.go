package apikeys

import (
	"net"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
)

// TimeLayout is the layout of every timestamp stored by this package.
const TimeLayout = time.RFC3339Nano

// APIKey grants a bounded number of calls per rolling day between
// UseableSince and UsableUntil.
type APIKey struct {
	Key          string `json:"key" validate:"required"`
	Limit        int    `json:"limit" validate:"gte=0"`
	UseableSince string `json:"useableSince" validate:"required,datetime=2006-01-02T15:04:05Z07:00"`
	UsableUntil  string `json:"usableUntil" validate:"required,datetime=2006-01-02T15:04:05Z07:00"`
}

// ActiveAt reports whether now falls strictly inside the key's validity
// window. Unparsable bounds make the key inactive.
func (k APIKey) ActiveAt(now time.Time) bool {
	since, err := time.Parse(TimeLayout, k.UseableSince)
	if err != nil {
		return false
	}
	until, err := time.Parse(TimeLayout, k.UsableUntil)
	if err != nil {
		return false
	}
	return since.Before(now) && now.Before(until)
}

// APILog is one recorded call made with an api key.
type APILog struct {
	ID                    string `json:"id"`
	Key                   string `json:"key" validate:"required"`
	Datetime              string `json:"datetime" validate:"omitempty,datetime=2006-01-02T15:04:05Z07:00"`
	IP                    string `json:"ip,omitempty" validate:"omitempty,forwarded_for"`
	Browser               string `json:"browser,omitempty"`
	Device                string `json:"device,omitempty"`
	Prompt                string `json:"prompt" validate:"required"`
	FullResponse          string `json:"fullResponse,omitempty"`
	ResultContent         string `json:"resultContent,omitempty"`
	ResponseMs            int64  `json:"responseMs" validate:"gte=0"`
	UsagePromptTokens     int    `json:"usagePromptTokens" validate:"gte=-1"`
	UsageCompletionTokens int    `json:"usageCompletionTokens" validate:"gte=-1"`
}

// usedSince reports whether the entry was recorded after t.
func (l APILog) usedSince(t time.Time) (bool, error) {
	at, err := time.Parse(TimeLayout, l.Datetime)
	if err != nil {
		return false, err
	}
	return at.After(t), nil
}

// forwardedFor accepts an x-forwarded-for value: a comma separated proxy
// chain whose first hop is the client address.
func forwardedFor(fl validator.FieldLevel) bool {
	client, _, _ := strings.Cut(fl.Field().String(), ",")
	return net.ParseIP(strings.TrimSpace(client)) != nil
}
