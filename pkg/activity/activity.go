// Package activity appends records to the member-visible activity feed.
// Appends are fire-and-forget: a sink failure is logged and never propagates
// into billing.
package activity

import (
	"context"
	"time"

	log "github.com/sirupsen/logrus"

	"github.com/anthev-stack/communitypledges/pkg/model"
)

type Log interface {
	Append(ctx context.Context, record model.Activity)
}

type Config struct {
	// RedisURL enables the Redis sink. Empty means records go to the
	// process log only.
	RedisURL string `toml:"redis_url"`
}

// New returns the Redis sink when configured, the plain log sink otherwise.
func New(config *Config) (Log, error) {
	if config != nil && config.RedisURL != "" {
		return NewRedisLog(config.RedisURL)
	}

	return LogSink{}, nil
}

// LogSink writes activity records to the process log only.
type LogSink struct{}

func (LogSink) Append(_ context.Context, record model.Activity) {
	if record.CreatedAt.IsZero() {
		record.CreatedAt = time.Now().UTC()
	}

	log.WithFields(log.Fields{
		"type":      record.Type,
		"payer_id":  record.PayerID,
		"server_id": record.ServerID,
		"amount":    record.AmountCents,
	}).Info(record.Message)
}
