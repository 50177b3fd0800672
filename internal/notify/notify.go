// Package notify delivers operator alerts and the decision journal.
package notify

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog/log"

	"github.com/rshade/fleetscale/internal/autoscaler"
)

// DefaultStreamMaxLen caps the journal stream length.
const DefaultStreamMaxLen = 10000

// LogAlerter writes alerts to the process log.
type LogAlerter struct{}

func (LogAlerter) Alert(_ context.Context, a autoscaler.Alert) {
	log.Error().
		Str("kind", string(a.Kind)).
		Int("desired", a.Desired).
		Time("at", a.At).
		Str("error", a.Err).
		Msg("ALERT: " + a.Message)
}

// LogJournal writes decisions to the process log at debug level.
type LogJournal struct{}

func (LogJournal) Record(_ context.Context, d autoscaler.Decision) {
	log.Debug().Interface("decision", d).Msg("Decision recorded")
}

// RedisOptions configures the Redis notifier.
type RedisOptions struct {
	Addr     string `mapstructure:"addr"`
	Password string `mapstructure:"password"`
	DB       int    `mapstructure:"db"`

	// Stream receives every decision via XADD.
	Stream string `mapstructure:"stream"`

	// Channel receives alerts via PUBLISH.
	Channel string `mapstructure:"channel"`

	StreamMaxLen int64 `mapstructure:"streamMaxLen"`
}

// Redis journals decisions to a stream and publishes alerts on a channel.
// Failures are logged and never returned; notification is best effort.
type Redis struct {
	client  *redis.Client
	stream  string
	channel string
	maxLen  int64
}

// NewRedis connects and pings the server.
func NewRedis(ctx context.Context, opts RedisOptions) (*Redis, error) {
	rdb := redis.NewClient(&redis.Options{
		Addr:         opts.Addr,
		Password:     opts.Password,
		DB:           opts.DB,
		DialTimeout:  5 * time.Second,
		ReadTimeout:  3 * time.Second,
		WriteTimeout: 3 * time.Second,
	})

	pctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := rdb.Ping(pctx).Err(); err != nil {
		return nil, fmt.Errorf("failed to connect to Redis at %s: %w", opts.Addr, err)
	}

	r := newRedis(rdb, opts)
	log.Info().Str("addr", opts.Addr).Str("stream", r.stream).Str("channel", r.channel).Msg("Connected to Redis")
	return r, nil
}

func newRedis(rdb *redis.Client, opts RedisOptions) *Redis {
	r := &Redis{
		client:  rdb,
		stream:  opts.Stream,
		channel: opts.Channel,
		maxLen:  opts.StreamMaxLen,
	}
	if r.stream == "" {
		r.stream = "fleetscale:decisions"
	}
	if r.channel == "" {
		r.channel = "fleetscale:alerts"
	}
	if r.maxLen <= 0 {
		r.maxLen = DefaultStreamMaxLen
	}
	return r
}

// Record appends the decision to the journal stream.
func (r *Redis) Record(ctx context.Context, d autoscaler.Decision) {
	payload, err := json.Marshal(d)
	if err != nil {
		log.Warn().Err(err).Str("decision", d.ID).Msg("Failed to encode decision")
		return
	}
	err = r.client.XAdd(ctx, &redis.XAddArgs{
		Stream: r.stream,
		MaxLen: r.maxLen,
		Approx: true,
		Values: decisionFields(d, payload),
	}).Err()
	if err != nil {
		log.Warn().Err(err).Str("stream", r.stream).Str("decision", d.ID).Msg("Failed to journal decision")
	}
}

// Alert publishes the alert as JSON.
func (r *Redis) Alert(ctx context.Context, a autoscaler.Alert) {
	payload, err := json.Marshal(a)
	if err != nil {
		log.Warn().Err(err).Msg("Failed to encode alert")
		return
	}
	if err := r.client.Publish(ctx, r.channel, payload).Err(); err != nil {
		log.Warn().Err(err).Str("channel", r.channel).Msg("Failed to publish alert")
	}
}

func (r *Redis) Close() error {
	return r.client.Close()
}

func decisionFields(d autoscaler.Decision, payload []byte) map[string]interface{} {
	return map[string]interface{}{
		"id":      d.ID,
		"trigger": string(d.Trigger),
		"outcome": string(d.Outcome),
		"desired": d.Desired,
		"json":    string(payload),
	}
}

// Alerters fans an alert out to several alerters.
type Alerters []autoscaler.Alerter

func (as Alerters) Alert(ctx context.Context, a autoscaler.Alert) {
	for _, al := range as {
		al.Alert(ctx, a)
	}
}

// Journals fans a decision out to several journals.
type Journals []autoscaler.Journal

func (js Journals) Record(ctx context.Context, d autoscaler.Decision) {
	for _, j := range js {
		j.Record(ctx, d)
	}
}
