// Package feedback publishes record status changes to observers outside the
// engine: live status in Redis for viewers, and the service log.
package feedback

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/lyzr/mutwizard/common/engine"
	"github.com/lyzr/mutwizard/common/mutation"
	"github.com/lyzr/mutwizard/common/redis"
)

const (
	// EventStream is the Redis stream every status change is appended to
	EventStream = "mutwizard:events"

	eventStreamMaxLen = 10000
)

// Logger interface for logging
type Logger interface {
	Info(msg string, keysAndValues ...interface{})
	Error(msg string, keysAndValues ...interface{})
	Warn(msg string, keysAndValues ...interface{})
	Debug(msg string, keysAndValues ...interface{})
}

// StatusMessage is the wire form of one status change
type StatusMessage struct {
	OwnerID     string          `json:"owner_id,omitempty"`
	RunID       string          `json:"run_id"`
	Mode        engine.Mode     `json:"mode"`
	Residue     string          `json:"residue"`
	Target      string          `json:"target"`
	Status      mutation.Status `json:"status"`
	Previous    mutation.Status `json:"previous"`
	Rotamer     *int            `json:"rotamer,omitempty"`
	ErrorReason string          `json:"error_reason,omitempty"`
	Drift       bool            `json:"drift,omitempty"`
	DurationMS  int64           `json:"duration_ms,omitempty"`
	At          time.Time       `json:"at"`
}

// NewStatusMessage converts an engine event
func NewStatusMessage(ownerID string, ev engine.Event) StatusMessage {
	return StatusMessage{
		OwnerID:     ownerID,
		RunID:       ev.RunID.String(),
		Mode:        ev.Mode,
		Residue:     ev.Record.Residue.String(),
		Target:      ev.Record.TargetType,
		Status:      ev.Record.Status,
		Previous:    ev.Previous,
		Rotamer:     ev.Record.SelectedRotamer,
		ErrorReason: ev.Record.ErrorReason,
		Drift:       ev.Drift,
		DurationMS:  ev.Duration.Milliseconds(),
		At:          ev.At,
	}
}

// StatusKey is the hash holding the latest status per residue of a run
func StatusKey(runID string) string {
	return fmt.Sprintf("mutwizard:run:%s:status", runID)
}

// RedisSink writes every status change to a per-run hash, the event stream,
// and a pub/sub channel in one pipeline
type RedisSink struct {
	client  *redis.Client
	channel string
	ttl     time.Duration
	ownerID string
}

// RedisSinkOpts contains options for creating a Redis sink
type RedisSinkOpts struct {
	Client  *redis.Client
	Channel string
	// StatusTTL bounds how long a run's status hash is kept
	StatusTTL time.Duration
	OwnerID   string
}

// NewRedisSink creates a Redis-backed sink
func NewRedisSink(opts *RedisSinkOpts) *RedisSink {
	ttl := opts.StatusTTL
	if ttl <= 0 {
		ttl = 24 * time.Hour
	}
	return &RedisSink{
		client:  opts.Client,
		channel: opts.Channel,
		ttl:     ttl,
		ownerID: opts.OwnerID,
	}
}

// OnRecordStatusChanged implements engine.Sink
func (s *RedisSink) OnRecordStatusChanged(ctx context.Context, ev engine.Event) error {
	msg := NewStatusMessage(s.ownerID, ev)
	payload, err := json.Marshal(msg)
	if err != nil {
		return fmt.Errorf("failed to marshal status message: %w", err)
	}

	key := StatusKey(msg.RunID)
	pipe := s.client.NewPipeline()
	pipe.SetHash(ctx, key, ev.Record.Residue.Key(), string(msg.Status))
	pipe.Expire(ctx, key, s.ttl)
	pipe.AddToStream(ctx, EventStream, eventStreamMaxLen, map[string]interface{}{
		"run_id":  msg.RunID,
		"residue": msg.Residue,
		"status":  string(msg.Status),
		"payload": string(payload),
	})
	if s.channel != "" {
		pipe.PublishEvent(ctx, s.channel, string(payload))
	}

	if err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("failed to publish status of %s: %w", msg.Residue, err)
	}
	return nil
}

// Statuses returns the latest status per residue key for a run
func (s *RedisSink) Statuses(ctx context.Context, runID string) (map[string]string, error) {
	return s.client.GetAllHash(ctx, StatusKey(runID))
}

// LogSink writes status changes to the service log
type LogSink struct {
	logger Logger
}

// NewLogSink creates a log sink
func NewLogSink(logger Logger) *LogSink {
	return &LogSink{logger: logger}
}

// OnRecordStatusChanged implements engine.Sink
func (s *LogSink) OnRecordStatusChanged(ctx context.Context, ev engine.Event) error {
	kv := []interface{}{
		"run_id", ev.RunID.String(),
		"residue", ev.Record.Residue.String(),
		"target", ev.Record.TargetType,
		"status", ev.Record.Status,
		"previous", ev.Previous,
	}
	if ev.Record.SelectedRotamer != nil {
		kv = append(kv, "rotamer", *ev.Record.SelectedRotamer)
	}
	if ev.Record.ErrorReason != "" {
		kv = append(kv, "reason", ev.Record.ErrorReason)
	}

	if ev.Record.Status == mutation.StatusInProgress {
		s.logger.Debug("record status changed", kv...)
	} else {
		s.logger.Info("record status changed", kv...)
	}
	return nil
}
