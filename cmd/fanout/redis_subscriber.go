package main

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/lyzr/mutwizard/common/feedback"
	"github.com/lyzr/mutwizard/common/logger"
	"github.com/lyzr/mutwizard/common/redis"
)

// RedisSubscriber listens to the status channel and forwards every status
// message to the hub
type RedisSubscriber struct {
	redis   *redis.Client
	channel string
	hub     *Hub
	log     *logger.Logger
}

// NewRedisSubscriber creates a new RedisSubscriber instance
func NewRedisSubscriber(redisClient *redis.Client, channel string, hub *Hub, log *logger.Logger) *RedisSubscriber {
	return &RedisSubscriber{
		redis:   redisClient,
		channel: channel,
		hub:     hub,
		log:     log,
	}
}

// Start subscribes and forwards messages until ctx is cancelled
func (s *RedisSubscriber) Start(ctx context.Context) error {
	pubsub, err := s.redis.Subscribe(ctx, s.channel)
	if err != nil {
		return err
	}
	defer pubsub.Close()

	s.log.Info("redis subscription confirmed", "channel", s.channel)

	ch := pubsub.Channel()
	for {
		select {
		case <-ctx.Done():
			s.log.Info("redis subscriber stopping")
			return nil

		case msg, ok := <-ch:
			if !ok {
				return fmt.Errorf("redis subscription to %s closed", s.channel)
			}
			if err := s.forward([]byte(msg.Payload)); err != nil {
				s.log.Warn("invalid status message", "channel", msg.Channel, "error", err)
			}
		}
	}
}

// forward routes one payload by the owner and run it carries
func (s *RedisSubscriber) forward(payload []byte) error {
	var status feedback.StatusMessage
	if err := json.Unmarshal(payload, &status); err != nil {
		return err
	}
	if status.OwnerID == "" {
		return fmt.Errorf("status for run %s has no owner", status.RunID)
	}

	s.hub.Publish(&Message{
		Owner: status.OwnerID,
		RunID: status.RunID,
		Data:  payload,
	})
	return nil
}
