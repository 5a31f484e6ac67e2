// Package ingest pulls telemetry from a Redis pub/sub channel and feeds
// it into the pipeline. The intake is optional: producers that cannot
// POST to /telemetry publish the same JSON bodies to the channel instead.
package ingest

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/go-redis/redis/v8"
	"go.uber.org/zap"

	"github.com/RONNYKD/GUARDIAN-AI/internal/config"
	"github.com/RONNYKD/GUARDIAN-AI/internal/pipeline"
)

// overloadBackoff pauses consumption after the pipeline reports
// saturation, letting the workers drain before the next message.
const overloadBackoff = time.Second

// Submitter is the slice of the pipeline the intake needs.
type Submitter interface {
	Submit(ctx context.Context, body []byte) (*pipeline.SubmitResult, error)
}

// RedisIntake consumes telemetry bodies from one pub/sub channel.
type RedisIntake struct {
	client  *redis.Client
	channel string
	sink    Submitter
	logger  *zap.Logger
	backoff time.Duration

	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// NewRedisIntake connects a subscriber to the configured broker. The
// caller only constructs one when cfg.Intake.RedisAddr is set.
func NewRedisIntake(cfg *config.Config, logger *zap.Logger, sink Submitter) *RedisIntake {
	client := redis.NewClient(&redis.Options{Addr: cfg.Intake.RedisAddr})
	return &RedisIntake{
		client:  client,
		channel: cfg.Intake.RedisChannel,
		sink:    sink,
		logger:  logger,
		backoff: overloadBackoff,
	}
}

// Start verifies the connection, subscribes, and consumes until Stop.
func (in *RedisIntake) Start(ctx context.Context) error {
	if err := in.client.Ping(ctx).Err(); err != nil {
		return fmt.Errorf("redis unreachable: %w", err)
	}

	ctx, in.cancel = context.WithCancel(ctx)
	pubsub := in.client.Subscribe(ctx, in.channel)
	if _, err := pubsub.Receive(ctx); err != nil {
		in.cancel()
		return fmt.Errorf("subscribe %s: %w", in.channel, err)
	}

	in.wg.Add(1)
	go func() {
		defer in.wg.Done()
		defer pubsub.Close()
		in.logger.Info("broker intake started", zap.String("channel", in.channel))

		ch := pubsub.Channel()
		for {
			select {
			case <-ctx.Done():
				return
			case msg, ok := <-ch:
				if !ok {
					return
				}
				in.handleMessage(ctx, []byte(msg.Payload))
			}
		}
	}()
	return nil
}

// handleMessage submits one published body. Intake has no reply path, so
// rejections are logged instead of returned. On overload the body is
// resubmitted after the backoff; holding the consume loop on one message
// is the back-pressure, bounded by ctx cancellation.
func (in *RedisIntake) handleMessage(ctx context.Context, body []byte) {
	for {
		res, err := in.sink.Submit(ctx, body)
		switch {
		case errors.Is(err, pipeline.ErrOverloaded):
			in.logger.Warn("pipeline overloaded, pausing intake",
				zap.Duration("backoff", in.backoff))
			select {
			case <-ctx.Done():
				return
			case <-time.After(in.backoff):
			}
			continue
		case err != nil:
			in.logger.Warn("unparseable broker message", zap.Error(err))
			return
		}

		for _, rej := range res.Rejected {
			in.logger.Warn("broker record rejected",
				zap.Int("index", rej.Index),
				zap.String("reason", rej.Reason))
		}
		return
	}
}

// Stop ends consumption and closes the client.
func (in *RedisIntake) Stop() error {
	if in.cancel != nil {
		in.cancel()
	}
	in.wg.Wait()
	return in.client.Close()
}
