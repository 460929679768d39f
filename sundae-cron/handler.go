// Package sundaecron provides utilities for building scheduled Lambda
// functions, such as jobs that broadcast to sundaews groups on a timer.
package sundaecron

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	sundaecli "github.com/SundaeSwap-finance/sundae-gqlws/sundae-cli"
	"github.com/SundaeSwap-finance/sundae-gqlws/sundae-ws/groupchannel"
	"github.com/aws/aws-lambda-go/lambda"
	"github.com/rs/zerolog"
)

type RunCallback func(ctx context.Context) error

// PayloadCallback produces the payload of a scheduled broadcast.
type PayloadCallback func(ctx context.Context) (interface{}, error)

type Handler struct {
	service sundaecli.Service
	logger  zerolog.Logger

	runOnce RunCallback
}

func NewHandler(
	service sundaecli.Service,
	runOnce RunCallback,
) *Handler {
	return &Handler{
		service: service,
		logger:  sundaecli.Logger(service),
		runOnce: runOnce,
	}
}

// NewBroadcastHandler runs a job that broadcasts one payload to group on
// every invocation.
func NewBroadcastHandler(
	service sundaecli.Service,
	channel groupchannel.Channel,
	group string,
	payload PayloadCallback,
) *Handler {
	h := NewHandler(service, nil)
	h.runOnce = func(ctx context.Context) error {
		v, err := payload(ctx)
		if err != nil {
			return fmt.Errorf("building payload for %v: %w", group, err)
		}
		if err := groupchannel.Broadcast(ctx, channel, group, v); err != nil {
			return err
		}
		h.logger.Info().Str("group", group).Msg("scheduled broadcast sent")
		return nil
	}
	return h
}

func (h *Handler) RunOnce(ctx context.Context, _ json.RawMessage) error {
	h.logger.Info().Msg("running scheduled task")
	return h.runOnce(ctx)
}

func (h *Handler) Start() error {
	switch {
	case sundaecli.CommonOpts.Console:
		return h.runOnce(context.Background())

	default:
		lambda.Start(h.RunOnce)
	}
	return nil
}

// Every runs the task each interval until ctx is done, for long-lived
// processes that host the schedule themselves.
func (h *Handler) Every(ctx context.Context, interval time.Duration) error {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
			if err := h.runOnce(ctx); err != nil {
				h.logger.Error().Err(err).Msg("scheduled task failed")
			}
		}
	}
}
