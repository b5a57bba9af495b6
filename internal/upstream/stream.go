package upstream

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"math"
	"net/http"
	"strings"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/r3labs/sse/v2"

	"github.com/cloudradar/livemap/internal/retry"
	"github.com/cloudradar/livemap/pkg/logger"
)

// Stream event names that announce a batch
const (
	EventBatchUpdate = "batch-update"
	EventConnected   = "connected"
)

// ErrStreamClosed is reported when the server ends the event stream
var ErrStreamClosed = errors.New("event stream closed by server")

// StreamEvent is the payload of a batch announcement
type StreamEvent struct {
	LatestBatchEpoch *int64
	Timestamp        string
}

type streamPayload struct {
	LatestBatchEpoch *float64 `json:"latestOpenSkyBatchEpoch"`
	Timestamp        string   `json:"timestamp"`
}

// ParseStreamEvent decodes an event payload. Non-numeric epochs become nil.
func ParseStreamEvent(data string) (StreamEvent, error) {
	var payload streamPayload
	if err := json.Unmarshal([]byte(data), &payload); err != nil {
		return StreamEvent{}, fmt.Errorf("failed to parse stream event: %w", err)
	}

	event := StreamEvent{Timestamp: payload.Timestamp}
	if event.Timestamp == "" {
		event.Timestamp = time.Now().UTC().Format(time.RFC3339)
	}
	if v := payload.LatestBatchEpoch; v != nil && !math.IsNaN(*v) && !math.IsInf(*v, 0) {
		epoch := int64(*v)
		event.LatestBatchEpoch = &epoch
	}
	return event, nil
}

// Subscribe listens to batch announcements until the returned function is
// called or ctx is done. Dropped connections are retried with backoff and
// reported through onError.
func (c *Client) Subscribe(ctx context.Context, onEvent func(epoch *int64), onError func(err error)) func() {
	ctx, cancel := context.WithCancel(ctx)

	go func() {
		reconnect := retry.Exponential(c.cfg.ReconnectDelay, c.cfg.MaxReconnectDelay, 2)
		for {
			err := c.stream(ctx, reconnect, onEvent, onError)
			if ctx.Err() != nil {
				return
			}
			if err == nil {
				err = ErrStreamClosed
			}
			if onError != nil {
				onError(err)
			}

			delay := reconnect.NextBackOff()
			c.logger.Warn("Flight update stream interrupted, reconnecting",
				logger.Error(err),
				logger.Duration("delay", delay))

			timer := time.NewTimer(delay)
			select {
			case <-ctx.Done():
				timer.Stop()
				return
			case <-timer.C:
			}
		}
	}()

	return cancel
}

// stream runs one subscription. Failed connects and broken streams are
// retried inside it; it returns nil when the server ends the stream cleanly.
func (c *Client) stream(ctx context.Context, reconnect *backoff.ExponentialBackOff, onEvent func(epoch *int64), onError func(err error)) error {
	client := sse.NewClient(c.endpoint(c.cfg.FlightsPath+"/stream", nil))
	client.Connection = c.streamClient
	client.ReconnectStrategy = backoff.WithContext(reconnect, ctx)
	client.ReconnectNotify = func(err error, delay time.Duration) {
		c.logger.Warn("Flight update stream failed, retrying",
			logger.Error(err),
			logger.Duration("delay", delay))
		if onError != nil {
			onError(err)
		}
	}
	client.ResponseValidator = func(_ *sse.Client, resp *http.Response) error {
		if resp.StatusCode == http.StatusOK {
			return nil
		}
		resp.Body.Close()
		return &StatusError{StatusCode: resp.StatusCode, Message: strings.TrimSpace(resp.Status)}
	}
	client.OnConnect(func(*sse.Client) {
		reconnect.Reset()
		c.logger.Info("Subscribed to flight update stream")
	})
	client.OnDisconnect(func(*sse.Client) {
		c.logger.Debug("Flight update stream disconnected")
	})

	return client.SubscribeRawWithContext(ctx, func(msg *sse.Event) {
		name := string(msg.Event)
		if name != EventBatchUpdate && name != EventConnected {
			return
		}
		if len(msg.Data) == 0 {
			return
		}
		event, err := ParseStreamEvent(string(msg.Data))
		if err != nil {
			c.logger.Debug("Ignoring malformed stream event", logger.Error(err))
			return
		}
		onEvent(event.LatestBatchEpoch)
	})
}
