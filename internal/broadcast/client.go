package broadcast

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"

	"github.com/google/uuid"
	"github.com/nats-io/nats.go"
	"github.com/nats-io/nats.go/jetstream"
	"github.com/rs/zerolog/log"

	"github.com/mgriffin/drawdash/internal/events"
)

type ClientConfig struct {
	Conn          ConnConfig
	StreamName    string
	SubjectPrefix string
}

func DefaultClientConfig() ClientConfig {
	return ClientConfig{
		Conn:          DefaultConnConfig(),
		StreamName:    DefaultStreamName,
		SubjectPrefix: DefaultSubjectPrefix,
	}
}

// Client is the subscribing side of the broadcast channel. Each game gets its
// own ordered consumer filtered to that game's subjects; ordered consumers
// recreate themselves after connection loss, and the reconnect hook lets
// subscribers refresh state to cover the gap.
type Client struct {
	nc     *nats.Conn
	js     jetstream.JetStream
	config ClientConfig

	mu             sync.Mutex
	subs           map[uuid.UUID]jetstream.ConsumeContext
	statusHandlers []func(connected bool)
}

func NewClient(cfg ClientConfig) (*Client, error) {
	c := &Client{
		config: cfg,
		subs:   make(map[uuid.UUID]jetstream.ConsumeContext),
	}

	nc, js, err := connect(cfg.Conn, c.notifyStatus)
	if err != nil {
		return nil, err
	}
	c.nc = nc
	c.js = js

	return c, nil
}

// Subscribe starts delivering this game's events to handler. Only events
// published after the subscription begins are delivered.
func (c *Client) Subscribe(gameID uuid.UUID, handler func(ev events.Event)) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if _, ok := c.subs[gameID]; ok {
		return fmt.Errorf("already subscribed to game %s", gameID)
	}

	ctx := context.Background()
	stream, err := c.js.Stream(ctx, c.config.StreamName)
	if err != nil {
		return fmt.Errorf("get stream: %w", err)
	}

	consumer, err := stream.OrderedConsumer(ctx, jetstream.OrderedConsumerConfig{
		FilterSubjects: []string{fmt.Sprintf("%s.%s.>", c.config.SubjectPrefix, gameID)},
		DeliverPolicy:  jetstream.DeliverNewPolicy,
	})
	if err != nil {
		return fmt.Errorf("create ordered consumer: %w", err)
	}

	cc, err := consumer.Consume(func(msg jetstream.Msg) {
		var ev events.Event
		if err := json.Unmarshal(msg.Data(), &ev); err != nil {
			log.Error().
				Err(err).
				Str("subject", msg.Subject()).
				Msg("failed to unmarshal broadcast event")
			return
		}
		handler(ev)
	})
	if err != nil {
		return fmt.Errorf("start consumer: %w", err)
	}

	c.subs[gameID] = cc
	log.Info().Str("game_id", gameID.String()).Msg("subscribed to game events")
	return nil
}

func (c *Client) Unsubscribe(gameID uuid.UUID) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	cc, ok := c.subs[gameID]
	if !ok {
		return fmt.Errorf("not subscribed to game %s", gameID)
	}
	cc.Stop()
	delete(c.subs, gameID)
	log.Info().Str("game_id", gameID.String()).Msg("unsubscribed from game events")
	return nil
}

// OnConnectionStatusChange registers a handler fired on disconnect (false)
// and reconnect (true).
func (c *Client) OnConnectionStatusChange(handler func(connected bool)) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.statusHandlers = append(c.statusHandlers, handler)
}

func (c *Client) notifyStatus(connected bool) {
	c.mu.Lock()
	handlers := make([]func(bool), len(c.statusHandlers))
	copy(handlers, c.statusHandlers)
	c.mu.Unlock()

	for _, h := range handlers {
		h(connected)
	}
}

func (c *Client) Close() error {
	c.mu.Lock()
	for id, cc := range c.subs {
		cc.Stop()
		delete(c.subs, id)
	}
	c.mu.Unlock()

	if c.nc != nil {
		c.nc.Close()
	}
	return nil
}
