package session

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/elly-james/camision/pkg/models"
)

const (
	maxReconnects  = 5
	reconnectDelay = time.Second
)

// ChannelState is the lifecycle of one topic subscription.
type ChannelState int

const (
	ChannelDisconnected ChannelState = iota
	ChannelConnecting
	ChannelConnected
)

// Channel keeps websocket subscriptions to the push topics alive, feeding
// every received envelope into the session. A dropped connection is redialed
// up to five times, one second apart; a successful connect resets the budget.
type Channel struct {
	baseURL string
	token   func() string
	session *Session

	// dial and delay are swapped out in tests.
	dial  func(ctx context.Context, url string) (wsConn, error)
	delay time.Duration

	// onDown fires when a topic's reconnect budget is exhausted.
	onDown func(topic string)

	mu     sync.Mutex
	states map[string]ChannelState

	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// wsConn is the slice of *websocket.Conn the channel needs.
type wsConn interface {
	ReadJSON(v any) error
	Close() error
}

// NewChannel creates a channel against a ws:// or wss:// base URL. token is
// called before each dial so a refreshed access token is picked up.
func NewChannel(baseURL string, token func() string, session *Session) *Channel {
	return &Channel{
		baseURL: baseURL,
		token:   token,
		session: session,
		states:  map[string]ChannelState{},
		onDown:  func(string) {},
		delay:   reconnectDelay,
		dial: func(ctx context.Context, url string) (wsConn, error) {
			conn, _, err := websocket.DefaultDialer.DialContext(ctx, url, nil)
			return conn, err
		},
	}
}

// OnDown registers a callback for when a topic gives up reconnecting.
func (c *Channel) OnDown(fn func(topic string)) {
	c.onDown = fn
}

// Connect subscribes to both topics and returns immediately; the
// subscriptions run until Close.
func (c *Channel) Connect(ctx context.Context) {
	ctx, cancel := context.WithCancel(ctx)
	c.cancel = cancel

	for _, topic := range []string{models.TopicJobs, models.TopicMessages} {
		c.wg.Add(1)
		go c.run(ctx, topic)
	}
}

// Close tears down all subscriptions. Used on logout.
func (c *Channel) Close() {
	if c.cancel != nil {
		c.cancel()
	}
	c.wg.Wait()
}

// State reports a topic's connection state.
func (c *Channel) State(topic string) ChannelState {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.states[topic]
}

func (c *Channel) setState(topic string, st ChannelState) {
	c.mu.Lock()
	c.states[topic] = st
	c.mu.Unlock()
}

func (c *Channel) run(ctx context.Context, topic string) {
	defer c.wg.Done()
	defer c.setState(topic, ChannelDisconnected)

	attempts := 0
	for {
		if ctx.Err() != nil {
			return
		}

		c.setState(topic, ChannelConnecting)
		conn, err := c.dial(ctx, c.baseURL+"/ws/"+topic+"?token="+c.token())
		if err != nil {
			attempts++
			if attempts >= maxReconnects {
				slog.Warn("push channel gave up", "topic", topic, "attempts", attempts)
				c.setState(topic, ChannelDisconnected)
				c.onDown(topic)
				return
			}
			if sleepErr := sleepOrDone(ctx, c.delay); sleepErr != nil {
				return
			}
			continue
		}

		attempts = 0
		c.setState(topic, ChannelConnected)
		c.pump(ctx, topic, conn)

		// Connection dropped; redial unless shutting down.
		if ctx.Err() != nil {
			return
		}
		attempts++
		if attempts >= maxReconnects {
			c.setState(topic, ChannelDisconnected)
			c.onDown(topic)
			return
		}
		if err := sleepOrDone(ctx, c.delay); err != nil {
			return
		}
	}
}

// pump reads envelopes until the connection fails or ctx is canceled.
func (c *Channel) pump(ctx context.Context, topic string, conn wsConn) {
	done := make(chan struct{})
	defer close(done)

	go func() {
		select {
		case <-ctx.Done():
			conn.Close()
		case <-done:
		}
	}()

	for {
		var env models.Envelope
		if err := conn.ReadJSON(&env); err != nil {
			conn.Close()
			return
		}
		c.session.ApplyEvent(ctx, env)
	}
}

func sleepOrDone(ctx context.Context, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}
