package feed

import (
	"context"
	"encoding/json"
	"log"
	"sync"
	"time"

	goredis "github.com/redis/go-redis/v9"

	"advisorchat/internal/models"
	"advisorchat/internal/redis"
)

const (
	redisMessageChannel = "chat:messages"

	reconnectBaseDelay = 250 * time.Millisecond
	reconnectMaxDelay  = 10 * time.Second
	reconnectPingWait  = time.Second
)

// Redis bridges the in-process hub over a redis pub/sub channel so
// every service instance observes every insert. Missed events while
// disconnected are not replayed; instead every re-established
// subscription broadcasts StatusSubscribed so viewers re-fetch history
// and close the gap.
type Redis struct {
	hub    *Hub
	client *redis.Client
	pubsub *goredis.PubSub
	closed chan struct{}
	once   sync.Once
}

// NewRedis wires the hub to the shared redis channel and starts the
// background listener. The returned feed is ready for subscribers.
func NewRedis(client *redis.Client) (*Redis, error) {
	f := &Redis{
		hub:    NewHub(),
		client: client,
		closed: make(chan struct{}),
	}
	f.pubsub = client.Raw().Subscribe(context.Background(), redisMessageChannel)
	if _, err := f.pubsub.Receive(context.Background()); err != nil {
		f.pubsub.Close()
		return nil, err
	}
	go f.run()
	return f, nil
}

// Close stops the background listener and tears down the pub/sub
// connection. Safe to call more than once.
func (f *Redis) Close() {
	f.once.Do(func() {
		close(f.closed)
		f.pubsub.Close()
	})
}

// Subscribe registers an in-process listener.
func (f *Redis) Subscribe(filter Filter) (*Subscription, error) {
	return f.hub.Subscribe(filter)
}

// Publish broadcasts msg to all instances via redis. Local delivery
// happens when the published payload is received back on the channel.
func (f *Redis) Publish(ctx context.Context, msg models.Message) error {
	payload, err := json.Marshal(msg)
	if err != nil {
		return err
	}
	return f.client.Publish(ctx, redisMessageChannel, payload)
}

func (f *Redis) run() {
	for {
		msg, err := f.pubsub.ReceiveMessage(context.Background())
		if err != nil {
			if f.isClosed() {
				return
			}
			// Connection lost. Viewers drop to history-only until the
			// channel answers again.
			f.hub.BroadcastStatus(StatusError)
			if !f.reconnect() {
				return
			}
			// Pushes during the gap are gone for good; the subscribed
			// signal makes every viewer re-fetch.
			f.hub.BroadcastStatus(StatusSubscribed)
			continue
		}
		var m models.Message
		if err := json.Unmarshal([]byte(msg.Payload), &m); err != nil {
			log.Printf("feed: decode message failed: %v", err)
			continue
		}
		f.hub.Broadcast(m)
	}
}

// reconnect pings the pub/sub connection until it answers again, which
// also re-subscribes the channel. Backs off between attempts; returns
// false once the feed is closed.
func (f *Redis) reconnect() bool {
	delay := reconnectBaseDelay
	for {
		select {
		case <-f.closed:
			return false
		case <-time.After(delay):
		}
		ctx, cancel := context.WithTimeout(context.Background(), reconnectPingWait)
		err := f.pubsub.Ping(ctx)
		cancel()
		if err == nil {
			return true
		}
		log.Printf("feed: redis subscription down, retrying: %v", err)
		if delay *= 2; delay > reconnectMaxDelay {
			delay = reconnectMaxDelay
		}
	}
}

func (f *Redis) isClosed() bool {
	select {
	case <-f.closed:
		return true
	default:
		return false
	}
}
