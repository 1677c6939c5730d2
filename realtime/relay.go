package realtime

import (
	"context"
	"encoding/json"
	"log"

	"github.com/google/uuid"
	redis "github.com/redis/go-redis/v9"
)

const relayChannel = "consult:events"

// relayEnvelope wraps an Event with the publishing instance id so a node can
// skip events it already delivered locally.
type relayEnvelope struct {
	Origin string `json:"origin"`
	Event  Event  `json:"event"`
}

// Relay mirrors hub events across instances through Redis pub/sub, so a party
// connected to one node still receives pushes for writes accepted on another.
type Relay struct {
	hub      *Hub
	rdb      *redis.Client
	instance string
	cancel   context.CancelFunc
}

// AttachRelay connects the hub to a Redis-backed relay and starts replaying
// remote events into local subscribers. Returns the relay for teardown.
func (h *Hub) AttachRelay(rdb *redis.Client) *Relay {
	ctx, cancel := context.WithCancel(context.Background())
	r := &Relay{
		hub:      h,
		rdb:      rdb,
		instance: uuid.NewString(),
		cancel:   cancel,
	}
	h.mu.Lock()
	h.relay = r
	h.mu.Unlock()
	go r.run(ctx)
	return r
}

// Close stops the relay loop. The hub keeps working single-instance.
func (r *Relay) Close() {
	r.hub.mu.Lock()
	if r.hub.relay == r {
		r.hub.relay = nil
	}
	r.hub.mu.Unlock()
	r.cancel()
}

func (r *Relay) forward(ev Event) {
	payload, err := json.Marshal(relayEnvelope{Origin: r.instance, Event: ev})
	if err != nil {
		log.Printf("[Realtime] relay marshal failed: %v", err)
		return
	}
	if err := r.rdb.Publish(context.Background(), relayChannel, payload).Err(); err != nil {
		// Relay failures degrade to single-instance delivery, never block sends.
		log.Printf("[Realtime] relay publish failed: %v", err)
	}
}

func (r *Relay) run(ctx context.Context) {
	pubsub := r.rdb.Subscribe(ctx, relayChannel)
	defer pubsub.Close()

	ch := pubsub.Channel()
	for {
		select {
		case <-ctx.Done():
			return
		case msg, ok := <-ch:
			if !ok {
				return
			}
			var env relayEnvelope
			if err := json.Unmarshal([]byte(msg.Payload), &env); err != nil {
				log.Printf("[Realtime] relay decode failed: %v", err)
				continue
			}
			if env.Origin == r.instance {
				continue
			}
			r.hub.publishLocal(env.Event)
		}
	}
}
