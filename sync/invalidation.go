// Package sync fans invalidation events out to sibling dataplane
// instances over Redis pub/sub, so a write on one instance drops
// matching local-layer entries everywhere.
package sync

import (
	"context"
	"encoding/json"
	"sync"

	"github.com/redis/go-redis/v9"

	"github.com/ciscoittech/pingtopass-dataplane/types"
)

// InvalidationEvent is an alias for types.InvalidationEvent.
type InvalidationEvent = types.InvalidationEvent

// PubSubSynchronizer broadcasts and receives invalidation prefixes
// using Redis Pub/Sub. Delivery is best effort: the shared layer is
// already purged by the publisher, so a lost event only delays a
// sibling's local layer until its short TTL expires.
type PubSubSynchronizer struct {
	client         *redis.Client
	channel        string
	instanceID     string
	pubsub         *redis.PubSub
	callbacks      []func(event InvalidationEvent)
	callbacksMutex sync.RWMutex
	done           chan struct{}
	wg             sync.WaitGroup
}

// NewPubSubSynchronizer creates a new Pub/Sub synchronizer.
func NewPubSubSynchronizer(client *redis.Client, channel, instanceID string) *PubSubSynchronizer {
	return &PubSubSynchronizer{
		client:     client,
		channel:    channel,
		instanceID: instanceID,
		callbacks:  make([]func(event InvalidationEvent), 0),
		done:       make(chan struct{}),
	}
}

// Subscribe starts listening for invalidation events.
func (ps *PubSubSynchronizer) Subscribe(ctx context.Context) error {
	ps.pubsub = ps.client.Subscribe(ctx, ps.channel)

	ps.wg.Add(1)
	go ps.listenForEvents()

	return nil
}

// Publish publishes an invalidation event, stamping this instance as
// the sender so it skips its own broadcast.
func (ps *PubSubSynchronizer) Publish(ctx context.Context, event InvalidationEvent) error {
	event.Sender = ps.instanceID

	data, err := json.Marshal(event)
	if err != nil {
		return err
	}

	return ps.client.Publish(ctx, ps.channel, string(data)).Err()
}

// OnInvalidate registers a callback for invalidation events.
func (ps *PubSubSynchronizer) OnInvalidate(callback func(event InvalidationEvent)) {
	ps.callbacksMutex.Lock()
	defer ps.callbacksMutex.Unlock()
	ps.callbacks = append(ps.callbacks, callback)
}

// Close closes the synchronizer.
func (ps *PubSubSynchronizer) Close() error {
	close(ps.done)
	ps.wg.Wait()

	if ps.pubsub != nil {
		return ps.pubsub.Close()
	}
	return nil
}

// listenForEvents listens for invalidation events from Redis Pub/Sub.
func (ps *PubSubSynchronizer) listenForEvents() {
	defer ps.wg.Done()

	if ps.pubsub == nil {
		return
	}

	ch := ps.pubsub.Channel()

	for {
		select {
		case <-ps.done:
			return
		case msg := <-ch:
			if msg == nil {
				return
			}

			var event InvalidationEvent
			if err := json.Unmarshal([]byte(msg.Payload), &event); err != nil {
				continue
			}

			// The sender already invalidated its own layers.
			if event.Sender == ps.instanceID {
				continue
			}

			ps.callbacksMutex.RLock()
			callbacks := ps.callbacks
			ps.callbacksMutex.RUnlock()

			for _, callback := range callbacks {
				callback(event)
			}
		}
	}
}
