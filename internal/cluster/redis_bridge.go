// Package cluster carries room broadcasts between relay instances.
package cluster

import (
	"context"
	"encoding/json"
	"fmt"
	"log"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
)

const DefaultChannel = "relay:rooms"

// envelope is what travels over Redis. Frame is the exact websocket frame
// the origin instance delivered to its own members.
type envelope struct {
	Origin  string          `json:"origin"`
	RoomID  string          `json:"roomId"`
	Exclude string          `json:"exclude,omitempty"`
	Frame   json.RawMessage `json:"frame"`
}

// DeliverFunc hands a foreign frame to the local hub.
type DeliverFunc func(roomID string, frame []byte, excludeSessionID string)

// RedisBridge publishes room frames on one Redis channel and delivers the
// frames of other instances locally.
type RedisBridge struct {
	client     *redis.Client
	channel    string
	instanceID string
}

func NewRedisBridge(client *redis.Client, channel string) *RedisBridge {
	if channel == "" {
		channel = DefaultChannel
	}
	return &RedisBridge{client: client, channel: channel, instanceID: uuid.NewString()}
}

// InstanceID identifies this relay process on the channel.
func (b *RedisBridge) InstanceID() string {
	return b.instanceID
}

// Publish implements ws.Bridge.
func (b *RedisBridge) Publish(ctx context.Context, roomID string, frame []byte, excludeSessionID string) error {
	body, err := encode(b.instanceID, roomID, frame, excludeSessionID)
	if err != nil {
		return err
	}
	return b.client.Publish(ctx, b.channel, body).Err()
}

// Run subscribes to the channel and delivers foreign frames until ctx is done.
func (b *RedisBridge) Run(ctx context.Context, deliver DeliverFunc) error {
	pubsub := b.client.Subscribe(ctx, b.channel)
	defer pubsub.Close()

	if _, err := pubsub.Receive(ctx); err != nil {
		return fmt.Errorf("subscribe %s: %w", b.channel, err)
	}
	log.Printf("redis bridge subscribed channel=%s instance=%s", b.channel, b.instanceID)

	ch := pubsub.Channel()
	for {
		select {
		case <-ctx.Done():
			return nil
		case msg, ok := <-ch:
			if !ok {
				return nil
			}
			b.handle(msg.Payload, deliver)
		}
	}
}

func (b *RedisBridge) handle(payload string, deliver DeliverFunc) {
	env, err := decode(payload)
	if err != nil {
		log.Printf("redis bridge bad payload: %v", err)
		return
	}
	if env.Origin == b.instanceID {
		return
	}
	deliver(env.RoomID, env.Frame, env.Exclude)
}

func encode(origin, roomID string, frame []byte, exclude string) ([]byte, error) {
	return json.Marshal(envelope{Origin: origin, RoomID: roomID, Exclude: exclude, Frame: frame})
}

func decode(payload string) (envelope, error) {
	var env envelope
	if err := json.Unmarshal([]byte(payload), &env); err != nil {
		return envelope{}, err
	}
	if env.RoomID == "" || len(env.Frame) == 0 {
		return envelope{}, fmt.Errorf("incomplete envelope")
	}
	return env, nil
}
