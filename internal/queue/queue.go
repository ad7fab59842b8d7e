package queue

import (
	"context"
	"errors"
	"time"

	"github.com/fxamacker/cbor/v2"
	"github.com/redis/go-redis/v9"
)

// Event types published by the attendance service.
const (
	TypeCheckIn  = "visit.checkin"
	TypeCheckOut = "visit.checkout"
	TypeRotated  = "visit.rotated"
	TypeManual   = "visit.manual_attendance"
	TypeFeedback = "visit.feedback"
)

// DefaultKey is the Redis list used when none is configured.
const DefaultKey = "visits:events"

// Message is one visit event.
type Message struct {
	Type       string    `cbor:"1,keyasint"`
	VisitID    string    `cbor:"2,keyasint"`
	ActorID    string    `cbor:"3,keyasint,omitempty"`
	Generation int       `cbor:"4,keyasint,omitempty"`
	Detail     string    `cbor:"5,keyasint,omitempty"`
	At         time.Time `cbor:"6,keyasint"`
}

// Queue is the abstraction over different backends.
type Queue interface {
	Publish(ctx context.Context, msg Message) error
	Consume(ctx context.Context) (<-chan Message, error)
}

// InMemory is a minimal channel-backed queue for dev/testing.
type InMemory struct {
	ch chan Message
}

// NewInMemory creates a bounded in-memory queue.
func NewInMemory(size int) *InMemory {
	return &InMemory{ch: make(chan Message, size)}
}

// Publish enqueues a message.
func (q *InMemory) Publish(ctx context.Context, msg Message) error {
	select {
	case q.ch <- msg:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Consume returns a channel for workers.
func (q *InMemory) Consume(ctx context.Context) (<-chan Message, error) {
	out := make(chan Message)
	go func() {
		defer close(out)
		for {
			select {
			case msg := <-q.ch:
				select {
				case out <- msg:
				case <-ctx.Done():
					return
				}
			case <-ctx.Done():
				return
			}
		}
	}()
	return out, nil
}

// RedisQueue implements a Redis list-backed queue.
type RedisQueue struct {
	client *redis.Client
	key    string
}

// NewRedisQueue builds a queue using LPUSH/BRPOP semantics.
func NewRedisQueue(client *redis.Client, key string) *RedisQueue {
	if key == "" {
		key = DefaultKey
	}
	return &RedisQueue{client: client, key: key}
}

// Publish enqueues a message.
func (q *RedisQueue) Publish(ctx context.Context, msg Message) error {
	data, err := Encode(msg)
	if err != nil {
		return err
	}
	return q.client.LPush(ctx, q.key, data).Err()
}

// Consume streams messages using BRPOP. Undecodable entries are dropped.
func (q *RedisQueue) Consume(ctx context.Context) (<-chan Message, error) {
	out := make(chan Message)
	go func() {
		defer close(out)
		for {
			res, err := q.client.BRPop(ctx, 5*time.Second, q.key).Result()
			if err != nil {
				if errors.Is(err, redis.Nil) {
					continue
				}
				if ctx.Err() != nil {
					return
				}
				time.Sleep(time.Second)
				continue
			}
			if len(res) != 2 {
				continue
			}
			msg, err := Decode([]byte(res[1]))
			if err != nil {
				continue
			}
			select {
			case out <- msg:
			case <-ctx.Done():
				return
			}
		}
	}()
	return out, nil
}

var encMode = func() cbor.EncMode {
	em, err := cbor.CoreDetEncOptions().EncMode()
	if err != nil {
		panic("queue: CBOR encoder initialization failed: " + err.Error())
	}
	return em
}()

// Encode serializes a message as deterministic CBOR.
func Encode(msg Message) ([]byte, error) {
	return encMode.Marshal(msg)
}

// Decode parses a message produced by Encode.
func Decode(data []byte) (Message, error) {
	var msg Message
	if err := cbor.Unmarshal(data, &msg); err != nil {
		return Message{}, err
	}
	return msg, nil
}
