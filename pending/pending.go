package pending

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"sync"
	"time"

	"github.com/go-redis/redis/v7"
)

// ErrRequestNotFound is returned when no local waiter holds the
// correlation ID.
var ErrRequestNotFound = errors.New("request not found")

// DefaultChannel is the pubsub channel results are announced on.
const DefaultChannel = "molsuite"

// BroadcastPayload ...
type BroadcastPayload struct {
	Data     []byte `json:"data"`
	Success  bool   `json:"success"`
	ErrorMsg string `json:"error_msg"`
}

// Registry matches results posted back by remote workers to the
// goroutine waiting for them. With a redis client, results that
// arrive at a replica without the waiter are stored in redis and
// announced over pubsub so that the owning replica can pick them up.
type Registry struct {
	requests           map[string]chan<- interface{}
	requestsL          sync.Mutex
	redis              *redis.Client
	channel            string
	pruneResultTimeout time.Duration
}

// NewRegistry creates a registry. client may be nil, in which case
// only local waiters can be fulfilled.
func NewRegistry(client *redis.Client, channel string, pruneResultTimeout time.Duration) *Registry {
	if channel == "" {
		channel = DefaultChannel
	}
	if pruneResultTimeout <= 0 {
		pruneResultTimeout = time.Minute
	}
	return &Registry{
		requests:           make(map[string]chan<- interface{}),
		redis:              client,
		channel:            channel,
		pruneResultTimeout: pruneResultTimeout,
	}
}

// Register reserves a correlation ID. The returned channel receives
// exactly one value, either []byte or error.
func (r *Registry) Register(correlationID string) <-chan interface{} {
	req := make(chan interface{}, 1)
	r.requestsL.Lock()
	r.requests[correlationID] = req
	r.requestsL.Unlock()
	return req
}

// Forget drops a waiter without fulfilling it.
func (r *Registry) Forget(correlationID string) {
	r.requestsL.Lock()
	delete(r.requests, correlationID)
	r.requestsL.Unlock()
}

// Len is the number of outstanding waiters.
func (r *Registry) Len() int {
	r.requestsL.Lock()
	defer r.requestsL.Unlock()
	return len(r.requests)
}

// Wait blocks until the correlation ID is fulfilled or ctx is done.
func (r *Registry) Wait(ctx context.Context, correlationID string, req <-chan interface{}) ([]byte, error) {
	select {
	case result := <-req:
		if err, ok := result.(error); ok && err != nil {
			return nil, err
		}
		if body, ok := result.([]byte); ok {
			return body, nil
		}
		return nil, fmt.Errorf("malformed response from channel %T(%v)", result, result)
	case <-ctx.Done():
		r.Forget(correlationID)
		return nil, ctx.Err()
	}
}

func (r *Registry) take(correlationID string) (chan<- interface{}, bool) {
	r.requestsL.Lock()
	defer r.requestsL.Unlock()
	req, ok := r.requests[correlationID]
	if ok {
		delete(r.requests, correlationID)
	}
	return req, ok
}

// FulfillSuccess delivers data to the waiter, locally if possible and
// through redis otherwise.
func (r *Registry) FulfillSuccess(correlationID string, data []byte) error {
	if req, ok := r.take(correlationID); ok {
		req <- data
		close(req)
		log.Printf("%s fulfilled locally", correlationID)
		return nil
	}
	if r.redis == nil {
		return ErrRequestNotFound
	}
	if err := r.broadcast(correlationID, &BroadcastPayload{
		Data:    data,
		Success: true,
	}); err != nil {
		return err
	}
	log.Printf("%s fulfilled remotely", correlationID)
	return nil
}

// FulfillError delivers a failure to the waiter.
func (r *Registry) FulfillError(correlationID string, errorMsg string) error {
	if req, ok := r.take(correlationID); ok {
		req <- errors.New(errorMsg)
		close(req)
		return nil
	}
	if r.redis == nil {
		return ErrRequestNotFound
	}
	return r.broadcast(correlationID, &BroadcastPayload{
		ErrorMsg: errorMsg,
	})
}

func rkResult(correlationID string) string {
	return fmt.Sprintf("r:%s:i", correlationID)
}

func (r *Registry) broadcast(correlationID string, payload *BroadcastPayload) error {
	body, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("marshal: %v", err)
	}
	p := r.redis.Pipeline()
	p.Set(rkResult(correlationID), body, r.pruneResultTimeout)
	p.Publish(r.channel, correlationID)
	if _, err := p.Exec(); err != nil {
		return fmt.Errorf("redis: %v", err)
	}
	return nil
}

// Listen subscribes to the result channel and fulfills local waiters
// until ctx is done. It returns once the subscription is confirmed;
// messages are handled in a background goroutine.
func (r *Registry) Listen(ctx context.Context) error {
	if r.redis == nil {
		return nil
	}
	pubsub := r.redis.Subscribe(r.channel)
	// Wait for confirmation that subscription is created before publishing anything.
	if _, err := pubsub.Receive(); err != nil {
		pubsub.Close()
		return fmt.Errorf("pubsub: %v", err)
	}
	go r.listenForPubSub(ctx, pubsub)
	return nil
}

func (r *Registry) listenForPubSub(ctx context.Context, pubsub *redis.PubSub) {
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
			if msg.Channel != r.channel {
				continue
			}
			if err := r.handleBroadcastPayload(msg.Payload); err != nil && !errors.Is(err, ErrRequestNotFound) {
				log.Printf("error handling broadcast payload: %v", err)
			}
		}
	}
}

func (r *Registry) handleBroadcastPayload(correlationID string) error {
	req, ok := r.take(correlationID)
	if !ok {
		return ErrRequestNotFound
	}
	defer close(req)

	key := rkResult(correlationID)
	p := r.redis.Pipeline()
	getCmd := p.Get(key)
	p.Del(key)
	if _, err := p.Exec(); err != nil {
		req <- fmt.Errorf("redis: %v", err)
		return fmt.Errorf("redis: %v", err)
	}
	data, _ := getCmd.Bytes()
	payload := &BroadcastPayload{}
	if err := json.Unmarshal(data, payload); err != nil {
		req <- fmt.Errorf("unmarshal: %v", err)
		return fmt.Errorf("unmarshal: %v", err)
	}
	if payload.Success {
		req <- payload.Data
		log.Printf("%s fulfilled from remote", correlationID)
	} else {
		req <- errors.New(payload.ErrorMsg)
		log.Printf("%s remote error: %v", correlationID, payload.ErrorMsg)
	}
	return nil
}
