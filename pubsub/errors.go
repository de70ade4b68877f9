package pubsub

import (
	"errors"
	"fmt"
)

var (
	// ErrAlreadySubscribed matches any AlreadySubscribedError.
	ErrAlreadySubscribed = errors.New("pubsub: already subscribed")
	// ErrSubscriptionNotFound matches any SubscriptionNotFoundError.
	ErrSubscriptionNotFound = errors.New("pubsub: subscription not found")
	// ErrNoAdapter means no routing backend is configured. Never
	// defaulted away: the caller has to name one.
	ErrNoAdapter = errors.New("pubsub: no adapter configured")
)

// AlreadySubscribedError reports a subscribe conflict: the subscriber
// already holds a subscription on that exact topic.
type AlreadySubscribedError struct {
	Topic string
}

func (e *AlreadySubscribedError) Error() string {
	return fmt.Sprintf("pubsub: already subscribed to %q", e.Topic)
}

func (e *AlreadySubscribedError) Is(target error) bool {
	return target == ErrAlreadySubscribed
}

// SubscriptionNotFoundError reports an unsubscribe for a subscription
// that does not exist.
type SubscriptionNotFoundError struct {
	Topic string
}

func (e *SubscriptionNotFoundError) Error() string {
	return fmt.Sprintf("pubsub: no subscription on %q", e.Topic)
}

func (e *SubscriptionNotFoundError) Is(target error) bool {
	return target == ErrSubscriptionNotFound
}

// UnknownAdapterError reports a configured adapter name with no
// registered implementation behind it.
type UnknownAdapterError struct {
	Name string
}

func (e *UnknownAdapterError) Error() string {
	return fmt.Sprintf("pubsub: unknown adapter %q", e.Name)
}

func (e *UnknownAdapterError) Is(target error) bool {
	return target == ErrNoAdapter
}
