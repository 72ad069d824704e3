package queue

import (
	"context"
	"errors"
)

var (
	// ErrQueueFull is returned by Publish when a bounded queue is at capacity.
	ErrQueueFull = errors.New("queue is full")

	// ErrQueueClosed is returned once a queue has been closed.
	ErrQueueClosed = errors.New("queue is closed")

	// ErrUnknownReceipt is returned when acking or releasing a delivery whose
	// lease is no longer held, typically because its visibility timeout
	// lapsed and the message was handed out again.
	ErrUnknownReceipt = errors.New("unknown or expired delivery receipt")
)

// Delivery is a leased message handed to a receiver.
type Delivery struct {
	// ID identifies the underlying message within its backend.
	ID string

	// Receipt identifies this particular lease of the message.
	Receipt string

	// Attempt counts deliveries of the message, starting at 1.
	Attempt int

	Message Message
}

// Publisher enqueues messages.
type Publisher interface {
	Publish(ctx context.Context, msg Message) error
}

// Receiver hands out leased messages.
type Receiver interface {
	// Receive blocks until at least one message is available and returns up
	// to max of them, or returns the context's error.
	Receive(ctx context.Context, max int) ([]Delivery, error)

	// Ack removes a delivered message permanently.
	Ack(ctx context.Context, d Delivery) error

	// Release makes a delivered message immediately available again.
	Release(ctx context.Context, d Delivery) error
}

// Queue is a backend that both publishes and receives.
type Queue interface {
	Publisher
	Receiver
}
