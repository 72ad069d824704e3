// Package queue defines the message contract between the task producer and
// the queue consumer, along with the publisher and receiver interfaces that
// queue backends implement.
//
// Delivery is at-least-once. A received message stays leased to its receiver
// until it is acknowledged or released, or until its visibility timeout
// lapses, after which it becomes available again.
package queue
