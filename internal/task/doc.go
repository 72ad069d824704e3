// Package task implements the asynchronous ingredient-processing pipeline.
//
// The Producer validates a user's selection, persists one pending task per
// ingredient and enqueues a message for each. The Runner receives messages
// with a pool of workers and hands each to the Processor, which walks the
// task through processing, stepwise progress and a simulated outcome,
// scheduling retries while the task's budget allows. Every message is
// acknowledged once handled, whatever the outcome; redeliveries are made
// harmless by the processor's idempotency rules and by versioned saves.
package task
