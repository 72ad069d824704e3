// Package events carries task lifecycle notifications from the pipeline to
// any number of in-process observers.
//
// The processor and producer emit a TaskEvent on every status change. The
// events describe what happened; they are not used to drive processing, so a
// failing handler never affects a task's outcome.
package events
