// Package service contains the application use cases that sit between the
// HTTP layer and the task store.
//
// Services return sentinel errors for expected conditions (a missing task, a
// task owned by someone else) and wrap anything unexpected in a
// TaskServiceError. The API layer maps the sentinels to status codes.
package service
