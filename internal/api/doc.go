// Package api handles incoming HTTP requests, request validation and
// response formatting for the ingredient pipeline. Handlers translate HTTP
// concerns into calls on the task producer and the task status service and
// map their errors to status codes without leaking internal details.
package api
