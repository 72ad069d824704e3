// Package auth issues and validates the HMAC-signed bearer tokens that
// identify the user behind each API request. The token subject is the
// opaque user ID the task pipeline partitions its data by.
package auth
