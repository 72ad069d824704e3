// Package store defines the persistence contracts of the pipeline and the
// key-value backed task store built on them. Records live under
// "task:{id}" keys and each user's task index under "user:{id}:tasks",
// both subject to the retention TTL. Concrete KV backends live under
// internal/platform.
package store
