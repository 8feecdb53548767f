// Package storage persists the two pieces of durable state: the task chain
// record and the escalation state. Every save fully rewrites its file.
package storage
