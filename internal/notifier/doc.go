// Package notifier delivers escalations to a human.
//
// Two channels exist. The popup channel is interactive and ephemeral: a
// desktop notification over D-Bus, or a Telegram chat message on headless
// hosts. The email channel is persistent and goes out over SMTP. Every
// channel can fall back to the log driver, which only writes a log line.
//
// Sends are synchronous and never retried; the caller decides what a failure
// means.
package notifier
