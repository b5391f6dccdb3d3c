// Package monitoring raises alerts on suspicious activity in the audit log:
// repeated failed logins, logins from a new IP address and download bursts.
//
// A Monitor is registered as the audit writer's observer. Each persisted
// entry is checked on its own goroutine, so a slow count query or alert sink
// never delays the request that produced the entry.
package monitoring
