// Package refresher implements the shared token-refresh coordination engine:
// a Hub accepting one long-lived Conn per client, and a single Refresher per
// Hub that owns the live token state, schedules proactive-refresh and
// hard-expiration timers, deduplicates concurrent refresh requests and
// broadcasts token updates, refresh failures and expiration to every
// connected client.
package refresher
