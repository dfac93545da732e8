// Package session implements the per-client session state machine: it
// translates application intent (login, restore, logout, authenticated fetch)
// into messages for the shared refresher coordinator, and translates
// coordinator replies into local active/inactive state, settled restore
// calls and state-change notifications.
package session
