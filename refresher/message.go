package refresher

import "github.com/uvdsl/solid-oidc-client-go/oidc"

// Message is the protocol between a client's Conn and the Hub's Refresher.
// It is a closed union: the variants below are the only messages, and the
// Hub's dispatch switches over all of them.
type Message interface {
	message()
}

// Schedule asks the coordinator to cache freshly obtained tokens, broadcast
// them and (re-)arm its timers. Sent after a successful login.
type Schedule struct {
	Tokens *oidc.TokenDetails
}

// Refresh asks the coordinator for current valid tokens. Answered directly to
// the requesting Conn when cached tokens are still valid; otherwise a network
// refresh runs and its outcome is broadcast to all Conns.
type Refresh struct{}

// Stop tears down the coordinator's session-global timers and token cache.
type Stop struct{}

// Disconnect unregisters the sending Conn from the Hub. Conn.Close sends it
// implicitly.
type Disconnect struct{}

// TokenUpdate carries new or cached valid tokens from the coordinator.
type TokenUpdate struct {
	Tokens *oidc.TokenDetails
}

// RefreshError reports a failed background refresh attempt. The session the
// tokens belonged to may still be usable until hard expiration.
type RefreshError struct {
	Reason string
}

// Expired reports that the hard expiration timer fired; the session must end.
type Expired struct {
	Reason string
}

func (*Schedule) message()     {}
func (*Refresh) message()      {}
func (*Stop) message()         {}
func (*Disconnect) message()   {}
func (*TokenUpdate) message()  {}
func (*RefreshError) message() {}
func (*Expired) message()      {}
