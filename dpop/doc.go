// Package dpop implements Demonstrating Proof-of-Possession (RFC 9449) for
// the Solid-OIDC client: keypair generation and persistence, proof JWTs bound
// to an HTTP method/uri (and optionally to a specific access token via the
// ath claim), and an http.RoundTripper that attaches proofs to outgoing
// requests.
package dpop
