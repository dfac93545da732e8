// solidoidc provides a collection of related packages implementing a
// Solid-OIDC client: the authorization code flow with PKCE and DPoP-bound
// tokens, coordinated cross-session token refresh, and session state
// management.
//
// See README.md
package solidoidc
