// Package oidc provides the Solid-OIDC grant layer: issuer discovery,
// optional dynamic client registration, the PKCE-hardened authorization code
// grant, and the refresh token grant. Both grants bind the issued tokens to a
// DPoP keypair. The package also defines the TokenDetails bundle passed
// between the grant layer, the refresher and the session packages.
package oidc
