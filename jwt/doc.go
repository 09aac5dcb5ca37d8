// Package jwt inspects access tokens on the client side. It reads the
// expiry of a token to decide whether a refresh is due before a request is
// sent, and can optionally verify signatures when the portal is configured
// with the issuer's public key.
package jwt
