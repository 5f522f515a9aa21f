// Package oidcx is the relying-party half of OpenID Connect: provider
// discovery, the signing key cache, and the Authorization Code + PKCE flow.
//
// A login runs in two requests. BeginLogin stores an AuthRequest for the
// browser session and returns the provider URL to redirect to. When the
// provider sends the browser back, CompleteLogin takes the AuthRequest out of
// the store (it is gone after this, pass or fail), checks state, redeems the
// code with the PKCE verifier and verifies the ID token against the cached
// JWKS.
//
// Errors are typed. Use Kind to get the stable category name and
// UserMessage for something fit to show a person.
package oidcx
