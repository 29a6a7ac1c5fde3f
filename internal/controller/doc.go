// Package controller provides the authenticated HTTP client for the UniFi
// controller API.
//
// The main components are:
//
//   - [Session]: holds the credential, either a static API key or a session
//     cookie obtained from POST /api/login
//   - [Client]: performs one request, attaches the credential, and recovers
//     from session expiry with exactly one re-authentication and one retry
//   - [AuthError], [APIError], [TransportError], [ParseError]: the error
//     taxonomy shared by the client and the inventory fetcher
//
// Retries other than the single post-401 retry are never made here; the
// poll interval is the retry delay.
package controller
