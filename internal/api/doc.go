// Package api provides the dashboard REST client used for authentication.
//
// Endpoints (relative to the configured base URL):
//   - POST /api/auth/login
//   - POST /api/auth/refresh (refresh token as Bearer)
//   - GET  /api/auth/me
//   - POST /api/auth/logout
//   - POST /api/auth/change-password
//
// Responses use the {success, message, data} envelope. Authenticated calls
// that get a 401 refresh the access token once and retry. The Client also
// satisfies realtime.TokenSource so WebSocket reconnects carry a fresh token.
package api
