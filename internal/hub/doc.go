// Package hub is a WebSocket broadcast server for the dashboard feed. It
// plays the backend's "dashboard_updates" group so that stream clients can
// be run and tested end to end without the backend.
//
// # Endpoints
//
//   - GET <path> (default /ws/dashboard/) - WebSocket feed of {"type","data"} frames
//   - POST /notify - Publish a notification to every connected client
//   - GET /healthz - Liveness and connected client count
//
// # Authentication
//
// When Config.TokenHash is set, the feed and /notify require an
// "Authorization: Bearer <token>" header whose token matches the argon2id
// hash. Repeated failures from one IP block it with a doubling block time.
package hub
