// Package realtime implements the dashboard's realtime notification client.
//
// The client:
//   - Maintains one WebSocket connection to the notification server
//   - Sends a {"type":"ping"} heartbeat while connected
//   - Reconnects with exponential backoff after abnormal closures
//   - Dispatches inbound messages to handlers by message type and by topic
//   - Re-issues topic subscriptions every time a connection opens
package realtime
