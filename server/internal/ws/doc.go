// Package ws pushes the live fleet view to dashboards over WebSocket.
//
// New(source, interval) creates a Hub. Hub.Run(ctx) broadcasts on every
// tick and after accepted readings (Hub implements registry.Listener), and
// closes all connections when ctx is cancelled. Hub.ServeHTTP upgrades a
// request, sends the current fleet immediately, then streams updates.
//
// Message format:
//
//	{
//	  "event": "fleet",
//	  "data":  { /* same schema as GET /predict */ }
//	}
//
// The server mounts the hub at /ws/stream.
package ws
