// Package ws provides the realtime hub: a pool of WebSocket connections, each
// with a bounded priority queue, a topic index for fan-out and a streaming
// service that maps domain events onto topics.
//
// # Features
//
//   - Connection pooling with configurable limits
//   - Topic subscriptions with snapshot broadcasting
//   - Bounded per-connection queues with four priority lanes
//   - Global FIFO delivery order per connection
//   - Graceful drain and shutdown with timeout control
//   - Origin whitelist for security
//   - Inbound frame rate limiting and invalid frame accounting
//   - Event bus and metrics interfaces for observability
//
// # Connection lifecycle
//
//	Connecting → Active → (Draining | Closing) → Closed
//
// A connection becomes Active once it is in the pool. Draining stops new
// enqueues and closes the connection when the queue is empty. Closing discards
// whatever is still queued. Closed is terminal and the id is gone from the pool.
//
// # Drop policy
//
// When a queue is full and a message of priority p arrives, let L be the lowest
// priority currently queued. If L < p the oldest message of L is evicted and
// the new one accepted, otherwise the new message is dropped. Every drop is
// counted; nothing is returned to the sender as an error.
//
// # Basic Usage
//
//	hub, err := ws.NewHub(
//	    ws.WithMaxConnections(10000),
//	    ws.WithQueueCapacity(256),
//	    ws.WithCheckOriginWhitelist([]string{"https://example.com"}),
//	)
//	if err != nil {
//	    log.Fatal(err)
//	}
//	defer hub.Shutdown(context.Background())
//
//	http.HandleFunc("/ws", func(w http.ResponseWriter, r *http.Request) {
//	    _ = hub.HandleUpgrade(w, r, ws.ConnectionMetadata{
//	        UserID:           r.URL.Query().Get("user_id"),
//	        SubscribedTopics: []string{"dashboard"},
//	    })
//	})
//
//	stream := ws.NewStreamingService(hub)
//	_, _ = stream.Publish(ctx, ws.StreamEvent{
//	    EventType: ws.MessageTypeRoomUpdate,
//	    RoomID:    "42",
//	    Payload:   json.RawMessage(`{"status":"open"}`),
//	})
//
// # Client protocol
//
// Clients send JSON frames:
//
//	{"action": "subscribe", "topic": "room:42"}
//	{"action": "unsubscribe", "topic": "room:42"}
//	{"action": "ping"}
//
// and receive messages of the form:
//
//	{"type": "room_update", "payload": {...}, "priority": "normal", "created_at": "..."}
package ws
