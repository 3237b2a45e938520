package bridge

import (
	"context"

	"github.com/orchestra-mcp/crawlwatch/src/types"
)

// Bridge relays crawl updates between watcher processes.
type Bridge interface {
	// Publish forwards a locally received message to other instances.
	Publish(msg types.Message) error

	// Start begins listening for messages from other instances.
	Start(ctx context.Context) error

	// Stop shuts down the bridge connection.
	Stop() error

	// Available reports whether the bridge is connected and operational.
	Available() bool
}

// Forward returns a message handler that publishes every message it sees
// through b. Publish errors are passed to onErr.
func Forward(b Bridge, onErr func(error)) types.MessageHandler {
	return func(msg types.Message) {
		if !b.Available() {
			return
		}
		if err := b.Publish(msg); err != nil && onErr != nil {
			onErr(err)
		}
	}
}
