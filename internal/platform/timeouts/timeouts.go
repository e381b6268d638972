// Package timeouts defines shared timeout constants used across the tracker
// process. Centralizing these values keeps the durations discoverable.
package timeouts

import "time"

// ReadHeader limits how long the HTTP server waits for request headers.
const ReadHeader = 5 * time.Second

// Shutdown limits how long the HTTP server waits for in-flight requests
// during graceful shutdown.
const Shutdown = 5 * time.Second

// SSEKeepAlive is the interval between comment frames on an idle event
// stream, keeping intermediaries from closing the connection.
const SSEKeepAlive = 15 * time.Second
