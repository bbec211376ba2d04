// Package timeouts defines shared timeout constants used across the lobby.
package timeouts

import "time"

// GRPCDial caps the wait time when dialing a gRPC peer.
const GRPCDial = 2 * time.Second

// ReadHeader limits how long the WebSocket HTTP server waits for request headers.
const ReadHeader = 5 * time.Second

// Shutdown limits how long servers wait for in-flight work during graceful shutdown.
const Shutdown = 5 * time.Second

// EngineDownload is the hard deadline for an engine download before a game
// start is abandoned.
const EngineDownload = 3 * time.Minute

// ClientSend bounds a single frame write to a connected client.
const ClientSend = time.Second
