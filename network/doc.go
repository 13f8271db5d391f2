// Package network implements the worker-to-worker transport of
// spec.md section 4.5: a NetworkSink that serializes pipeline output
// onto a TCP byte stream using the network/wire codec, and a
// NetworkSource that accepts inbound connections and redelivers
// decoded buffers to the local partition registry's consumers.
//
// Grounded on transport/tcp/listener.go's accept-loop shape
// (generalized from a WebSocket handshake to this package's own wire
// format) and protocol/frame_codec.go's incomplete-frame decode
// convention.
package network
