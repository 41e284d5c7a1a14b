// Package relay implements the UDP sender used by the HTTP server.
// Each form payload becomes exactly one datagram to the relay endpoint, either
// fire-and-forget or, when enabled, followed by a bounded wait for an ack.
package relay
