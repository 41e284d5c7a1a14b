// Package server implements the static/form HTTP server and the UDP ingest server.
// The HTTP side relays every POST body as one datagram; the UDP side decodes each
// datagram into a record and writes it to the configured storage sink.
package server
