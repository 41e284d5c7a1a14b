// Package protocol implements the relay wire format.
// Datagrams carry application/x-www-form-urlencoded bytes verbatim; the ingest side
// decodes them into records. It also defines the optional acknowledgement frames.
package protocol
