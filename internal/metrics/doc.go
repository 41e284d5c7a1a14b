// Package metrics defines the Prometheus collectors for the ingest, relay and HTTP paths.
package metrics
