/*
Package cryfsmetrics exposes Prometheus counters, gauges and a
histogram for the storage stack: per-layer block/byte throughput,
block-cache occupancy and hit rate, prune-flush latency, and integrity
violation/decryption failure counts.

The core never binds a listening socket (that is the mount adapter's
job, out of scope here); Handler returns an http.Handler the adapter
can mount wherever it likes.
*/
package cryfsmetrics
