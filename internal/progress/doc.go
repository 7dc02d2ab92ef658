// Package progress mirrors task snapshots to durable sinks off the request
// path. Snapshots are coalesced per task so a burst of progress saves costs
// one write per sink per flush.
package progress
