// Package registry manages the lifecycle of subscriber connections for the
// broker: creation against a hard capacity limit, lookup with activity
// tracking, idempotent removal, and periodic eviction of idle entries.
//
// Design decisions:
//   - Exclusive ownership: the connection map is guarded by a single mutex;
//     nothing outside this package mutates membership
//   - Independent connections: each connection's inbox and rate window are
//     self-synchronizing, so fan-out to one connection never contends with
//     another
//   - Bounded inboxes: enqueue attempts time out instead of blocking, which
//     keeps a stalled subscriber from holding up the delivery path
//   - Cooperative sweeping: the idle sweeper runs on a ticker and unwinds
//     cleanly on context cancellation
//
// The package is internal; callers interact with connections through the
// broker's operations.
package registry
