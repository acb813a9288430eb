// Package beacon is an in-process event broadcast and coordination core: a
// publish/subscribe broker that fans events out to many concurrent
// subscribers, with push-style streaming delivery, pull-style long-polling,
// per-connection backpressure and rate limits, best-effort retried delivery,
// and aging of stale state.
//
// Design decisions:
//   - Explicit ownership: a Broker is constructed once at process startup
//     and passed by handle to every collaborator; there is no package-level
//     singleton, and tests build a fresh instance each
//   - Best-effort fan-out: delivery to each matched connection is attempted
//     concurrently and independently; a slow or broken subscriber is
//     reflected in metrics, never in emission latency or other subscribers'
//     delivery
//   - Bounded everything: connection count, per-connection inboxes, and the
//     catch-up history ring all have hard caps with defined overflow
//     behavior
//   - Transport agnostic: the broker knows channels, connections, and
//     notifications; HTTP, JSON-RPC, and HTML live in external adapters
//   - Process-lifetime state: no on-disk format, no cross-process
//     persistence, no exactly-once guarantees
//
// Core operations:
//   - Emit: construct an event, record it in history and metrics, and fan
//     it out to connections whose subscriptions match its channels
//   - WaitForUpdates: long-poll a connection's inbox with a deadline,
//     returning early on critical-priority events
//   - SyncChanges: non-blocking catch-up over the bounded history ring with
//     a resumption token
//   - Stream: push-style loop forwarding events to a Sink with heartbeats
//     on idle
//
// Producers typically wrap their record-store operations with Notify so
// domain changes broadcast automatically:
//
//	b, err := beacon.New()
//	if err != nil {
//		return err
//	}
//	go b.Run(ctx)
//
//	createNote := beacon.Notify(b, events.KindCreate, "store", "note", "create_note")(rawCreate)
package beacon
