// Package events defines the event and filter model shared by the broker
// and its transport adapters: the immutable Event record, the Kind and
// Priority enums, the Filter predicate, and batch summaries.
//
// Design decisions:
//   - Immutability: events are value types, fully specified at construction
//   - Expiry: every event carries a TTL; expired events are filtered out of
//     long-poll and catch-up results by default
//   - Routing: an event derives four channel keys (exact, target wildcard,
//     kind wildcard, catch-all) used for subscription matching
//   - Wire format: custom JSON codecs built on gjson/sjson with
//     pre-validated required fields; missing ids and timestamps are
//     regenerated on decode rather than rejected
//   - Pure filters: Filter.Matches has no side effects, so it can be
//     evaluated anywhere without synchronization
package events
