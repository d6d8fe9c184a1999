// Package eventbus is the in-process fanout connecting the store, the
// scheduling loop and observability consumers.
//
// Producers and event types:
//   - internal/storage: "entry.created", "entry.updated", "entry.deleted"
//     after a committed definition change (storage.ChangeEvent payload).
//   - internal/beat: "beat.dispatched" per accepted dispatch and
//     "beat.reconciled" per full store reconcile.
//
// The app bridges entry.* events to the loop's Wake so in-process edits
// take effect without waiting for the next store probe, and logs all
// events at debug level.
package eventbus
