// Package beat runs the scheduling loop: it keeps an in-memory working
// set of enabled entries, sleeps until the earliest due time, dispatches
// due tasks to the runtime, and persists run bookkeeping back to the
// store.
//
// The loop is the sole mutator of the working set. External signals reach
// it through Wake() (coalescing, non-blocking) and context cancellation.
// Store edits made by other processes are picked up via the change marker
// and a periodic full reconcile.
package beat
