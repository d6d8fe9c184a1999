// Package dispatch hands due schedule entries to the task-queue runtime.
//
// The runtime is external; this package only asks it to accept a run. A
// nil error from Dispatch means accepted, *RejectedError means the
// runtime refused the request, anything else is a transport failure the
// caller may retry. The default driver posts JSON to the runtime's HTTP
// gateway; a log driver exists for development.
package dispatch
