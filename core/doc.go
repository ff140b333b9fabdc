// Package core implements the active-object engine of Stator.
//
// An active object owns a hierarchical state machine, a bounded event
// queue and a unique priority. Events are delivered strictly through
// the queue and dispatched run-to-completion, one at a time, so
// application code never locks. The Runtime ties the objects to an
// execution host, hands out pooled events, multicasts published
// events to subscribers and drives time events from a tick source.
package core
