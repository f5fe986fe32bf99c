// Package dispatch hands tasks to workers through a Broker. It knows nothing
// about any particular broker; adapters live under internal/broker.
//
// Two modes are supported. Publish is fire-and-forget: the task is queued and
// its result arrives later through the result submission path. Call is
// request-reply: the caller blocks until the worker answers through the
// correlator or the deadline passes.
package dispatch
