// Package graph defines the GraphQL schema fronting the control bus.
//
// Queries resolve device metadata and point-in-time attribute reads,
// mutations perform writes and command invocations, and subscriptions
// stream change events from the subscription hub. Every resolver error
// carries a machine-readable kind in its extensions alongside the
// human-readable message, so clients can branch on what went wrong
// without parsing text.
package graph
