// Package registry resolves symbolic device names to live control-bus
// handles and owns their lifecycle.
//
// The Adapter caches one Handle per device name, serialises resolution
// and reconnection per device (concurrent resolution of different
// devices proceeds in parallel), retries transient dial failures with
// bounded exponential backoff, and evicts handles idle beyond a
// configurable TTL.
//
// A Handle's connection state only ever moves through
//
//	Connected -> Disconnected -> Reconnecting -> Connected
//
// and is mutated exclusively by the Adapter. After a successful
// reconnection the Adapter notifies the hub (via SetReconnectListener)
// so bus-side event registrations depending on that device can be
// re-armed.
package registry
