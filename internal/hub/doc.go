// Package hub multiplexes bus-side event registrations across API
// subscribers.
//
// Each (device, target) pair carries at most one registration on the
// control bus no matter how many API clients are listening. The hub
// fans accepted events out to every attached subscriber through a
// bounded per-subscriber buffer, dropping the oldest buffered event
// when a slow consumer falls behind so that one stalled client never
// delays its siblings or the shared bus stream.
//
// A registration moves through four states: it is created when the
// first subscriber attaches, becomes active once the bus confirms
// event delivery, degrades when the bus stream faults, and is torn
// down when the last subscriber detaches or re-registration retries
// are exhausted. In the exhaustion case every attached subscriber
// receives a terminal event before its channel closes.
package hub
