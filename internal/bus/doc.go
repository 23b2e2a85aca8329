// Package bus defines the boundary to the instrument control bus.
//
// The control bus is a distributed control system whose devices expose
// named, typed attributes (readable and/or writable, each carrying a
// quality flag), invocable commands, and asynchronous change events.
// This package holds the shared vocabulary for that boundary: the closed
// set of attribute data types, attribute and command descriptors, value
// payloads, device states, and the Dialer/Connection interfaces that
// concrete transports implement.
//
// The rest of the application never talks to a transport directly; it
// resolves devices through the registry package, which hands out handles
// wrapping a bus Connection.
package bus
