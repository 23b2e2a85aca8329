// Package telemetry sinks numeric attribute values into InfluxDB.
//
// The subscription hub feeds it every accepted attribute event; points
// are batched and written asynchronously, so a slow or absent InfluxDB
// never backpressures event delivery. The sink is optional: when
// disabled in configuration the hub simply runs without a tap.
package telemetry
