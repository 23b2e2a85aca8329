// Package mqttbus implements the control-bus boundary over an MQTT
// instrument gateway.
//
// The gateway exposes every bus device through two topic families under
// a configurable prefix: request/response RPC on
// <prefix>/rpc/<device>/<op> with replies correlated by request ID on a
// per-client reply topic, and change notifications on
// <prefix>/event/<device>/<target>. One broker connection carries both;
// paho handles reconnection and tracked subscriptions are restored on
// reconnect.
//
// Gateway-reported errors carry a code that maps onto the bus sentinel
// errors, so callers never see MQTT-level detail.
package mqttbus
