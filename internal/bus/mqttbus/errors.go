package mqttbus

import "errors"

var (
	// ErrNotConnected is returned when attempting operations on a
	// disconnected client.
	ErrNotConnected = errors.New("mqttbus: client not connected")

	// ErrConnectionFailed is returned when the initial broker
	// connection attempt fails.
	ErrConnectionFailed = errors.New("mqttbus: connection failed")

	// ErrPublishFailed is returned when a publish operation fails.
	ErrPublishFailed = errors.New("mqttbus: publish failed")

	// ErrSubscribeFailed is returned when a subscribe operation fails.
	ErrSubscribeFailed = errors.New("mqttbus: subscribe failed")

	// ErrUnsubscribeFailed is returned when an unsubscribe operation
	// fails.
	ErrUnsubscribeFailed = errors.New("mqttbus: unsubscribe failed")

	// ErrInvalidTopic is returned when an empty topic is provided.
	ErrInvalidTopic = errors.New("mqttbus: topic cannot be empty")
)
