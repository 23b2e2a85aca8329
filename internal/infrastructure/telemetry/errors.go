package telemetry

import "errors"

var (
	// ErrDisabled is returned by Connect when telemetry is off in
	// configuration.
	ErrDisabled = errors.New("telemetry: disabled in configuration")

	// ErrConnectionFailed is returned when InfluxDB cannot be reached
	// at startup.
	ErrConnectionFailed = errors.New("telemetry: connection failed")

	// ErrNotConnected is returned by HealthCheck after the sink is
	// closed.
	ErrNotConnected = errors.New("telemetry: not connected")
)
