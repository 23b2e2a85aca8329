package bus

import "context"

// CancelFunc tears down a bus-side event registration. It is safe to
// call more than once.
type CancelFunc func()

// Connection is a live link to one device on the control bus.
//
// Implementations must be safe for concurrent use; the gateway issues
// reads, writes and command invocations against a shared connection from
// many goroutines. Blocking calls honour the context deadline.
type Connection interface {
	// DescribeAttributes returns the device's attribute descriptors.
	DescribeAttributes(ctx context.Context) ([]AttributeDescriptor, error)

	// DescribeCommands returns the device's command descriptors.
	DescribeCommands(ctx context.Context) ([]CommandDescriptor, error)

	// ReadAttribute reads the current value of one attribute.
	ReadAttribute(ctx context.Context, name string) (*AttributeValue, error)

	// WriteAttribute writes a value to one attribute. The write is not
	// guaranteed atomic on the device side; a cancelled or timed-out
	// write may have been partially applied.
	WriteAttribute(ctx context.Context, name string, value Value) error

	// InvokeCommand executes a command. in is nil for commands that
	// take no input; the result is nil for commands returning nothing.
	InvokeCommand(ctx context.Context, name string, in *Value) (*Value, error)

	// SubscribeEvents registers for change events on one attribute, or
	// on device state when target is TargetState. The returned channel
	// yields events until cancel is called or the bus reports a fault,
	// in which case a final event with Err set is delivered and the
	// channel is closed.
	SubscribeEvents(ctx context.Context, target string) (<-chan Event, CancelFunc, error)

	// State returns the device's current operational state, as last
	// reported by the bus.
	State(ctx context.Context) (DeviceState, error)

	// Close releases the connection. Outstanding calls fail with ErrClosed.
	Close() error
}

// Dialer resolves a symbolic device name to a live Connection.
//
// Resolution of unknown names fails with ErrDeviceNotFound; faults that
// may clear on retry (gateway unreachable, device restarting) wrap
// ErrTransient so the registry's backoff can distinguish them.
type Dialer interface {
	Connect(ctx context.Context, device string) (Connection, error)

	// ListDevices returns device names matching a glob-style pattern
	// ("lab/*/1"). An empty pattern lists every exported device.
	ListDevices(ctx context.Context, pattern string) ([]string, error)
}
