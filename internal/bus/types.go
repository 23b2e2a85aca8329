package bus

import (
	"fmt"
	"strings"
	"time"
)

// AttrFormat describes the dimensionality of an attribute value.
type AttrFormat string

// Attribute formats. The set is fixed by the control-bus protocol.
const (
	FormatScalar   AttrFormat = "scalar"   // single value
	FormatSpectrum AttrFormat = "spectrum" // one-dimensional array
	FormatImage    AttrFormat = "image"    // two-dimensional array
)

// AttrKind describes the element type of an attribute value.
type AttrKind string

// Attribute element kinds. The set is fixed by the control-bus protocol.
const (
	KindBool   AttrKind = "bool"
	KindInt    AttrKind = "int"
	KindFloat  AttrKind = "float"
	KindString AttrKind = "string"
	KindState  AttrKind = "state" // device state enumeration
)

// DataType is the full type tag of an attribute: format x element kind.
// It is a closed union; every attribute on the bus carries exactly one.
type DataType struct {
	Format AttrFormat `json:"format"`
	Kind   AttrKind   `json:"kind"`
}

// String returns the canonical "format/kind" form, e.g. "scalar/float".
func (t DataType) String() string {
	return string(t.Format) + "/" + string(t.Kind)
}

// ParseDataType parses the canonical "format/kind" form produced by String.
func ParseDataType(s string) (DataType, error) {
	parts := strings.SplitN(s, "/", 2)
	if len(parts) != 2 {
		return DataType{}, fmt.Errorf("%w: %q", ErrInvalidDataType, s)
	}
	t := DataType{Format: AttrFormat(parts[0]), Kind: AttrKind(parts[1])}
	if !t.Valid() {
		return DataType{}, fmt.Errorf("%w: %q", ErrInvalidDataType, s)
	}
	return t, nil
}

// Valid reports whether both the format and kind are recognised.
func (t DataType) Valid() bool {
	switch t.Format {
	case FormatScalar, FormatSpectrum, FormatImage:
	default:
		return false
	}
	switch t.Kind {
	case KindBool, KindInt, KindFloat, KindString, KindState:
	default:
		return false
	}
	return true
}

// Access describes how an attribute may be used.
type Access string

// Attribute access modes.
const (
	AccessReadOnly  Access = "read"
	AccessWriteOnly Access = "write"
	AccessReadWrite Access = "read_write"
)

// Readable reports whether the attribute can be read.
func (a Access) Readable() bool { return a == AccessReadOnly || a == AccessReadWrite }

// Writable reports whether the attribute can be written.
func (a Access) Writable() bool { return a == AccessWriteOnly || a == AccessReadWrite }

// Quality is the bus-defined validity flag accompanying an attribute value.
type Quality string

// Quality flags.
const (
	QualityValid   Quality = "valid"
	QualityInvalid Quality = "invalid"
	QualityAlarm   Quality = "alarm"
	QualityWarning Quality = "warning"
)

// DeviceState is the coarse operational state reported by a device.
type DeviceState string

// Device states as defined by the control bus.
const (
	StateOn      DeviceState = "on"
	StateOff     DeviceState = "off"
	StateRunning DeviceState = "running"
	StateMoving  DeviceState = "moving"
	StateStandby DeviceState = "standby"
	StateFault   DeviceState = "fault"
	StateAlarm   DeviceState = "alarm"
	StateInit    DeviceState = "init"
	StateUnknown DeviceState = "unknown"
)

// AttributeDescriptor describes one attribute exposed by a device.
// Descriptors are read from the bus on demand and are not cached beyond
// a single request, except inside an active subscription.
type AttributeDescriptor struct {
	Name   string   `json:"name"`
	Type   DataType `json:"type"`
	Access Access   `json:"access"`
	Unit   string   `json:"unit,omitempty"`
}

// AttributeValue is a point-in-time reading of an attribute, either from
// a direct read or a pushed change event. Values are immutable once
// produced; a new instance is created per read or per event.
type AttributeValue struct {
	Attribute string    `json:"attribute"`
	Type      DataType  `json:"type"`
	Value     Value     `json:"value"`
	Quality   Quality   `json:"quality"`
	Timestamp time.Time `json:"timestamp"`
	Unit      string    `json:"unit,omitempty"`
}

// CommandDescriptor describes one command exposed by a device.
// InType or OutType may be nil for commands taking or returning nothing.
type CommandDescriptor struct {
	Name    string    `json:"name"`
	InType  *DataType `json:"in_type,omitempty"`
	OutType *DataType `json:"out_type,omitempty"`
}

// TargetState is the reserved subscription target for device-state
// change events, keyed alongside attribute names. No attribute may use
// this name on the wire.
const TargetState = "state"

// Event is one change notification from the bus.
//
// For attribute-change events Value is set. For device-state events
// State is set. An event with Err set signals a fault on the bus-side
// channel; the channel is closed immediately after such an event.
type Event struct {
	Device string
	Target string // attribute name, or TargetState
	Value  *AttributeValue
	State  DeviceState
	Err    error
}
