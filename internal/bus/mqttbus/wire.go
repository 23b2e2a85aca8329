package mqttbus

import (
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/openctl/ctrlgraph/internal/bus"
)

// RPC operation names understood by the instrument gateway.
const (
	opPing               = "ping"
	opDescribeAttributes = "describe_attributes"
	opDescribeCommands   = "describe_commands"
	opRead               = "read"
	opWrite              = "write"
	opInvoke             = "invoke"
	opState              = "state"
	opList               = "list"
)

// gatewayDevice is the pseudo-device that answers gateway-level RPCs
// such as device listing.
const gatewayDevice = "_gateway"

type rpcRequest struct {
	ID        string          `json:"id"`
	ReplyTo   string          `json:"reply_to"`
	Attribute string          `json:"attribute,omitempty"`
	Command   string          `json:"command,omitempty"`
	Pattern   string          `json:"pattern,omitempty"`
	Type      string          `json:"type,omitempty"`
	Value     json.RawMessage `json:"value,omitempty"`
}

type rpcResponse struct {
	ID     string          `json:"id"`
	Error  *rpcError       `json:"error,omitempty"`
	Result json.RawMessage `json:"result,omitempty"`
}

type rpcError struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

// Gateway error codes.
const (
	codeDeviceNotFound    = "device_not_found"
	codeAttributeNotFound = "attribute_not_found"
	codeCommandNotFound   = "command_not_found"
	codeUnavailable       = "unavailable"
	codeBusy              = "busy"
	codeTimeout           = "timeout"
)

// mapRPCError converts a gateway error code into a bus sentinel so
// callers above the transport never branch on wire detail.
func mapRPCError(e *rpcError) error {
	switch e.Code {
	case codeDeviceNotFound:
		return fmt.Errorf("%w: %s", bus.ErrDeviceNotFound, e.Message)
	case codeAttributeNotFound:
		return fmt.Errorf("%w: %s", bus.ErrAttributeNotFound, e.Message)
	case codeCommandNotFound:
		return fmt.Errorf("%w: %s", bus.ErrCommandNotFound, e.Message)
	case codeUnavailable, codeBusy, codeTimeout:
		return fmt.Errorf("%w: gateway %s: %s", bus.ErrTransient, e.Code, e.Message)
	default:
		return fmt.Errorf("mqttbus: gateway error %s: %s", e.Code, e.Message)
	}
}

type wireAttrDescriptor struct {
	Name   string `json:"name"`
	Type   string `json:"type"`
	Access string `json:"access"`
	Unit   string `json:"unit,omitempty"`
}

type wireCmdDescriptor struct {
	Name    string `json:"name"`
	InType  string `json:"in_type,omitempty"`
	OutType string `json:"out_type,omitempty"`
}

type wireValue struct {
	Attribute string          `json:"attribute,omitempty"`
	Type      string          `json:"type"`
	Value     json.RawMessage `json:"value"`
	Quality   string          `json:"quality,omitempty"`
	Timestamp string          `json:"timestamp,omitempty"`
	Unit      string          `json:"unit,omitempty"`
}

type wireState struct {
	State string `json:"state"`
}

type wireDeviceList struct {
	Devices []string `json:"devices"`
}

func decodeAttrDescriptor(w wireAttrDescriptor) (bus.AttributeDescriptor, error) {
	t, err := bus.ParseDataType(w.Type)
	if err != nil {
		return bus.AttributeDescriptor{}, fmt.Errorf("attribute %s: %w", w.Name, err)
	}
	return bus.AttributeDescriptor{
		Name:   w.Name,
		Type:   t,
		Access: bus.Access(w.Access),
		Unit:   w.Unit,
	}, nil
}

func decodeCmdDescriptor(w wireCmdDescriptor) (bus.CommandDescriptor, error) {
	d := bus.CommandDescriptor{Name: w.Name}
	if w.InType != "" {
		t, err := bus.ParseDataType(w.InType)
		if err != nil {
			return d, fmt.Errorf("command %s input: %w", w.Name, err)
		}
		d.InType = &t
	}
	if w.OutType != "" {
		t, err := bus.ParseDataType(w.OutType)
		if err != nil {
			return d, fmt.Errorf("command %s output: %w", w.Name, err)
		}
		d.OutType = &t
	}
	return d, nil
}

// decodeValue builds an immutable AttributeValue from its wire form.
// A missing or unknown quality decodes as Valid; a missing timestamp
// is stamped on receipt.
func decodeValue(w wireValue) (*bus.AttributeValue, error) {
	t, err := bus.ParseDataType(w.Type)
	if err != nil {
		return nil, err
	}

	var raw any
	if err := json.Unmarshal(w.Value, &raw); err != nil {
		return nil, fmt.Errorf("%w: %w", bus.ErrValueMismatch, err)
	}
	v, err := bus.FromWire(t, raw)
	if err != nil {
		return nil, err
	}

	quality := bus.Quality(w.Quality)
	switch quality {
	case bus.QualityValid, bus.QualityInvalid, bus.QualityAlarm, bus.QualityWarning:
	default:
		quality = bus.QualityValid
	}

	ts := time.Now()
	if w.Timestamp != "" {
		if parsed, err := time.Parse(time.RFC3339Nano, w.Timestamp); err == nil {
			ts = parsed
		}
	}

	return &bus.AttributeValue{
		Attribute: w.Attribute,
		Type:      t,
		Value:     v,
		Quality:   quality,
		Timestamp: ts,
		Unit:      w.Unit,
	}, nil
}

// decodeEvent parses one event-topic payload. target selects between
// attribute-change and device-state decoding.
func decodeEvent(device, target string, payload []byte) (bus.Event, error) {
	ev := bus.Event{Device: device, Target: target}

	if target == bus.TargetState {
		var w wireState
		if err := json.Unmarshal(payload, &w); err != nil {
			return ev, fmt.Errorf("mqttbus: decoding state event: %w", err)
		}
		ev.State = bus.DeviceState(w.State)
		return ev, nil
	}

	var w wireValue
	if err := json.Unmarshal(payload, &w); err != nil {
		return ev, fmt.Errorf("mqttbus: decoding attribute event: %w", err)
	}
	if w.Attribute == "" {
		w.Attribute = target
	}
	v, err := decodeValue(w)
	if err != nil {
		return ev, err
	}
	ev.Value = v
	return ev, nil
}

func decodeResult(raw json.RawMessage, out any) error {
	if len(raw) == 0 {
		return errors.New("mqttbus: empty rpc result")
	}
	if err := json.Unmarshal(raw, out); err != nil {
		return fmt.Errorf("mqttbus: decoding rpc result: %w", err)
	}
	return nil
}
