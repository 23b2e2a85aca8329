package graph

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/graphql-go/graphql"

	"github.com/openctl/ctrlgraph/internal/audit"
	"github.com/openctl/ctrlgraph/internal/bus"
	"github.com/openctl/ctrlgraph/internal/registry"
	"github.com/openctl/ctrlgraph/internal/session"
)

type resolver struct {
	deps Deps
}

// deviceSource is the resolved parent for Device fields. Holding only
// the name keeps descriptor reads lazy: a query selecting just the
// name never touches the bus beyond resolution.
type deviceSource struct {
	name string
}

type writeResult struct {
	device    string
	attribute string
}

type commandResult struct {
	device  string
	command string
	output  *bus.Value
}

func (r *resolver) resolve(ctx context.Context, device string) (*registry.Handle, error) {
	h, err := r.deps.Registry.Resolve(ctx, device)
	if err != nil {
		return nil, WrapError(err)
	}
	return h, nil
}

func (r *resolver) queryDevice(p graphql.ResolveParams) (any, error) {
	name := p.Args["name"].(string)
	if _, err := r.resolve(p.Context, name); err != nil {
		return nil, err
	}
	return deviceSource{name: name}, nil
}

func (r *resolver) queryDevices(p graphql.ResolveParams) (any, error) {
	pattern, _ := p.Args["pattern"].(string)
	if pattern == "" {
		pattern = "*"
	}
	names, err := r.deps.Dialer.ListDevices(p.Context, pattern)
	if err != nil {
		return nil, WrapError(err)
	}
	devices := make([]deviceSource, 0, len(names))
	for _, name := range names {
		devices = append(devices, deviceSource{name: name})
	}
	return devices, nil
}

func (r *resolver) queryAttribute(p graphql.ResolveParams) (any, error) {
	device := p.Args["device"].(string)
	name := p.Args["name"].(string)

	h, err := r.resolve(p.Context, device)
	if err != nil {
		return nil, err
	}
	av, err := r.deps.Gateway.ReadAttribute(p.Context, h, name)
	if err != nil {
		return nil, WrapError(err)
	}
	return av, nil
}

func (r *resolver) queryCommand(p graphql.ResolveParams) (any, error) {
	device := p.Args["device"].(string)
	name := p.Args["name"].(string)

	h, err := r.resolve(p.Context, device)
	if err != nil {
		return nil, err
	}
	descs, err := r.deps.Gateway.DescribeCommands(p.Context, h)
	if err != nil {
		return nil, WrapError(err)
	}
	for _, desc := range descs {
		if desc.Name == name {
			return desc, nil
		}
	}
	return nil, WrapError(bus.ErrCommandNotFound)
}

func (r *resolver) deviceState(p graphql.ResolveParams) (any, error) {
	device := p.Source.(deviceSource).name
	h, err := r.resolve(p.Context, device)
	if err != nil {
		return nil, err
	}
	state, err := r.deps.Gateway.DeviceState(p.Context, h)
	if err != nil {
		return nil, WrapError(err)
	}
	return string(state), nil
}

func (r *resolver) deviceAttributes(p graphql.ResolveParams) (any, error) {
	device := p.Source.(deviceSource).name
	h, err := r.resolve(p.Context, device)
	if err != nil {
		return nil, err
	}
	descs, err := r.deps.Gateway.DescribeAttributes(p.Context, h)
	if err != nil {
		return nil, WrapError(err)
	}
	return descs, nil
}

func (r *resolver) deviceCommands(p graphql.ResolveParams) (any, error) {
	device := p.Source.(deviceSource).name
	h, err := r.resolve(p.Context, device)
	if err != nil {
		return nil, err
	}
	descs, err := r.deps.Gateway.DescribeCommands(p.Context, h)
	if err != nil {
		return nil, WrapError(err)
	}
	return descs, nil
}

func (r *resolver) mutateWriteAttribute(p graphql.ResolveParams) (any, error) {
	device := p.Args["device"].(string)
	name := p.Args["name"].(string)
	raw := p.Args["value"]

	err := r.writeAttribute(p.Context, device, name, raw)
	r.record(p.Context, audit.ActionWrite, device, name, raw, err)
	if err != nil {
		return nil, err
	}
	return writeResult{device: device, attribute: name}, nil
}

func (r *resolver) writeAttribute(ctx context.Context, device, name string, raw any) error {
	h, err := r.resolve(ctx, device)
	if err != nil {
		return err
	}
	descs, err := r.deps.Gateway.DescribeAttributes(ctx, h)
	if err != nil {
		return WrapError(err)
	}
	desc, err := findAttribute(descs, name)
	if err != nil {
		return WrapError(err)
	}
	value, err := bus.FromWire(desc.Type, raw)
	if err != nil {
		return WrapError(err)
	}
	if err := r.deps.Gateway.WriteAttribute(ctx, h, name, value); err != nil {
		return WrapError(err)
	}
	return nil
}

func (r *resolver) mutateExecuteCommand(p graphql.ResolveParams) (any, error) {
	device := p.Args["device"].(string)
	command := p.Args["command"].(string)
	raw, hasInput := p.Args["input"]

	out, err := r.executeCommand(p.Context, device, command, raw, hasInput)
	r.record(p.Context, audit.ActionCommand, device, command, raw, err)
	if err != nil {
		return nil, err
	}
	return commandResult{device: device, command: command, output: out}, nil
}

func (r *resolver) executeCommand(ctx context.Context, device, command string, raw any, hasInput bool) (*bus.Value, error) {
	h, err := r.resolve(ctx, device)
	if err != nil {
		return nil, err
	}
	descs, err := r.deps.Gateway.DescribeCommands(ctx, h)
	if err != nil {
		return nil, WrapError(err)
	}
	desc, err := findCommand(descs, command)
	if err != nil {
		return nil, WrapError(err)
	}

	var in *bus.Value
	if hasInput && raw != nil {
		if desc.InType == nil {
			return nil, &OpError{
				Kind:    KindTypeMismatch,
				Message: fmt.Sprintf("command %s takes no input", command),
			}
		}
		value, err := bus.FromWire(*desc.InType, raw)
		if err != nil {
			return nil, WrapError(err)
		}
		in = &value
	}

	out, err := r.deps.Gateway.InvokeCommand(ctx, h, command, in)
	if err != nil {
		return nil, WrapError(err)
	}
	return out, nil
}

// record appends an audit entry for a mutation attempt. The entry is
// written on a detached context so a cancelled request still leaves a
// trail; recording failures are logged, never surfaced to the caller.
func (r *resolver) record(ctx context.Context, action, device, target string, raw any, opErr error) {
	if r.deps.Audit == nil {
		return
	}
	entry := &audit.Entry{
		Action:  action,
		Device:  device,
		Target:  target,
		Outcome: "ok",
	}
	if id, ok := session.IdentityFrom(ctx); ok {
		entry.UserID = id.UserID
		entry.SessionID = id.SessionID
	}
	if raw != nil {
		if b, err := json.Marshal(raw); err == nil {
			entry.Value = string(b)
		}
	}
	if opErr != nil {
		entry.Outcome = string(ErrorKind(opErr))
		entry.Detail = opErr.Error()
	}
	if err := r.deps.Audit.Record(context.WithoutCancel(ctx), entry); err != nil {
		r.deps.Logger.Warn("audit record failed",
			"action", action,
			"device", device,
			"error", err,
		)
	}
}

func findAttribute(descs []bus.AttributeDescriptor, name string) (*bus.AttributeDescriptor, error) {
	for i := range descs {
		if descs[i].Name == name {
			return &descs[i], nil
		}
	}
	return nil, bus.ErrAttributeNotFound
}

func findCommand(descs []bus.CommandDescriptor, name string) (*bus.CommandDescriptor, error) {
	for i := range descs {
		if descs[i].Name == name {
			return &descs[i], nil
		}
	}
	return nil, bus.ErrCommandNotFound
}
