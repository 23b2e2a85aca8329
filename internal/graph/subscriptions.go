package graph

import (
	"errors"

	"github.com/graphql-go/graphql"

	"github.com/openctl/ctrlgraph/internal/bus"
	"github.com/openctl/ctrlgraph/internal/hub"
)

// attributeChangeEvent is one delivery on an attributeChange stream.
// Terminated marks the final event after the bus-side registration was
// lost for good; Err then carries the cause.
type attributeChangeEvent struct {
	device     string
	attribute  string
	value      *bus.AttributeValue
	terminated bool
	err        *OpError
}

type deviceStateEvent struct {
	device     string
	state      bus.DeviceState
	terminated bool
	err        *OpError
}

var attributeChangeEventType = graphql.NewObject(graphql.ObjectConfig{
	Name: "AttributeChangeEvent",
	Fields: graphql.Fields{
		"device": &graphql.Field{
			Type: graphql.NewNonNull(graphql.String),
			Resolve: func(p graphql.ResolveParams) (any, error) {
				return p.Source.(attributeChangeEvent).device, nil
			},
		},
		"attribute": &graphql.Field{
			Type: graphql.NewNonNull(graphql.String),
			Resolve: func(p graphql.ResolveParams) (any, error) {
				return p.Source.(attributeChangeEvent).attribute, nil
			},
		},
		"value": &graphql.Field{
			Type: attributeValueType,
			Resolve: func(p graphql.ResolveParams) (any, error) {
				if v := p.Source.(attributeChangeEvent).value; v != nil {
					return v, nil
				}
				return nil, nil
			},
		},
		"terminated": &graphql.Field{
			Type: graphql.NewNonNull(graphql.Boolean),
			Resolve: func(p graphql.ResolveParams) (any, error) {
				return p.Source.(attributeChangeEvent).terminated, nil
			},
		},
		"error": &graphql.Field{
			Type: operationErrorType,
			Resolve: func(p graphql.ResolveParams) (any, error) {
				if e := p.Source.(attributeChangeEvent).err; e != nil {
					return e, nil
				}
				return nil, nil
			},
		},
	},
})

var deviceStateEventType = graphql.NewObject(graphql.ObjectConfig{
	Name: "DeviceStateEvent",
	Fields: graphql.Fields{
		"device": &graphql.Field{
			Type: graphql.NewNonNull(graphql.String),
			Resolve: func(p graphql.ResolveParams) (any, error) {
				return p.Source.(deviceStateEvent).device, nil
			},
		},
		"state": &graphql.Field{
			Type: graphql.String,
			Resolve: func(p graphql.ResolveParams) (any, error) {
				ev := p.Source.(deviceStateEvent)
				if ev.terminated {
					return nil, nil
				}
				return string(ev.state), nil
			},
		},
		"terminated": &graphql.Field{
			Type: graphql.NewNonNull(graphql.Boolean),
			Resolve: func(p graphql.ResolveParams) (any, error) {
				return p.Source.(deviceStateEvent).terminated, nil
			},
		},
		"error": &graphql.Field{
			Type: operationErrorType,
			Resolve: func(p graphql.ResolveParams) (any, error) {
				if e := p.Source.(deviceStateEvent).err; e != nil {
					return e, nil
				}
				return nil, nil
			},
		},
	},
})

func (r *resolver) subscribeAttributeChange(p graphql.ResolveParams) (any, error) {
	device := p.Args["device"].(string)
	attribute := p.Args["attribute"].(string)

	return r.stream(p, device, attribute, func(ev hub.Event) any {
		return attributeChangeEvent{
			device:     ev.Device,
			attribute:  ev.Target,
			value:      ev.Value,
			terminated: ev.Terminated,
			err:        opErrorFrom(ev.Err),
		}
	})
}

func (r *resolver) subscribeDeviceState(p graphql.ResolveParams) (any, error) {
	device := p.Args["device"].(string)

	return r.stream(p, device, bus.TargetState, func(ev hub.Event) any {
		return deviceStateEvent{
			device:     ev.Device,
			state:      ev.State,
			terminated: ev.Terminated,
			err:        opErrorFrom(ev.Err),
		}
	})
}

// stream attaches a hub subscription and pumps its events into the
// channel the executor consumes. The pump exits, and the hub
// subscription is released, as soon as the client context ends or the
// hub closes the stream.
func (r *resolver) stream(p graphql.ResolveParams, device, target string, convert func(hub.Event) any) (any, error) {
	sub, err := r.deps.Hub.Subscribe(p.Context, device, target)
	if err != nil {
		return nil, WrapError(err)
	}

	out := make(chan any)
	go func() {
		defer close(out)
		defer sub.Close()
		for {
			select {
			case <-p.Context.Done():
				return
			case ev, ok := <-sub.Events():
				if !ok {
					return
				}
				select {
				case out <- convert(ev):
				case <-p.Context.Done():
					return
				}
				if ev.Terminated {
					return
				}
			}
		}
	}()
	return out, nil
}

func opErrorFrom(err error) *OpError {
	if err == nil {
		return nil
	}
	var oe *OpError
	if errors.As(err, &oe) {
		return oe
	}
	return &OpError{Kind: ErrorKind(err), Message: err.Error()}
}
