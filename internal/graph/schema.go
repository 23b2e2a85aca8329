package graph

import (
	"github.com/graphql-go/graphql"

	"github.com/openctl/ctrlgraph/internal/audit"
	"github.com/openctl/ctrlgraph/internal/bus"
	"github.com/openctl/ctrlgraph/internal/gateway"
	"github.com/openctl/ctrlgraph/internal/hub"
	"github.com/openctl/ctrlgraph/internal/registry"
)

// Logger defines the logging interface used by the graph layer.
type Logger interface {
	Debug(msg string, args ...any)
	Warn(msg string, args ...any)
}

type noopLogger struct{}

func (noopLogger) Debug(string, ...any) {}
func (noopLogger) Warn(string, ...any)  {}

// Deps are the backend components the schema resolves against.
// Audit and Logger are optional.
type Deps struct {
	Registry *registry.Adapter
	Gateway  *gateway.Gateway
	Hub      *hub.Hub
	Dialer   bus.Dialer
	Audit    audit.Recorder
	Logger   Logger
}

// New builds the executable schema over the given backends.
func New(deps Deps) (graphql.Schema, error) {
	if deps.Logger == nil {
		deps.Logger = noopLogger{}
	}
	r := &resolver{deps: deps}

	deviceType := graphql.NewObject(graphql.ObjectConfig{
		Name:        "Device",
		Description: "A device reachable on the control bus.",
		Fields: graphql.Fields{
			"name": &graphql.Field{
				Type: graphql.NewNonNull(graphql.String),
				Resolve: func(p graphql.ResolveParams) (any, error) {
					return p.Source.(deviceSource).name, nil
				},
			},
			"state": &graphql.Field{
				Type: graphql.NewNonNull(graphql.String),
				Resolve: func(p graphql.ResolveParams) (any, error) {
					return r.deviceState(p)
				},
			},
			"attributes": &graphql.Field{
				Type: graphql.NewNonNull(graphql.NewList(graphql.NewNonNull(attributeType))),
				Resolve: func(p graphql.ResolveParams) (any, error) {
					return r.deviceAttributes(p)
				},
			},
			"commands": &graphql.Field{
				Type: graphql.NewNonNull(graphql.NewList(graphql.NewNonNull(commandType))),
				Resolve: func(p graphql.ResolveParams) (any, error) {
					return r.deviceCommands(p)
				},
			},
		},
	})

	query := graphql.NewObject(graphql.ObjectConfig{
		Name: "Query",
		Fields: graphql.Fields{
			"device": &graphql.Field{
				Type:        deviceType,
				Description: "Look up a single device by its bus name.",
				Args: graphql.FieldConfigArgument{
					"name": &graphql.ArgumentConfig{Type: graphql.NewNonNull(graphql.String)},
				},
				Resolve: r.queryDevice,
			},
			"devices": &graphql.Field{
				Type:        graphql.NewNonNull(graphql.NewList(graphql.NewNonNull(deviceType))),
				Description: "List devices whose names match the bus glob pattern.",
				Args: graphql.FieldConfigArgument{
					"pattern": &graphql.ArgumentConfig{
						Type:         graphql.String,
						DefaultValue: "*",
					},
				},
				Resolve: r.queryDevices,
			},
			"attribute": &graphql.Field{
				Type:        attributeValueType,
				Description: "Read the current value of a device attribute.",
				Args: graphql.FieldConfigArgument{
					"device": &graphql.ArgumentConfig{Type: graphql.NewNonNull(graphql.String)},
					"name":   &graphql.ArgumentConfig{Type: graphql.NewNonNull(graphql.String)},
				},
				Resolve: r.queryAttribute,
			},
			"command": &graphql.Field{
				Type:        commandType,
				Description: "Look up a command descriptor on a device.",
				Args: graphql.FieldConfigArgument{
					"device": &graphql.ArgumentConfig{Type: graphql.NewNonNull(graphql.String)},
					"name":   &graphql.ArgumentConfig{Type: graphql.NewNonNull(graphql.String)},
				},
				Resolve: r.queryCommand,
			},
		},
	})

	writeResultType := graphql.NewObject(graphql.ObjectConfig{
		Name: "WriteResult",
		Fields: graphql.Fields{
			"device": &graphql.Field{
				Type: graphql.NewNonNull(graphql.String),
				Resolve: func(p graphql.ResolveParams) (any, error) {
					return p.Source.(writeResult).device, nil
				},
			},
			"attribute": &graphql.Field{
				Type: graphql.NewNonNull(graphql.String),
				Resolve: func(p graphql.ResolveParams) (any, error) {
					return p.Source.(writeResult).attribute, nil
				},
			},
		},
	})

	commandResultType := graphql.NewObject(graphql.ObjectConfig{
		Name: "CommandResult",
		Fields: graphql.Fields{
			"device": &graphql.Field{
				Type: graphql.NewNonNull(graphql.String),
				Resolve: func(p graphql.ResolveParams) (any, error) {
					return p.Source.(commandResult).device, nil
				},
			},
			"command": &graphql.Field{
				Type: graphql.NewNonNull(graphql.String),
				Resolve: func(p graphql.ResolveParams) (any, error) {
					return p.Source.(commandResult).command, nil
				},
			},
			"output": &graphql.Field{
				Type: jsonScalar,
				Resolve: func(p graphql.ResolveParams) (any, error) {
					out := p.Source.(commandResult).output
					if out == nil {
						return nil, nil
					}
					return jsonValue(*out), nil
				},
			},
		},
	})

	mutation := graphql.NewObject(graphql.ObjectConfig{
		Name: "Mutation",
		Fields: graphql.Fields{
			"writeAttribute": &graphql.Field{
				Type:        writeResultType,
				Description: "Write a value to a device attribute.",
				Args: graphql.FieldConfigArgument{
					"device": &graphql.ArgumentConfig{Type: graphql.NewNonNull(graphql.String)},
					"name":   &graphql.ArgumentConfig{Type: graphql.NewNonNull(graphql.String)},
					"value":  &graphql.ArgumentConfig{Type: graphql.NewNonNull(jsonScalar)},
				},
				Resolve: r.mutateWriteAttribute,
			},
			"executeCommand": &graphql.Field{
				Type:        commandResultType,
				Description: "Invoke a command on a device.",
				Args: graphql.FieldConfigArgument{
					"device":  &graphql.ArgumentConfig{Type: graphql.NewNonNull(graphql.String)},
					"command": &graphql.ArgumentConfig{Type: graphql.NewNonNull(graphql.String)},
					"input":   &graphql.ArgumentConfig{Type: jsonScalar},
				},
				Resolve: r.mutateExecuteCommand,
			},
		},
	})

	subscription := graphql.NewObject(graphql.ObjectConfig{
		Name: "Subscription",
		Fields: graphql.Fields{
			"attributeChange": &graphql.Field{
				Type:        attributeChangeEventType,
				Description: "Stream change events for one device attribute.",
				Args: graphql.FieldConfigArgument{
					"device":    &graphql.ArgumentConfig{Type: graphql.NewNonNull(graphql.String)},
					"attribute": &graphql.ArgumentConfig{Type: graphql.NewNonNull(graphql.String)},
				},
				Resolve:   passthroughResolve,
				Subscribe: r.subscribeAttributeChange,
			},
			"deviceState": &graphql.Field{
				Type:        deviceStateEventType,
				Description: "Stream operational-state changes for one device.",
				Args: graphql.FieldConfigArgument{
					"device": &graphql.ArgumentConfig{Type: graphql.NewNonNull(graphql.String)},
				},
				Resolve:   passthroughResolve,
				Subscribe: r.subscribeDeviceState,
			},
		},
	})

	return graphql.NewSchema(graphql.SchemaConfig{
		Query:        query,
		Mutation:     mutation,
		Subscription: subscription,
	})
}

func passthroughResolve(p graphql.ResolveParams) (any, error) {
	return p.Source, nil
}
