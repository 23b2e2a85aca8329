package graph

import (
	"fmt"
	"math"
	"strconv"

	"github.com/graphql-go/graphql"
	"github.com/graphql-go/graphql/language/ast"

	"github.com/openctl/ctrlgraph/internal/bus"
)

// jsonScalar carries attribute payloads of any declared bus type:
// scalars, spectra, and images all serialize as plain JSON.
var jsonScalar = graphql.NewScalar(graphql.ScalarConfig{
	Name:        "JSON",
	Description: "Arbitrary JSON value matching the attribute's declared data type.",
	Serialize:   func(value any) any { return value },
	ParseValue:  func(value any) any { return value },
	ParseLiteral: func(valueAST ast.Value) any {
		return literalToValue(valueAST)
	},
})

func literalToValue(valueAST ast.Value) any {
	switch v := valueAST.(type) {
	case *ast.StringValue:
		return v.Value
	case *ast.BooleanValue:
		return v.Value
	case *ast.IntValue:
		n, err := strconv.ParseFloat(v.Value, 64)
		if err != nil {
			return nil
		}
		return n
	case *ast.FloatValue:
		n, err := strconv.ParseFloat(v.Value, 64)
		if err != nil {
			return nil
		}
		return n
	case *ast.EnumValue:
		return v.Value
	case *ast.ListValue:
		items := make([]any, 0, len(v.Values))
		for _, item := range v.Values {
			items = append(items, literalToValue(item))
		}
		return items
	case *ast.ObjectValue:
		obj := make(map[string]any, len(v.Fields))
		for _, f := range v.Fields {
			obj[f.Name.Value] = literalToValue(f.Value)
		}
		return obj
	default:
		return nil
	}
}

// jsonValue prepares a bus value payload for transport. JSON has no
// representation for non-finite floats, so they go out as strings.
func jsonValue(v bus.Value) any {
	if f, ok := v.Data.(float64); ok && (math.IsInf(f, 0) || math.IsNaN(f)) {
		return fmt.Sprintf("%v", f)
	}
	return v.Data
}

var operationErrorType = graphql.NewObject(graphql.ObjectConfig{
	Name:        "OperationError",
	Description: "A failed operation's kind and message.",
	Fields: graphql.Fields{
		"kind": &graphql.Field{
			Type: graphql.NewNonNull(graphql.String),
			Resolve: func(p graphql.ResolveParams) (any, error) {
				return string(p.Source.(*OpError).Kind), nil
			},
		},
		"message": &graphql.Field{
			Type: graphql.NewNonNull(graphql.String),
			Resolve: func(p graphql.ResolveParams) (any, error) {
				return p.Source.(*OpError).Message, nil
			},
		},
	},
})

var attributeValueType = graphql.NewObject(graphql.ObjectConfig{
	Name:        "AttributeValue",
	Description: "A point-in-time or pushed attribute reading.",
	Fields: graphql.Fields{
		"attribute": &graphql.Field{
			Type: graphql.NewNonNull(graphql.String),
			Resolve: func(p graphql.ResolveParams) (any, error) {
				return p.Source.(*bus.AttributeValue).Attribute, nil
			},
		},
		"type": &graphql.Field{
			Type: graphql.NewNonNull(graphql.String),
			Resolve: func(p graphql.ResolveParams) (any, error) {
				return p.Source.(*bus.AttributeValue).Type.String(), nil
			},
		},
		"value": &graphql.Field{
			Type: jsonScalar,
			Resolve: func(p graphql.ResolveParams) (any, error) {
				return jsonValue(p.Source.(*bus.AttributeValue).Value), nil
			},
		},
		"quality": &graphql.Field{
			Type: graphql.NewNonNull(graphql.String),
			Resolve: func(p graphql.ResolveParams) (any, error) {
				return string(p.Source.(*bus.AttributeValue).Quality), nil
			},
		},
		"timestamp": &graphql.Field{
			Type: graphql.NewNonNull(graphql.DateTime),
			Resolve: func(p graphql.ResolveParams) (any, error) {
				return p.Source.(*bus.AttributeValue).Timestamp, nil
			},
		},
		"unit": &graphql.Field{
			Type: graphql.String,
			Resolve: func(p graphql.ResolveParams) (any, error) {
				return p.Source.(*bus.AttributeValue).Unit, nil
			},
		},
	},
})

var attributeType = graphql.NewObject(graphql.ObjectConfig{
	Name:        "Attribute",
	Description: "A named, typed value exposed by a device.",
	Fields: graphql.Fields{
		"name": &graphql.Field{
			Type: graphql.NewNonNull(graphql.String),
			Resolve: func(p graphql.ResolveParams) (any, error) {
				return p.Source.(bus.AttributeDescriptor).Name, nil
			},
		},
		"type": &graphql.Field{
			Type: graphql.NewNonNull(graphql.String),
			Resolve: func(p graphql.ResolveParams) (any, error) {
				return p.Source.(bus.AttributeDescriptor).Type.String(), nil
			},
		},
		"access": &graphql.Field{
			Type: graphql.NewNonNull(graphql.String),
			Resolve: func(p graphql.ResolveParams) (any, error) {
				return string(p.Source.(bus.AttributeDescriptor).Access), nil
			},
		},
		"unit": &graphql.Field{
			Type: graphql.String,
			Resolve: func(p graphql.ResolveParams) (any, error) {
				return p.Source.(bus.AttributeDescriptor).Unit, nil
			},
		},
	},
})

var commandType = graphql.NewObject(graphql.ObjectConfig{
	Name:        "Command",
	Description: "An invocable command exposed by a device.",
	Fields: graphql.Fields{
		"name": &graphql.Field{
			Type: graphql.NewNonNull(graphql.String),
			Resolve: func(p graphql.ResolveParams) (any, error) {
				return p.Source.(bus.CommandDescriptor).Name, nil
			},
		},
		"inType": &graphql.Field{
			Type: graphql.String,
			Resolve: func(p graphql.ResolveParams) (any, error) {
				if t := p.Source.(bus.CommandDescriptor).InType; t != nil {
					return t.String(), nil
				}
				return nil, nil
			},
		},
		"outType": &graphql.Field{
			Type: graphql.String,
			Resolve: func(p graphql.ResolveParams) (any, error) {
				if t := p.Source.(bus.CommandDescriptor).OutType; t != nil {
					return t.String(), nil
				}
				return nil, nil
			},
		},
	},
})
