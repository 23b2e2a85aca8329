package api

import (
	"encoding/json"
	"net/http"

	"github.com/graphql-go/graphql"
)

// graphQLRequest is the standard GraphQL-over-HTTP request body.
type graphQLRequest struct {
	Query         string         `json:"query"`
	OperationName string         `json:"operationName,omitempty"`
	Variables     map[string]any `json:"variables,omitempty"`
}

// handleGraphQL executes a query or mutation.
//
// Operation failures are reported inside the GraphQL response with the
// error kind in extensions; the HTTP status stays 200 so clients have a
// single error-handling path. Only malformed requests get a 4xx.
func (s *Server) handleGraphQL(w http.ResponseWriter, r *http.Request) {
	var req graphQLRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeBadRequest(w, "invalid request body: "+err.Error())
		return
	}
	if req.Query == "" {
		writeBadRequest(w, "query is required")
		return
	}

	result := graphql.Do(graphql.Params{
		Schema:         s.schema,
		RequestString:  req.Query,
		OperationName:  req.OperationName,
		VariableValues: req.Variables,
		Context:        r.Context(),
	})

	writeJSON(w, http.StatusOK, result)
}
