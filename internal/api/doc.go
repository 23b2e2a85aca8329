// Package api implements the HTTP and WebSocket surface of ctrlgraph.
//
// This package provides:
//   - POST /api/v1/graphql for queries and mutations
//   - GET /api/v1/ws for GraphQL subscriptions over WebSocket
//   - GET /api/v1/audit for the mutation audit trail
//   - Middleware stack (request ID, logging, recovery, CORS, auth)
//   - TLS support for production deployments
//
// # Architecture
//
// The server sits between API clients and the control bus. Queries and
// mutations execute against the GraphQL schema built in internal/graph;
// subscriptions ride a WebSocket connection where each started operation
// owns a cancellable context, so closing the socket releases every
// bus-side registration it held.
//
// # Security
//
// Every request except the health check requires a bearer token issued
// by the external auth service. Tokens are verified locally and checked
// against the session store once per request; WebSocket clients pass the
// token as a query parameter since browsers cannot set headers on
// upgrade requests.
package api
