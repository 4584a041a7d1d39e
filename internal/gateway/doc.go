// Package gateway orchestrates the agentmix server components.
//
// # Overview
//
// The gateway owns the data store, provider registry, conversation runtime,
// event broadcaster and dedupe cache, and serves them over HTTP. When
// configured it also runs a gRPC health service, joins a tailnet through
// tsnet and starts the Matrix relay.
//
// # HTTP API
//
//   - GET /health, GET /health/ready - liveness and readiness
//   - GET /api/providers - provider table
//   - POST, GET /api/agents and GET /api/agents/{id}
//   - POST, GET /api/conversations and GET /api/conversations/{id}
//   - GET /api/conversations/active - live conversations with their status
//   - POST /api/conversations/{id}/start, /stop, /pause, /resume
//   - POST /api/conversations/{id}/human-input - pause for a human on an agent's behalf
//   - GET /api/conversations/{id}/status - runtime and stored status
//   - POST, GET /api/conversations/{id}/messages - human messages and transcript
//   - GET /api/conversations/{id}/events - SSE stream of runtime events
//   - GET /api/conversations/{id}/export?format= - markdown, text, json or html
//   - GET /api/audit - who created agents and conversations and who drove them
//
// Errors are JSON objects of the form {"error": "..."}. Runtime errors map
// to status codes: not found is 404, a failed precondition is 409, a provider
// failure is 502 and anything else is 500.
//
// # Idempotent Delivery
//
// A human message posted with client_message_id, and every Matrix room
// message, is delivered once per key while the key stays in the dedupe
// cache. Repeats answer with the first delivery's message id.
//
// # Audit
//
// Agent and conversation creation, and every successful start, stop, pause,
// resume and human-input request, append an audit entry. The actor is "api"
// for the HTTP API and "matrix:<user id>" for room commands.
//
// # Shutdown
//
// Shutdown ends SSE streams, stops the HTTP and gRPC servers, parks live
// conversations as paused and closes the store.
package gateway
