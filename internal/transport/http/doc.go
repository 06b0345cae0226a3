// Package http serves the loopback license API used by the host application
// and by licensectl. It binds to 127.0.0.1 only.
//
// Routes:
//
//	GET  /license/status          current Info (validates lazily on first call)
//	POST /license/validate        force a validation pass
//	POST /license/activate        body is a license file, binary or armored
//	POST /license/deactivate      remove the activation from every location
//	GET  /license/features/{name} feature query
//	GET  /license/events          websocket stream of status changes
//	GET  /license/telemetry       local event log as json, csv or xlsx
//	GET  /healthz                 component health
//	GET  /metrics                 Prometheus metrics
//
// Every request must name a loopback Host. POST requests must also carry the
// X-Licensor-Request header or a JSON content type, and any Origin they send
// must be local.
//
// Failures are RFC 7807 problem documents carrying the license error
// category. Internal details never leave the process.
package http
