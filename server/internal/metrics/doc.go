// Package metrics owns the Prometheus collectors exported by roomcast-server.
//
// New(reg) registers every collector on reg and returns a *Metrics whose
// recording methods are safe to call on a nil receiver, so packages under test
// can run without a registry.
//
// Collectors (all prefixed roomcast_):
//   - rooms                      gauge, rooms held by the registry
//   - connections                gauge, open WebSocket connections
//   - messages_total{type}       counter, decoded client frames by type
//   - errors_total{kind}         counter, protocol | authorization | dispatch
//   - broadcasts_total           counter, snapshots fanned out
//   - deliveries_total           counter, per-member snapshot enqueues
//   - connections_rejected_total counter, upgrades refused by the rate limiter
//
// Handler(g) serves the exposition format on /metrics. Summarize(g) flattens
// the gathered families into name → value for the ops stats endpoint.
package metrics
