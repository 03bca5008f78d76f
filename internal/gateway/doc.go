// Package gateway orchestrates the hearth server components.
//
// # Overview
//
// The gateway owns every long-lived component: the SQLite store, the dedup
// cache, the rules loader and responder, the conversation service with its
// session manager, fallback chain and audit recorder, the ingest pipeline and
// outbound sender, the maintenance scheduler and the metrics registry.
//
// # HTTP API
//
//   - GET /webhook - provider subscription handshake (hub.challenge echo)
//   - POST /webhook - provider events; always 200 with {"accepted": bool} unless the body is not JSON
//   - GET /health - liveness
//   - GET /ready - 200 once a rule snapshot is published
//   - POST /admin/reload - re-sync the rules directory; 422 with diagnostics on compile errors
//   - GET /admin/interactions - interaction log, filtered by user_id, kind, since and limit
//   - GET /admin/interactions/stream - new interactions as server-sent events
//   - GET /metrics - Prometheus, when metrics.enabled is set
//
// Stream events look like:
//
//	event: interaction
//	data: {"id":"01J...","user_id":"5215550001","kind":"rule-match",...}
//
// # Lifecycle
//
//	gw, err := gateway.New(cfg, logger)
//	if err != nil {
//	    return err
//	}
//	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt)
//	defer cancel()
//	return gw.Run(ctx)
//
// Run loads the rules, then runs the HTTP server, the rules watcher (when
// rules.watch is set) and the maintenance scheduler. On cancel it stops
// accepting requests, waits for in-flight conversations and audit writes,
// and closes the store.
package gateway
