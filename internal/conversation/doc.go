// Package conversation runs the per-message reply pipeline.
//
// # Overview
//
// The conversation package sits between webhook ingestion and the matching
// engine. It owns the order in which a message is handled and guarantees that
// every message produces exactly one reply and one interaction record.
//
// # Service
//
//	svc := conversation.New(conversation.Deps{...}, logger)
//	reply := svc.Process(ctx, conversation.Request{UserID: from, Text: text})
//
// When a message arrives:
//
//  1. Take the per-user lock
//  2. Get or create the session
//  3. An expired session restarts and gets the welcome back reply
//  4. Otherwise a close command ends the session with the closing reply
//  5. Otherwise the responder matches against the active rule sets
//  6. With no match, the fallback chain answers
//  7. Session state is saved and the interaction is recorded
//
// Restart and close replies carry confidence 1.0. A panic anywhere in the
// pipeline is recovered into the apology reply with kind error.
//
// # Broadcasting
//
// Broadcaster fans out recorded interactions to live subscribers, either for
// one user or for AllUsers. The gateway exposes it as a server-sent event
// stream for monitoring.
//
// # Shutdown
//
// Wait blocks until in-flight Process calls finish.
package conversation
