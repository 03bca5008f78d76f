// Package ingest accepts provider webhook payloads and feeds new messages to
// the conversation engine.
//
// # Flow
//
// A payload is accepted when its object type is allowed and it has entries.
// Every entry, change and message is handled in isolation. For each message:
//
//  1. The dedupe cache is consulted
//  2. The message ledger is checked (a lookup failure falls through)
//  3. The inbound row is inserted; its unique key is the final word on duplicates
//  4. The normalized text goes through the conversation service
//  5. The cache is marked and the reply is delivered
//
// Status updates change the ledger row of the outbound message they refer to.
// Reactions and template status updates are only logged.
//
// # Content
//
// Content maps every message kind to one line of text, e.g. a location
// becomes "[LOCATION: 19.43, -99.13]". Unknown kinds become "[KIND: unsupported]".
package ingest
