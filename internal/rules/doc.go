// Package rules loads rule scripts into the responder.
//
// Loader.Reload compiles the active rule sets from storage and swaps the
// responder snapshot. Any failure leaves the running snapshot alone.
//
// A rules directory holds the scripts plus a rules.toml manifest:
//
//	[[ruleset]]
//	name = "main"
//	file = "main.rive"
//	priority = 10
//	default = true
//
//	[[ruleset]]
//	name = "promos"
//	file = "promos.rive"
//	priority = 20
//	active = false
//
// Loader.SyncDir stores the declared sets and reloads. Watcher calls it
// whenever the directory changes.
package rules
