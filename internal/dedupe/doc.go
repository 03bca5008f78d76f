// Package dedupe remembers recently processed provider message ids so that
// webhook redeliveries are dropped before they reach storage.
package dedupe
