// Package script compiles the trigger/response rule dialect used by hearth.
//
// A script is a sequence of directive lines:
//
//	// greetings
//	+ (hola|hello) [there]
//	- Hi!
//	- Hello <get name>!
//
//	+ my name is *
//	- Nice to meet you, <star>.<set name=<star>>
//
//	> topic pricing
//	+ how much
//	- Someone will contact you shortly.{topic=random}
//	< topic
//
// Compile is a pure function. It either returns an immutable RuleSet or a
// *CompileError listing every bad line; non-fatal findings are returned as
// RuleSet.Warnings. Matching works on Normalize'd input, which is lower-cased
// with accents folded, punctuation removed and whitespace collapsed.
package script
