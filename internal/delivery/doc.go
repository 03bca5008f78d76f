// Package delivery sends replies back through the messaging provider.
//
// HTTPSender talks to a Graph API style endpoint with a bearer token.
// LogSender only logs, for deployments without provider credentials.
// Every failure comes back as a *Error carrying the HTTP status and a body excerpt.
package delivery
