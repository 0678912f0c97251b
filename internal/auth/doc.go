// Package auth authenticates a credential pair against the host user
// database and brackets the resulting login session.
//
// The flow mirrors the platform authentication stack: open a handle for a
// named service, validate credentials, resolve the numeric identity, open
// the session. Each step fails distinctly for the logs, but callers must
// collapse credential failures into one generic outcome so the login
// prompt never reveals whether a username exists.
package auth
