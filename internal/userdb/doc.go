// Package userdb reads the system user database (/etc/passwd, /etc/shadow,
// /etc/group) for identity resolution during login.
//
// Parsing is read-only and line-preserving: unknown or malformed lines are
// kept as raw text and skipped, never treated as fatal, because a login
// manager must keep working on hosts with locally patched databases.
package userdb
