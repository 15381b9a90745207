// Package sshterminal bridges browser terminal connections to interactive
// SSH shells on customer servers.
//
// A [Manager] owns every terminal session. For each connection it:
//   - authorizes the user against the server's owner
//   - checks the server has an address and a reachable status
//   - opens a PTY shell with the system credential through a [Dialer]
//   - relays output and input between the shell and a [Transport]
//   - closes the shell and the transport when either side ends
//
// A session moves through Connecting, Authorizing, OpeningShell and Active
// to Closed. Any state can go straight to Closed on error, and Closed is
// final. The manager never retries; reconnecting is the client's choice.
//
// Output chunks are split only on UTF-8 rune boundaries. Resize requests
// are clamped to [MaxTermRows] x [MaxTermCols] and repeated sizes are not
// forwarded to the shell.
package sshterminal
