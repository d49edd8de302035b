// Package cli provides the interactive TaskHive command-line client.
//
// It wires configuration, the HTTP API client, the session state machine,
// and an interactive REPL. Typical flow: try to resume a persisted session,
// start the expiration watchdog, and execute user commands until exit.
//
// Key features:
//   - Register / Login / Logout against the auth server
//   - Transparent access-token renewal in the background
//   - A terminal expiration dialog with a live countdown; the user extends
//     the session with the "extend" command or lets it lapse
//
// The REPL is started via App.Run(ctx), which blocks until the user exits.
package cli
