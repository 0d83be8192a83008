// Package cli provides the interactive FinKeeper command-line client.
//
// It wires configuration, the local store, the transport client, the
// connectivity monitor and the sync manager, and runs a REPL over them.
// Every command works offline; pushes happen in the background whenever the
// server is reachable.
//
// The REPL is started via App.Run(ctx), which blocks until the user exits.
package cli
