// Package main hosts the lacquer CLI entrypoint and command graph.
//
// The Cobra-based command tree drives release runs, inspects persisted
// release state, clears finished releases, stores notarization credentials,
// and scaffolds configuration. It centralizes configuration resolution and
// logging setup so subcommands can focus on user experience instead of
// wiring.
//
// Keep this package lean: add new functionality by extending the internal
// packages first, then surface it through dedicated commands or flags here.
package main
