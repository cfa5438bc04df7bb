// Package app wires keepstore components together.
//
// Open builds them in dependency order: tiers, engine, audit log, backup
// manager, record store, optimizer and scheduler. Close releases them in
// reverse. The scheduler is built but not started; long-running commands
// start it explicitly.
package app
