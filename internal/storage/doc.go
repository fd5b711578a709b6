package storage

// Package storage provides a minimal persistence layer used by jobgrid.
//
// It currently tracks:
//   - Last applied job specs (name + spec hash + phase)
//   - Sync audit log (what was created/updated/deleted and why)
//   - Run history for one-off and triggered runs
