// Package state persists release pipeline progress in SQLite, one record per
// release identifier. Saves are transactional so a crash mid-run can never
// surface a partially written record on the next load.
package state
