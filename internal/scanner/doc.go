// Package scanner runs scan cycles: fetch the catalog, resolve every channel, then swap in the new
// working-stream snapshot, persist it, announce the changes and archive a report.
//
// Only one cycle or single-channel refresh runs at a time. The in-memory table changes once per
// cycle, after every channel has been resolved, so lookups never observe a half-finished cycle.
package scanner
