// Package schedule defines the periodic task entry model and its four
// schedule variants (interval, crontab, solar, clocked).
//
// The package is responsible only for:
//   - variant definitions and validation
//   - computing whether an entry is due and when to check it next
//
// Persistence lives in internal/storage; the evaluation loop lives in
// internal/beat.
package schedule
