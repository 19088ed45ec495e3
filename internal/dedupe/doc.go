// Package dedupe provides a time-bounded cache of answers keyed by request
// id, so a client that resends a request after its own timeout gets the
// original answer back instead of triggering the work a second time.
package dedupe
