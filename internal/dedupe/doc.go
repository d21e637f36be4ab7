// Package dedupe remembers recently seen keys for a fixed window so that a
// repeated delivery of the same item can be recognized and dropped.
package dedupe
