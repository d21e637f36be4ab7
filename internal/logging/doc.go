// Package logging constructs *slog.Logger values from a level and a format.
// The "text" format writes colorized single-line records; "json" uses
// slog's JSON handler.
package logging
