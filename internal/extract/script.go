package extract

import _ "embed"

// consoleScript carries the heuristics of this package as a standalone
// browser-console script. It is the fallback for a human operator when the
// automated pipeline is blocked at the network level: run in the console of a
// loaded procurement page, it downloads extracted records as a JSON file that
// the admin import path accepts.
//
//go:embed console_extractor.js
var consoleScript string

// ConsoleScript returns the standalone in-browser extraction script.
func ConsoleScript() string {
	return consoleScript
}
