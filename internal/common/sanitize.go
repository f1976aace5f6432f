package common

import "regexp"

// Patterns for fragments that must never reach UI or logs verbatim:
// filesystem paths, host:port pairs, bare IPs, and email addresses.
var (
	rePath  = regexp.MustCompile(`(?:[A-Za-z]:)?(?:/[\w.\-]+){2,}`)
	reEmail = regexp.MustCompile(`[\w.+\-]+@[\w\-]+(?:\.[\w\-]+)+`)
	reAddr  = regexp.MustCompile(`\b(?:\d{1,3}\.){3}\d{1,3}(?::\d{1,5})?\b`)
	rePort  = regexp.MustCompile(`\b(?:localhost|[\w\-]+\.[\w\-]+(?:\.[\w\-]+)*):\d{1,5}\b`)
)

// Sanitize scrubs file paths, network addresses and emails from a message
// before it is surfaced to a caller or written to a user-visible log.
func Sanitize(msg string) string {
	msg = reEmail.ReplaceAllString(msg, "[email]")
	msg = reAddr.ReplaceAllString(msg, "[addr]")
	msg = rePort.ReplaceAllString(msg, "[addr]")
	msg = rePath.ReplaceAllString(msg, "[path]")
	return msg
}
