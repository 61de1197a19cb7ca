package apperr

import "regexp"

var (
	reAbsPath  = regexp.MustCompile(`(?:/[\w.\-]+){2,}`)
	reIPv4     = regexp.MustCompile(`\b\d{1,3}(?:\.\d{1,3}){3}\b`)
	reConnStr  = regexp.MustCompile(`(?i)(postgres|mysql|redis|mongodb)://[^\s"']+`)
	reStackLoc = regexp.MustCompile(`(?m)^\s+at .+:\d+$`)
)

// Sanitize redacts absolute paths, IPv4 addresses, connection strings, and
// stack frame lines from a user-visible message. No code in this
// repository calls it: the HTTP façade's error responses carry the
// unredacted message, whether or not config.Config.Production is set.
func Sanitize(msg string) string {
	msg = reConnStr.ReplaceAllString(msg, "[redacted-connection]")
	msg = reAbsPath.ReplaceAllString(msg, "[redacted-path]")
	msg = reIPv4.ReplaceAllString(msg, "[redacted-ip]")
	msg = reStackLoc.ReplaceAllString(msg, "[redacted-frame]")
	return msg
}
