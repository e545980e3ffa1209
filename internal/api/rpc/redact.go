package rpc

import "regexp"

// Error text can embed DSNs, request URLs, or filesystem paths. These
// patterns strip the identifying parts before a message is serialized
// into a response frame.
var (
	reAccessToken = regexp.MustCompile(`(?i)(access_token=)[^&\s"']+`)
	reBearerToken = regexp.MustCompile(`(?i)\bbearer\s+[A-Za-z0-9._~+/\-]+=*`)
	reEmail       = regexp.MustCompile(`[A-Za-z0-9._%+\-]+@[A-Za-z0-9.\-]+\.[A-Za-z]{2,}`)
	reHomePath    = regexp.MustCompile(`(/home/|/Users/)[^/\s"']+`)
)

// Redact removes credentials and personal identifiers from an error
// message: access_token query parameters, bearer tokens, email
// addresses, and home-directory user segments.
func Redact(msg string) string {
	msg = reAccessToken.ReplaceAllString(msg, "${1}[redacted]")
	msg = reBearerToken.ReplaceAllString(msg, "Bearer [redacted]")
	msg = reEmail.ReplaceAllString(msg, "[email]")
	msg = reHomePath.ReplaceAllString(msg, "${1}[user]")
	return msg
}
