package dispatcher

import "regexp"

// maxDetail caps error detail strings returned to callers.
const maxDetail = 300

var (
	secretParam = regexp.MustCompile(`(?i)\b(apikey|api_key|api_token|auth_token|x_cg_demo_api_key|token|access_key)=([^&\s"']+)`)
	authHeader  = regexp.MustCompile(`(?i)\b(bearer|token|basic)\s+[A-Za-z0-9._\-+/=]{8,}`)
)

// redact masks credentials in s and truncates it.
func redact(s string) string {
	s = secretParam.ReplaceAllString(s, "$1=***")
	s = authHeader.ReplaceAllString(s, "$1 ***")
	if r := []rune(s); len(r) > maxDetail {
		s = string(r[:maxDetail]) + "..."
	}
	return s
}
