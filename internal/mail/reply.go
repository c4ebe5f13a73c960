// Package mail holds deterministic email body cleanup: stripping quoted
// history so downstream stages only ever see the broker's actual reply.
package mail

import (
	"regexp"
	"strings"
)

var (
	outlookDivider = regexp.MustCompile(`(?i)^-----Original Message-----`)
	gmailDivider   = regexp.MustCompile(`(?i)^On .* (at|wrote).*$`)
	forwardDivider = regexp.MustCompile(`(?i)^-+\s*Forwarded message\s*-+`)
	gmailQuoteDiv  = regexp.MustCompile(`(?i)<div class="gmail_quote[^"]*">`)
)

// Split separates an email body into the fresh reply and the quoted
// original below it. When no divider is found the whole body is the reply.
func Split(body string) (reply, original string) {
	if body == "" {
		return "", ""
	}

	lines := strings.Split(body, "\n")
	divider := -1
	for i, line := range lines {
		s := strings.TrimSpace(line)
		if outlookDivider.MatchString(s) || gmailDivider.MatchString(s) || forwardDivider.MatchString(s) {
			divider = i
			break
		}
	}

	if divider < 0 {
		return strings.TrimSpace(body), ""
	}
	reply = strings.TrimSpace(strings.Join(lines[:divider], "\n"))
	original = strings.TrimSpace(strings.Join(lines[divider+1:], "\n"))
	return reply, original
}

// ExtractReply strips the gmail quote container (HTML bodies) and quoted
// history (plain-text bodies), returning just the broker's latest words.
func ExtractReply(body string) string {
	if loc := gmailQuoteDiv.FindStringIndex(body); loc != nil {
		body = body[:loc[0]]
	}
	reply, _ := Split(body)

	// Drop any remaining "> quoted" lines.
	lines := strings.Split(reply, "\n")
	kept := lines[:0]
	for _, line := range lines {
		if strings.HasPrefix(strings.TrimSpace(line), ">") {
			continue
		}
		kept = append(kept, line)
	}
	return strings.TrimSpace(strings.Join(kept, "\n"))
}

// Content renders a subject+body pair the way stage prompts consume it.
func Content(subject, body string) string {
	cleaned := ExtractReply(body)
	if subject == "" {
		return cleaned
	}
	return "Subject: " + subject + "\n\n" + cleaned
}
