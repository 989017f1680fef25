// Package email renders governance notification messages. Bodies reference
// request identifiers only; identity fields never appear in a notification.
package email

import (
	"fmt"
	"strings"
	"unicode"
)

// Notice is a rendered notification ready for a delivery transport.
type Notice struct {
	Subject string
	Body    string
}

// RenderApprovalRequested renders the notice sent to a program manager when
// an erasure request needs their decision.
func RenderApprovalRequested(requestID string) Notice {
	return Notice{
		Subject: "Erasure request awaiting your approval",
		Body: fmt.Sprintf(
			"An erasure request (%s) requires an approval decision from you as program manager. Please review it in the governance console.",
			requestID,
		),
	}
}

// RenderDeadlocked renders the notice sent to administrators when a request
// has no eligible approver and needs a fallback decision.
func RenderDeadlocked(requestID string) Notice {
	return Notice{
		Subject: "Erasure request deadlocked",
		Body: fmt.Sprintf(
			"Erasure request %s has no eligible approver and is waiting on an administrator fallback decision.",
			requestID,
		),
	}
}

// RenderResolved renders the notice sent to the requester when the request
// reaches a terminal outcome.
func RenderResolved(requestID, outcome string) Notice {
	return Notice{
		Subject: fmt.Sprintf("Erasure request %s", outcome),
		Body: fmt.Sprintf(
			"Your erasure request %s was %s.",
			requestID, outcome,
		),
	}
}

// DeriveNameFromEmail splits an address into a displayable first/last name
// pair for delivery transports that want a salutation.
func DeriveNameFromEmail(email string) (string, string) {
	localPart := email
	if at := strings.IndexByte(email, '@'); at > 0 {
		localPart = email[:at]
	}

	parts := strings.FieldsFunc(localPart, func(r rune) bool {
		return r == '.' || r == '_' || r == '-' || r == '+'
	})

	if len(parts) == 0 {
		return "User", "User"
	}

	first := capitalize(parts[0])
	last := "User"
	if len(parts) > 1 {
		last = capitalize(parts[len(parts)-1])
	}

	return first, last
}

func capitalize(s string) string {
	if s == "" {
		return s
	}

	runes := []rune(s)
	runes[0] = unicode.ToUpper(runes[0])
	return string(runes)
}
