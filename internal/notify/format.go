package notify

import (
	"fmt"
	"strings"
	"unicode/utf16"

	"github.com/facilitydesk/repair-bot/internal/models"
)

// Telegram limits, counted in UTF-16 code units.
const (
	MaxCaptionUnits = 1024
	MaxMessageUnits = 4096
)

// FormatNewRequest renders the operator notification for a new request.
// The description is shortened when the text would exceed limit units.
func FormatNewRequest(req *models.Request, responsible string, limit int) string {
	return fitDescription(req.Description, limit, func(description string) string {
		var sb strings.Builder

		sb.WriteString(fmt.Sprintf("🚨 NEW REQUEST #%d\n\n", req.ID))
		sb.WriteString(fmt.Sprintf("👤 From: %s\n", req.ReporterName))
		sb.WriteString(fmt.Sprintf("🚪 Room: %s\n", req.Location))
		sb.WriteString(fmt.Sprintf("🔧 Category: %s\n", req.Category.Label()))
		sb.WriteString(fmt.Sprintf("📝 Description: %s\n\n", description))
		sb.WriteString(fmt.Sprintf("👨‍🔧 Responsible: %s", responsible))

		return sb.String()
	})
}

// FormatConfirmation renders the receipt sent back to the reporter.
func FormatConfirmation(req *models.Request, responsible string) string {
	return fitDescription(req.Description, MaxMessageUnits, func(description string) string {
		return formatConfirmation(req, responsible, description)
	})
}

func formatConfirmation(req *models.Request, responsible, description string) string {
	photo := "none"
	if req.PhotoRef != "" {
		photo = "attached"
	}

	var sb strings.Builder
	sb.WriteString("✅ Request created!\n\n")
	sb.WriteString(fmt.Sprintf("📋 Number: #%d\n", req.ID))
	sb.WriteString(fmt.Sprintf("🚪 Room: %s\n", req.Location))
	sb.WriteString(fmt.Sprintf("🔧 Category: %s\n", req.Category.Label()))
	sb.WriteString(fmt.Sprintf("📝 Description: %s\n", description))
	sb.WriteString(fmt.Sprintf("📷 Photo: %s\n\n", photo))
	sb.WriteString("Status: 🆕 Accepted\n")
	sb.WriteString("We will keep you posted!\n\n")
	sb.WriteString(fmt.Sprintf("👨‍🔧 Responsible: %s", responsible))

	return sb.String()
}

// FormatStatusChange renders the reporter notification for a transition.
func FormatStatusChange(requestID int64, status models.RequestStatus, actorName string) string {
	var headline, statusText, footer string
	switch status {
	case models.StatusInProgress:
		headline = fmt.Sprintf("🛠️ Request #%d taken in progress", requestID)
		statusText = "In progress"
		footer = "We have started working on your request!"
	case models.StatusCompleted:
		headline = fmt.Sprintf("✅ Request #%d completed", requestID)
		statusText = "Completed"
		footer = "Your request has been completed!"
	default:
		headline = fmt.Sprintf("🆕 Request #%d accepted", requestID)
		statusText = "Accepted"
		footer = "Your request has been accepted!"
	}

	var sb strings.Builder
	sb.WriteString(headline + "\n\n")
	sb.WriteString(fmt.Sprintf("📋 Request number: #%d\n", requestID))
	sb.WriteString(fmt.Sprintf("👨‍🔧 Assignee: %s\n", actorName))
	sb.WriteString(fmt.Sprintf("🔄 Status: %s\n\n", statusText))
	sb.WriteString(footer)

	return sb.String()
}

// FormatOperatorUpdate renders the text that replaces an operator's
// notification once they have acted on it.
func FormatOperatorUpdate(requestID int64, status models.RequestStatus, actorName string) string {
	switch status {
	case models.StatusInProgress:
		return fmt.Sprintf("🛠️ Request #%d taken in progress\n\nAssignee: %s", requestID, actorName)
	case models.StatusCompleted:
		return fmt.Sprintf("✅ Request #%d completed\n\nAssignee: %s", requestID, actorName)
	default:
		return fmt.Sprintf("📋 Request #%d\n\nStatus updated", requestID)
	}
}

// StatusLabel is the short human label for a status.
func StatusLabel(status models.RequestStatus) string {
	switch status {
	case models.StatusNew:
		return "🆕 Accepted"
	case models.StatusInProgress:
		return "🛠️ In progress"
	case models.StatusCompleted:
		return "✅ Completed"
	default:
		return "📋 Unknown"
	}
}

// fitDescription renders with the full description and, when the result
// is longer than limit units, again with the description cut by the
// excess. The whole text is cut only if the other fields alone are too long.
func fitDescription(description string, limit int, render func(string) string) string {
	text := render(description)
	n := TextLen(text)
	if limit <= 0 || n <= limit {
		return text
	}

	keep := TextLen(description) - (n - limit)
	if keep > 1 {
		text = render(Truncate(description, keep))
	} else {
		text = render("…")
	}
	if TextLen(text) > limit {
		text = Truncate(text, limit)
	}
	return text
}

// TextLen is the length of s as Telegram counts it.
func TextLen(s string) int {
	n := 0
	for _, r := range s {
		n += runeUnits(r)
	}
	return n
}

// Truncate shortens s to at most max UTF-16 units, ending it with an
// ellipsis when something was cut.
func Truncate(s string, max int) string {
	if TextLen(s) <= max {
		return s
	}
	if max <= 0 {
		return ""
	}

	budget := max - 1
	var sb strings.Builder
	for _, r := range s {
		u := runeUnits(r)
		if u > budget {
			break
		}
		budget -= u
		sb.WriteRune(r)
	}
	sb.WriteString("…")
	return sb.String()
}

func runeUnits(r rune) int {
	if n := utf16.RuneLen(r); n > 0 {
		return n
	}
	return 1
}
