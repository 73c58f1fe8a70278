package bot

import (
	"fmt"
	"strings"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"

	"github.com/facilitydesk/repair-bot/internal/conversation"
	"github.com/facilitydesk/repair-bot/internal/models"
	"github.com/facilitydesk/repair-bot/internal/notify"
)

const (
	userListLimit     = 5
	operatorListLimit = 10
	dateLayout        = "02.01.2006 15:04"
	listFieldUnits    = 200
)

const helpText = "ℹ️ HELP\n\n" +
	"📝 Submit request - report a problem in three steps: category, room, description. " +
	"A photo is optional.\n" +
	"📊 My requests - your latest requests and their status\n" +
	"📞 Contacts - who is responsible for each category\n\n" +
	"Press 🔙 Back at any step to cancel the request."

var promptTexts = map[conversation.Prompt]string{
	conversation.PromptNone:               "Please use the menu buttons.",
	conversation.PromptCategory:           "🔧 Choose the problem category:",
	conversation.PromptInvalidCategory:    "Please choose a category from the buttons below.",
	conversation.PromptRoom:               "🚪 Enter the room number or location:",
	conversation.PromptDescription:        "📝 Describe the problem:",
	conversation.PromptEmptyText:          "The answer cannot be empty. Please try again.",
	conversation.PromptPhotoChoice:        "📷 Would you like to attach a photo?",
	conversation.PromptInvalidPhotoChoice: "Please use the buttons below.",
	conversation.PromptPhoto:              "📷 Send the photo:",
	conversation.PromptAwaitingPhoto:      "Please send a photo or press 🔙 Back.",
	conversation.PromptUnexpectedPhoto:    "A photo is not expected at this step.",
	conversation.PromptNoActiveDraft:      "To attach a photo, start a new request first.",
	conversation.PromptCancelled:          "❌ Request cancelled.",
	conversation.PromptCreateFailed:       "⚠️ Could not save the request. Please try again later.",
}

// keyboardFor picks the reply keyboard that matches where the session is.
func keyboardFor(s *conversation.Session) tgbotapi.ReplyKeyboardMarkup {
	switch s.Stage {
	case conversation.StageCategory:
		return categoryKeyboard
	case conversation.StagePhotoChoice:
		return photoChoiceKeyboard
	case conversation.StageRoom, conversation.StageDescription, conversation.StagePhoto:
		return backKeyboard
	default:
		return menuFor(s.Mode)
	}
}

func welcomeText(name string, mode conversation.Mode) string {
	if mode == conversation.ModeOperator {
		return fmt.Sprintf("👋 Hello, %s!\n\nYou are signed in as an operator. Use the menu to review requests.", name)
	}
	return fmt.Sprintf("👋 Hello, %s!\n\nI accept maintenance requests. Press 📝 Submit request to report a problem.", name)
}

func contactsText(routing notify.Routing) string {
	var sb strings.Builder
	sb.WriteString("📞 CONTACTS\n\n")
	for _, c := range models.Categories {
		sb.WriteString(fmt.Sprintf("%s: %s\n", c.Label(), routing.ResponsibleFor(c)))
	}
	return strings.TrimRight(sb.String(), "\n")
}

func userRequestsText(requests []models.Request) string {
	if len(requests) == 0 {
		return "You have no requests yet."
	}
	if len(requests) > userListLimit {
		requests = requests[:userListLimit]
	}

	var sb strings.Builder
	sb.WriteString("📊 YOUR REQUESTS\n\n")
	for _, req := range requests {
		sb.WriteString(fmt.Sprintf("━━━ #%d • %s\n", req.ID, req.Category.Label()))
		sb.WriteString(fmt.Sprintf("🚪 %s\n", notify.Truncate(req.Location, listFieldUnits)))
		sb.WriteString(fmt.Sprintf("🔄 %s\n", notify.StatusLabel(req.Status)))
		sb.WriteString(fmt.Sprintf("📅 %s\n\n", req.CreatedAt.Local().Format(dateLayout)))
	}
	return notify.Truncate(strings.TrimRight(sb.String(), "\n"), notify.MaxMessageUnits)
}

func operatorRequestsText(title string, requests []models.Request) string {
	if len(requests) == 0 {
		return title + "\n\nNo requests found."
	}
	total := len(requests)
	if total > operatorListLimit {
		requests = requests[:operatorListLimit]
	}

	var sb strings.Builder
	sb.WriteString(fmt.Sprintf("%s (%d)\n\n", title, total))
	for _, req := range requests {
		sb.WriteString(fmt.Sprintf("━━━ #%d • %s • %s\n", req.ID, req.Category.Label(), notify.StatusLabel(req.Status)))
		sb.WriteString(fmt.Sprintf("👤 %s\n", req.ReporterName))
		sb.WriteString(fmt.Sprintf("🚪 %s\n", notify.Truncate(req.Location, listFieldUnits)))
		sb.WriteString(fmt.Sprintf("📝 %s\n", notify.Truncate(req.Description, listFieldUnits)))
		sb.WriteString(fmt.Sprintf("📅 %s\n\n", req.CreatedAt.Local().Format(dateLayout)))
	}
	if total > len(requests) {
		sb.WriteString(fmt.Sprintf("...and %d more", total-len(requests)))
	}
	return notify.Truncate(strings.TrimRight(sb.String(), "\n"), notify.MaxMessageUnits)
}

func displayName(u *tgbotapi.User) string {
	if u == nil {
		return ""
	}
	name := strings.TrimSpace(u.FirstName + " " + u.LastName)
	if name == "" {
		name = u.UserName
	}
	return name
}

// largestPhoto returns the file id of the biggest size Telegram offers.
func largestPhoto(sizes []tgbotapi.PhotoSize) string {
	best := -1
	var ref string
	for _, p := range sizes {
		area := p.Width * p.Height
		if area > best {
			best = area
			ref = p.FileID
		}
	}
	return ref
}
