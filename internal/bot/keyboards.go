package bot

import (
	"fmt"
	"strconv"
	"strings"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"

	"github.com/facilitydesk/repair-bot/internal/conversation"
	"github.com/facilitydesk/repair-bot/internal/models"
)

// User menu
const (
	LabelMyRequests = "📊 My requests"
	LabelHelp       = "ℹ️ Help"
	LabelContacts   = "📞 Contacts"
)

// Operator menu
const (
	LabelAllRequests = "📋 All requests"
	LabelNewRequests = "🆕 New requests"
	LabelInProgress  = "🛠️ In progress"
	LabelCompleted   = "✅ Completed"
	LabelStatistics  = "📊 Statistics"
	LabelMainMenu    = "🔙 Main menu"
)

const callbackPrefix = "status_"

func replyKeyboard(rows ...[]string) tgbotapi.ReplyKeyboardMarkup {
	var kbRows [][]tgbotapi.KeyboardButton
	for _, row := range rows {
		var buttons []tgbotapi.KeyboardButton
		for _, label := range row {
			buttons = append(buttons, tgbotapi.NewKeyboardButton(label))
		}
		kbRows = append(kbRows, tgbotapi.NewKeyboardButtonRow(buttons...))
	}
	kb := tgbotapi.NewReplyKeyboard(kbRows...)
	kb.ResizeKeyboard = true
	return kb
}

var (
	mainKeyboard = replyKeyboard(
		[]string{conversation.LabelStart, LabelMyRequests},
		[]string{LabelHelp, LabelContacts},
	)

	operatorKeyboard = replyKeyboard(
		[]string{LabelAllRequests, LabelNewRequests, LabelInProgress},
		[]string{LabelCompleted, LabelStatistics},
		[]string{LabelMainMenu},
	)

	categoryKeyboard = replyKeyboard(
		[]string{models.CategoryFurniture.Label(), models.CategoryElectrical.Label(), models.CategoryPlumbing.Label()},
		[]string{models.CategoryCleaning.Label(), models.CategoryEquipment.Label(), models.CategoryOther.Label()},
		[]string{conversation.LabelBack},
	)

	backKeyboard = replyKeyboard([]string{conversation.LabelBack})

	photoChoiceKeyboard = replyKeyboard(
		[]string{conversation.LabelAttachPhoto, conversation.LabelSkipPhoto},
		[]string{conversation.LabelBack},
	)
)

func menuFor(mode conversation.Mode) tgbotapi.ReplyKeyboardMarkup {
	if mode == conversation.ModeOperator {
		return operatorKeyboard
	}
	return mainKeyboard
}

// callbackData encodes an action on a request as status_<target>_<id>.
func callbackData(target models.RequestStatus, requestID int64) string {
	return fmt.Sprintf("%s%s_%d", callbackPrefix, target, requestID)
}

// parseCallbackData decodes callbackData. The status itself may contain
// underscores, so the id is taken from the last segment.
func parseCallbackData(data string) (models.RequestStatus, int64, bool) {
	if !strings.HasPrefix(data, callbackPrefix) {
		return "", 0, false
	}
	rest := strings.TrimPrefix(data, callbackPrefix)
	i := strings.LastIndex(rest, "_")
	if i <= 0 || i == len(rest)-1 {
		return "", 0, false
	}
	id, err := strconv.ParseInt(rest[i+1:], 10, 64)
	if err != nil {
		return "", 0, false
	}
	status := models.RequestStatus(rest[:i])
	if !status.Valid() {
		return "", 0, false
	}
	return status, id, true
}

// inlineKeyboard renders the action controls of a request. It returns nil
// when no action is left.
func inlineKeyboard(requestID int64, actions []models.Action) *tgbotapi.InlineKeyboardMarkup {
	if len(actions) == 0 {
		return nil
	}
	var buttons []tgbotapi.InlineKeyboardButton
	for _, a := range actions {
		buttons = append(buttons, tgbotapi.NewInlineKeyboardButtonData(a.Label, callbackData(a.Target, requestID)))
	}
	kb := tgbotapi.NewInlineKeyboardMarkup(tgbotapi.NewInlineKeyboardRow(buttons...))
	return &kb
}
