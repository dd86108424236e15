package telegram

import (
	"encoding/json"
	"net/http"
	"strconv"
	"strings"

	goerrors "github.com/goliatone/go-errors"
)

// Update is the subset of a Bot API update the bot reacts to.
type Update struct {
	UpdateID int64    `json:"update_id"`
	Message  *Message `json:"message,omitempty"`
}

type Message struct {
	MessageID int64  `json:"message_id"`
	From      *User  `json:"from,omitempty"`
	Chat      Chat   `json:"chat"`
	Date      int64  `json:"date"`
	Text      string `json:"text"`
}

type User struct {
	ID        int64  `json:"id"`
	IsBot     bool   `json:"is_bot"`
	FirstName string `json:"first_name,omitempty"`
	Username  string `json:"username,omitempty"`
}

type Chat struct {
	ID   int64  `json:"id"`
	Type string `json:"type"`
}

func ParseUpdate(body []byte) (Update, error) {
	var update Update
	if err := json.Unmarshal(body, &update); err != nil {
		return Update{}, goerrors.Wrap(err, goerrors.CategoryBadInput, "telegram: decode update").
			WithCode(http.StatusBadRequest)
	}
	if update.UpdateID == 0 {
		return Update{}, telegramError("telegram: update_id is required", goerrors.CategoryBadInput, http.StatusBadRequest, nil)
	}
	return update, nil
}

// SenderID is the Telegram user id as the subscription store keys it.
func (u Update) SenderID() string {
	if u.Message == nil {
		return ""
	}
	if u.Message.From != nil && u.Message.From.ID != 0 {
		return strconv.FormatInt(u.Message.From.ID, 10)
	}
	return strconv.FormatInt(u.Message.Chat.ID, 10)
}

// Command splits a "/name@bot arg..." message. ok is false for plain text.
func (m *Message) Command() (name string, args []string, ok bool) {
	if m == nil {
		return "", nil, false
	}
	fields := strings.Fields(m.Text)
	if len(fields) == 0 || !strings.HasPrefix(fields[0], "/") {
		return "", nil, false
	}
	name = strings.TrimPrefix(fields[0], "/")
	if idx := strings.Index(name, "@"); idx >= 0 {
		name = name[:idx]
	}
	if name == "" {
		return "", nil, false
	}
	return strings.ToLower(name), fields[1:], true
}
