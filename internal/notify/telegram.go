package notify

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"

	apperrors "github.com/remoodle/one/internal/errors"
)

const telegramAPIBase = "https://api.telegram.org"

// TelegramSender delivers rendered messages through the Bot API. Every
// message carries a "Clear" button so users can collapse old notifications.
type TelegramSender struct {
	token   string
	baseURL string
	http    *http.Client
}

type TelegramOption func(*TelegramSender)

// WithTelegramBaseURL overrides the API host, used by tests.
func WithTelegramBaseURL(baseURL string) TelegramOption {
	return func(s *TelegramSender) { s.baseURL = baseURL }
}

func WithTelegramHTTPClient(hc *http.Client) TelegramOption {
	return func(s *TelegramSender) { s.http = hc }
}

func NewTelegramSender(token string, opts ...TelegramOption) *TelegramSender {
	s := &TelegramSender{
		token:   token,
		baseURL: telegramAPIBase,
		http:    &http.Client{},
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

type inlineButton struct {
	Text         string `json:"text"`
	CallbackData string `json:"callback_data"`
}

type sendMessageRequest struct {
	ChatID      int64  `json:"chat_id"`
	Text        string `json:"text"`
	ParseMode   string `json:"parse_mode"`
	ReplyMarkup struct {
		InlineKeyboard [][]inlineButton `json:"inline_keyboard"`
	} `json:"reply_markup"`
}

type sendMessageResponse struct {
	OK          bool   `json:"ok"`
	Description string `json:"description"`
}

// Send posts one HTML-formatted message to the chat.
func (s *TelegramSender) Send(ctx context.Context, chatID int64, text string) error {
	payload := sendMessageRequest{
		ChatID:    chatID,
		Text:      text,
		ParseMode: "HTML",
	}
	payload.ReplyMarkup.InlineKeyboard = [][]inlineButton{
		{{Text: "Clear", CallbackData: "remove_message"}},
	}

	body, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("marshal message: %w", err)
	}

	url := fmt.Sprintf("%s/bot%s/sendMessage", s.baseURL, s.token)
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := s.http.Do(req)
	if err != nil {
		return apperrors.Transport("telegram send failed", err)
	}
	defer resp.Body.Close()

	var result sendMessageResponse
	if err := json.NewDecoder(resp.Body).Decode(&result); err != nil {
		return apperrors.Transport("decode telegram response", err)
	}
	if !result.OK {
		return apperrors.Transport(fmt.Sprintf("telegram rejected message: %s", result.Description), nil)
	}

	return nil
}
