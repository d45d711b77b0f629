package notify

import (
	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
)

//TelegramSender delivers notifications through the Telegram bot API
type TelegramSender struct {
	bot *tgbotapi.BotAPI
}

//NewTelegramSender authorizes the bot with the given token
func NewTelegramSender(token string) (*TelegramSender, error) {
	bot, err := tgbotapi.NewBotAPI(token)
	if err != nil {
		return nil, err
	}
	return &TelegramSender{bot: bot}, nil
}

//Send delivers one message. Markdown parse mode covers the lightweight markup
//subset used in notifications (bold status, code-fenced tables).
func (t *TelegramSender) Send(chatID int64, text string) error {
	msg := tgbotapi.NewMessage(chatID, text)
	msg.ParseMode = tgbotapi.ModeMarkdown
	_, err := t.bot.Send(msg)
	return err
}
