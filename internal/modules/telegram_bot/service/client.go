package service

import (
	"context"
	"fmt"
	"strings"
	"sync"

	"ladder_bot/internal/models"
	"ladder_bot/internal/modules/config"
	"ladder_bot/internal/notify"

	tgbot "github.com/go-telegram-bot-api/telegram-bot-api/v5"
	"github.com/pkg/errors"
	"go.uber.org/zap"
)

// botAPI is the part of *tgbot.BotAPI the service uses.
type botAPI interface {
	Send(c tgbot.Chattable) (tgbot.Message, error)
	GetUpdatesChan(config tgbot.UpdateConfig) tgbot.UpdatesChannel
	StopReceivingUpdates()
}

// Telegram sends keeper notifications to per-account chats and answers the
// operator commands from the admin chat.
type Telegram struct {
	bot       botAPI
	chats     map[models.Account]int64
	adminChat int64
	log       *zap.Logger

	mu       sync.Mutex
	commands Commands
}

var _ notify.Notifier = (*Telegram)(nil)

func NewTelegram(cfg *config.Config, log *zap.Logger) (*Telegram, error) {
	b, err := tgbot.NewBotAPI(cfg.Telegram.Token)
	if err != nil {
		return nil, errors.Wrap(err, "telegram bot")
	}
	return newTelegram(b, cfg.Telegram, log), nil
}

func newTelegram(b botAPI, cfg config.Telegram, log *zap.Logger) *Telegram {
	chats := make(map[models.Account]int64, len(cfg.Chats))
	for name, id := range cfg.Chats {
		acc := models.Account(strings.ToLower(name))
		if acc.Valid() && id != 0 {
			chats[acc] = id
		}
	}
	return &Telegram{
		bot:       b,
		chats:     chats,
		adminChat: cfg.AdminChat,
		log:       log.Named("telegram"),
	}
}

// chatFor returns the chat of account, falling back to the admin chat.
func (t *Telegram) chatFor(account models.Account) int64 {
	if id, ok := t.chats[account]; ok {
		return id
	}
	return t.adminChat
}

func (t *Telegram) Notify(_ context.Context, account models.Account, msg string) error {
	chatID := t.chatFor(account)
	if chatID == 0 {
		return errors.Errorf("no chat for account %q", account)
	}
	_, err := t.Send(chatID, fmt.Sprintf("[%s] %s", account, msg))
	return err
}

func (t *Telegram) Send(chatID int64, msg string) (tgbot.Message, error) {
	return t.bot.Send(tgbot.NewMessage(chatID, msg))
}

// Start reads updates until ctx is done or Stop is called.
func (t *Telegram) Start(ctx context.Context, commands Commands) {
	t.mu.Lock()
	t.commands = commands
	t.mu.Unlock()

	u := tgbot.NewUpdate(0)
	u.Timeout = 30
	updates := t.bot.GetUpdatesChan(u)
	for {
		select {
		case <-ctx.Done():
			return
		case update, ok := <-updates:
			if !ok {
				return
			}
			t.handleUpdate(ctx, update)
		}
	}
}

func (t *Telegram) Stop() {
	t.bot.StopReceivingUpdates()
}
