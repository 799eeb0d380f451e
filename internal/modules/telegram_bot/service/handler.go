package service

import (
	"context"
	"fmt"
	"time"

	keeper "ladder_bot/internal/modules/keeper/service"
	"ladder_bot/internal/recovery"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
	"go.uber.org/zap"
)

// Commands is what the chat commands drive.
type Commands interface {
	Reload(ctx context.Context) (int, error)
	Recover(ctx context.Context) (recovery.Report, error)
	Status() keeper.Status
}

const helpText = "Commands:\n" +
	"/status: monitors and scheduler state\n" +
	"/reload: merge the saved snapshot into memory\n" +
	"/recover: rebuild monitors missing for live positions"

func (t *Telegram) handleUpdate(ctx context.Context, update tgbotapi.Update) {
	msg := update.Message
	if msg == nil || msg.Chat == nil || !msg.IsCommand() {
		return
	}
	chatID := msg.Chat.ID
	if t.adminChat == 0 || chatID != t.adminChat {
		t.log.Warn("command from unknown chat ignored", zap.Int64("chat", chatID), zap.String("command", msg.Command()))
		return
	}

	t.mu.Lock()
	cmds := t.commands
	t.mu.Unlock()
	if cmds == nil {
		return
	}

	var reply string
	switch msg.Command() {
	case "status":
		reply = cmds.Status().Text(time.Now())
	case "reload":
		added, err := cmds.Reload(ctx)
		if err != nil {
			reply = "⚠️ Reload failed: " + err.Error()
		} else {
			reply = fmt.Sprintf("✅ Reloaded, %d monitors added", added)
		}
	case "recover":
		rep, err := cmds.Recover(ctx)
		reply = keeper.ReportText(rep)
		if err != nil {
			reply += "\n⚠️ " + err.Error()
		}
	case "start", "help":
		reply = helpText
	default:
		reply = "Unknown command.\n" + helpText
	}

	if _, err := t.Send(chatID, reply); err != nil {
		t.log.Warn("reply failed", zap.Error(err))
	}
}
