package gateway

import (
	"context"
	"fmt"
	"strconv"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
	"github.com/rahul/cortex/internal/agent"
	"github.com/rahul/cortex/internal/observability"
	"go.uber.org/zap"
)

const telegramLimit = 4096

// telegramAPI is the part of *tgbotapi.BotAPI the gateway uses.
type telegramAPI interface {
	Send(c tgbotapi.Chattable) (tgbotapi.Message, error)
	GetUpdatesChan(config tgbotapi.UpdateConfig) tgbotapi.UpdatesChannel
	StopReceivingUpdates()
}

type TelegramGateway struct {
	bot    telegramAPI
	brain  agent.Brain
	logger *observability.Logger
}

func NewTelegramGateway(token string, brain agent.Brain, logger *observability.Logger) (*TelegramGateway, error) {
	bot, err := tgbotapi.NewBotAPI(token)
	if err != nil {
		return nil, err
	}
	if logger == nil {
		logger = observability.NewNopLogger()
	}
	logger.Info("telegram authorized", zap.String("account", bot.Self.UserName))

	return &TelegramGateway{bot: bot, brain: brain, logger: logger}, nil
}

func (tg *TelegramGateway) Name() string {
	return "telegram"
}

func (tg *TelegramGateway) Start(ctx context.Context) error {
	u := tgbotapi.NewUpdate(0)
	u.Timeout = 60

	updates := tg.bot.GetUpdatesChan(u)
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case update, ok := <-updates:
			if !ok {
				return nil
			}
			tg.handle(ctx, update)
		}
	}
}

func (tg *TelegramGateway) handle(ctx context.Context, update tgbotapi.Update) {
	if update.Message == nil || update.Message.Text == "" {
		return
	}
	msg := update.Message
	nativeID := strconv.FormatInt(msg.Chat.ID, 10)

	var user string
	if msg.From != nil {
		user = msg.From.UserName
	}
	tg.logger.Info("telegram message", zap.String("chat_id", nativeID), zap.String("user", user))

	response := reply(ctx, tg.brain, tg.logger, ChatID(tg.Name(), nativeID), msg.Text)
	if err := tg.Send(ctx, nativeID, response); err != nil {
		tg.logger.Error("telegram send failed", zap.String("chat_id", nativeID), zap.Error(err))
	}
}

func (tg *TelegramGateway) Send(ctx context.Context, nativeID string, text string) error {
	id, err := strconv.ParseInt(nativeID, 10, 64)
	if err != nil || id == 0 {
		return fmt.Errorf("invalid telegram chat ID: %s", nativeID)
	}

	for _, part := range chunk(text, telegramLimit) {
		msg := tgbotapi.NewMessage(id, part)
		if err := retrySend(ctx, func() error {
			_, err := tg.bot.Send(msg)
			return err
		}); err != nil {
			return err
		}
	}
	return nil
}

func (tg *TelegramGateway) Stop() error {
	tg.bot.StopReceivingUpdates()
	return nil
}
