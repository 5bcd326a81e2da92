package gateway

import (
	"context"

	"github.com/bwmarrin/discordgo"
	"github.com/rahul/cortex/internal/agent"
	"github.com/rahul/cortex/internal/observability"
	"go.uber.org/zap"
)

const discordLimit = 2000

// DiscordGateway answers direct and guild messages. The native chat ID is
// the Discord channel ID.
type DiscordGateway struct {
	session *discordgo.Session
	brain   agent.Brain
	logger  *observability.Logger
	send    func(channelID, content string) error
}

func NewDiscordGateway(token string, brain agent.Brain, logger *observability.Logger) (*DiscordGateway, error) {
	session, err := discordgo.New("Bot " + token)
	if err != nil {
		return nil, err
	}
	session.Identify.Intents = discordgo.IntentsGuildMessages | discordgo.IntentsDirectMessages | discordgo.IntentMessageContent
	if logger == nil {
		logger = observability.NewNopLogger()
	}

	dg := &DiscordGateway{session: session, brain: brain, logger: logger}
	dg.send = func(channelID, content string) error {
		_, err := session.ChannelMessageSend(channelID, content)
		return err
	}
	return dg, nil
}

func (dg *DiscordGateway) Name() string {
	return "discord"
}

func (dg *DiscordGateway) Start(ctx context.Context) error {
	remove := dg.session.AddHandler(func(s *discordgo.Session, m *discordgo.MessageCreate) {
		selfID := ""
		if s.State != nil && s.State.User != nil {
			selfID = s.State.User.ID
		}
		dg.handle(ctx, selfID, m)
	})
	defer remove()

	if err := dg.session.Open(); err != nil {
		return err
	}
	dg.logger.Info("discord connected")

	<-ctx.Done()
	return ctx.Err()
}

func (dg *DiscordGateway) handle(ctx context.Context, selfID string, m *discordgo.MessageCreate) {
	if m.Author == nil || m.Author.ID == selfID || m.Author.Bot || m.Content == "" {
		return
	}
	dg.logger.Info("discord message", zap.String("channel_id", m.ChannelID), zap.String("user", m.Author.Username))

	response := reply(ctx, dg.brain, dg.logger, ChatID(dg.Name(), m.ChannelID), m.Content)
	if err := dg.Send(ctx, m.ChannelID, response); err != nil {
		dg.logger.Error("discord send failed", zap.String("channel_id", m.ChannelID), zap.Error(err))
	}
}

func (dg *DiscordGateway) Send(ctx context.Context, nativeID string, text string) error {
	for _, part := range chunk(text, discordLimit) {
		if err := retrySend(ctx, func() error { return dg.send(nativeID, part) }); err != nil {
			return err
		}
	}
	return nil
}

func (dg *DiscordGateway) Stop() error {
	if dg.session == nil {
		return nil
	}
	return dg.session.Close()
}
