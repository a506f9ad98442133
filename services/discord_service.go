package services

import (
	"fmt"
	"time"

	"github.com/bwmarrin/discordgo"
	"go.uber.org/zap"
)

// Notifier delivers operator-facing messages about the monitor itself.
type Notifier interface {
	NotifyCycleFailures(consecutive int, lastErr error)
}

// DiscordNotifier posts monitor alerts to a Discord channel.
type DiscordNotifier struct {
	session   *discordgo.Session
	channelID string
	enabled   bool
	logger    *zap.Logger
}

// NewDiscordNotifier returns a disabled notifier when token or channel is missing.
func NewDiscordNotifier(token, channelID string, logger *zap.Logger) (*DiscordNotifier, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	if token == "" || channelID == "" {
		logger.Info("Discord token or channel not provided, Discord notifications disabled")
		return &DiscordNotifier{logger: logger}, nil
	}

	session, err := discordgo.New("Bot " + token)
	if err != nil {
		return nil, fmt.Errorf("failed to create Discord session: %w", err)
	}

	user, err := session.User("@me")
	if err != nil {
		return nil, fmt.Errorf("failed to get bot user: %w", err)
	}

	logger.Info("Discord notifier ready", zap.String("bot_id", user.ID), zap.String("channel", channelID))

	return &DiscordNotifier{
		session:   session,
		channelID: channelID,
		enabled:   true,
		logger:    logger,
	}, nil
}

func (d *DiscordNotifier) Close() {
	if d != nil && d.enabled && d.session != nil {
		d.session.Close()
	}
}

func (d *DiscordNotifier) NotifyCycleFailures(consecutive int, lastErr error) {
	if d == nil || !d.enabled {
		return
	}

	embed := &discordgo.MessageEmbed{
		Title:       "Node monitor cycle failing",
		Description: fmt.Sprintf("%d consecutive cycles failed and were restarted.", consecutive),
		Color:       0xE74C3C,
		Timestamp:   time.Now().UTC().Format(time.RFC3339),
		Fields: []*discordgo.MessageEmbedField{
			{Name: "Last error", Value: truncate(fmt.Sprint(lastErr), 1000)},
		},
	}

	if _, err := d.session.ChannelMessageSendEmbed(d.channelID, embed); err != nil {
		d.logger.Warn("failed to send Discord message", zap.Error(err))
	}
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n-3] + "..."
}
