package dispatch

import (
	"context"
	"os"

	"github.com/bwmarrin/discordgo"
	"golang.org/x/time/rate"

	"relayd/internal/relay"
	logx "relayd/pkg/logx"
)

// DiscordConfig configures the Discord backend. The destination channel is
// fixed at process start; requests never choose a channel.
type DiscordConfig struct {
	Token      string
	ChannelID  string
	RatePerSec int
}

// DiscordBackend posts payloads to one Discord channel.
type DiscordBackend struct {
	session   *discordgo.Session
	channelID string
	limiter   *rate.Limiter
	log       logx.Logger
}

func NewDiscord(cfg DiscordConfig, log logx.Logger) (*DiscordBackend, error) {
	session, err := discordgo.New("Bot " + cfg.Token)
	if err != nil {
		return nil, err
	}
	if log.IsZero() {
		log = logx.Nop()
	}
	return &DiscordBackend{
		session:   session,
		channelID: cfg.ChannelID,
		limiter:   newLimiter(cfg.RatePerSec),
		log:       log,
	}, nil
}

// Start opens the gateway session. Message posts go over REST, but opening
// the gateway validates the token early and keeps presence consistent with
// how the bot account is expected to behave.
func (b *DiscordBackend) Start(ctx context.Context) error {
	_ = ctx
	return b.session.Open()
}

func (b *DiscordBackend) Stop() error { return b.session.Close() }

func (b *DiscordBackend) Kind() relay.BackendKind { return relay.BackendDiscord }

func (b *DiscordBackend) Send(ctx context.Context, p relay.Payload) error {
	if err := waitLimiter(ctx, b.limiter); err != nil {
		return transportErr(relay.BackendDiscord, "rate limit wait aborted", err)
	}

	if p.Attachment != nil {
		f, err := os.Open(p.Attachment.Path)
		if err != nil {
			return transportErr(relay.BackendDiscord, "attachment unreadable", err)
		}
		defer f.Close()
		_, err = b.session.ChannelFileSendWithMessage(b.channelID, p.Body, p.Attachment.Name, f)
		if err != nil {
			return transportErr(relay.BackendDiscord, "", err)
		}
		b.log.Debug("discord file posted", logx.String("file", p.Attachment.Name))
		return nil
	}

	if _, err := b.session.ChannelMessageSend(b.channelID, p.Body); err != nil {
		return transportErr(relay.BackendDiscord, "", err)
	}
	return nil
}
