package dispatch

import (
	"context"
	"os"
	"strconv"
	"time"

	"github.com/slack-go/slack"
	"golang.org/x/time/rate"

	"relayd/internal/relay"
	logx "relayd/pkg/logx"
)

// SlackConfig configures the Slack backend. Like Discord, the destination
// channel is fixed by configuration.
//
// UseNativeSchedule hands scheduled messages to Slack's own
// chat.scheduleMessage instead of the local scheduler, so delivery no
// longer depends on this process being alive at fire time.
type SlackConfig struct {
	Token             string
	ChannelID         string
	UseNativeSchedule bool
	RatePerSec        int
}

// SlackBackend posts payloads to one Slack channel.
type SlackBackend struct {
	client    *slack.Client
	channelID string
	native    bool
	limiter   *rate.Limiter
	log       logx.Logger
}

func NewSlack(cfg SlackConfig, log logx.Logger) *SlackBackend {
	if log.IsZero() {
		log = logx.Nop()
	}
	return &SlackBackend{
		client:    slack.New(cfg.Token),
		channelID: cfg.ChannelID,
		native:    cfg.UseNativeSchedule,
		limiter:   newLimiter(cfg.RatePerSec),
		log:       log,
	}
}

func (b *SlackBackend) Kind() relay.BackendKind { return relay.BackendSlack }

func (b *SlackBackend) Send(ctx context.Context, p relay.Payload) error {
	if err := waitLimiter(ctx, b.limiter); err != nil {
		return transportErr(relay.BackendSlack, "rate limit wait aborted", err)
	}

	if p.Attachment != nil {
		st, err := os.Stat(p.Attachment.Path)
		if err != nil {
			return transportErr(relay.BackendSlack, "attachment unreadable", err)
		}
		_, err = b.client.UploadFileContext(ctx, slack.UploadFileParameters{
			Channel:        b.channelID,
			File:           p.Attachment.Path,
			FileSize:       int(st.Size()),
			Filename:       p.Attachment.Name,
			InitialComment: p.Body,
		})
		if err != nil {
			return transportErr(relay.BackendSlack, "file upload failed", err)
		}
		b.log.Debug("slack file posted", logx.String("file", p.Attachment.Name))
		return nil
	}

	_, _, err := b.client.PostMessageContext(ctx, b.channelID, slack.MsgOptionText(p.Body, false))
	if err != nil {
		return transportErr(relay.BackendSlack, "", err)
	}
	return nil
}

// NativeScheduleEnabled reports whether scheduled posts should be deferred
// to Slack itself.
func (b *SlackBackend) NativeScheduleEnabled() bool { return b.native }

// ScheduleNative registers the message with chat.scheduleMessage. Slack
// fires it at the given instant; the local scheduler arms no timer.
func (b *SlackBackend) ScheduleNative(ctx context.Context, p relay.Payload, at time.Time) error {
	if err := waitLimiter(ctx, b.limiter); err != nil {
		return transportErr(relay.BackendSlack, "rate limit wait aborted", err)
	}
	postAt := strconv.FormatInt(at.Unix(), 10)
	_, _, err := b.client.ScheduleMessageContext(ctx, b.channelID, postAt, slack.MsgOptionText(p.Body, false))
	if err != nil {
		return transportErr(relay.BackendSlack, "schedule failed", err)
	}
	b.log.Info("message deferred to slack", logx.Time("post_at", at))
	return nil
}
