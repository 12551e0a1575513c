package chat

import (
	"context"
	"encoding/json"
	"log"
	"strconv"
	"strings"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"

	"silexa/triagebot/internal/errs"
	"silexa/triagebot/internal/eventlog"
	"silexa/triagebot/internal/redact"
)

// TelegramProvider adapts go-telegram-bot-api to the Provider interface.
// The polling loop, per-message logging, and reply shape are grounded on
// agents/telegram-bot/main.go's notifier.pollUpdates/sendOrEdit; reactions
// have no typed wrapper in the vendored client, so AddReaction/RemoveReaction
// fall back to bot.MakeRequest with a hand-built params map.
type TelegramProvider struct {
	bot      *tgbotapi.BotAPI
	logger   *log.Logger
	events   eventlog.Logger
	redactor *redact.Redactor

	out chan Message
}

// NewTelegramProvider constructs a provider from a bot token.
func NewTelegramProvider(token string, logger *log.Logger, events eventlog.Logger, redactor *redact.Redactor) (*TelegramProvider, error) {
	bot, err := tgbotapi.NewBotAPI(token)
	if err != nil {
		return nil, errs.Wrap(errs.KindAuthentication, "telegram bot init failed", err)
	}
	bot.Debug = false
	if logger == nil {
		logger = log.New(log.Writer(), "chat:telegram ", log.LstdFlags|log.LUTC)
	}
	if events == nil {
		events = eventlog.NopLogger{}
	}
	return &TelegramProvider{bot: bot, logger: logger, events: events, redactor: redactor}, nil
}

func (p *TelegramProvider) logEvent(event string, fields map[string]any) {
	rec := map[string]any{"event": event, "provider": "telegram"}
	for k, v := range fields {
		if s, ok := v.(string); ok && p.redactor != nil {
			v = p.redactor.MustRedact(s)
		}
		rec[k] = v
	}
	p.events.Log(rec)
}

// Connect starts the long-polling loop and returns the inbound channel.
// The provider owns reconnection: GetUpdatesChan retries transparently.
func (p *TelegramProvider) Connect(ctx context.Context) (<-chan Message, error) {
	u := tgbotapi.NewUpdate(0)
	u.Timeout = 60
	updates := p.bot.GetUpdatesChan(u)
	p.out = make(chan Message, 64)

	go func() {
		defer close(p.out)
		for {
			select {
			case <-ctx.Done():
				p.bot.StopReceivingUpdates()
				return
			case update, ok := <-updates:
				if !ok {
					return
				}
				if update.Message == nil {
					continue
				}
				msg := toMessage(update.Message)
				p.logEvent("message_received", map[string]any{
					"channel_id": msg.ChannelID,
					"message_id": msg.MessageID,
					"text":       msg.Text,
				})
				select {
				case p.out <- msg:
				case <-ctx.Done():
					return
				}
			}
		}
	}()
	return p.out, nil
}

func toMessage(m *tgbotapi.Message) Message {
	userID, userName := "", "unknown"
	if m.From != nil {
		userID = strconv.FormatInt(m.From.ID, 10)
		if strings.TrimSpace(m.From.UserName) != "" {
			userName = m.From.UserName
		} else if strings.TrimSpace(m.From.FirstName) != "" {
			userName = m.From.FirstName
		}
	}
	threadID := ""
	if m.MessageThreadID != 0 {
		threadID = strconv.Itoa(m.MessageThreadID)
	}
	return Message{
		ChannelID: strconv.FormatInt(m.Chat.ID, 10),
		MessageID: strconv.Itoa(m.MessageID),
		ThreadID:  threadID,
		UserID:    userID,
		UserName:  userName,
		Text:      m.Text,
		Raw:       m,
	}
}

// Disconnect stops the receiving loop.
func (p *TelegramProvider) Disconnect(ctx context.Context) error {
	p.bot.StopReceivingUpdates()
	return nil
}

// SendReply sends text into channelID, threaded if threadID is non-empty.
func (p *TelegramProvider) SendReply(ctx context.Context, channelID, text, threadID string) error {
	chatID, err := strconv.ParseInt(channelID, 10, 64)
	if err != nil {
		return errs.Wrap(errs.KindInvalidInput, "invalid telegram channel id", err)
	}
	cfg := tgbotapi.NewMessage(chatID, text)
	if threadID != "" {
		if tid, err := strconv.Atoi(threadID); err == nil {
			cfg.MessageThreadID = tid
		}
	}
	_, err = p.bot.Send(cfg)
	if err != nil {
		return errs.Wrap(errs.KindNetworkError, "telegram send failed", err)
	}
	p.logEvent("reply_sent", map[string]any{"channel_id": channelID, "thread_id": threadID})
	return nil
}

// reactionType is a single entry of setMessageReaction's "reaction" array.
type reactionType struct {
	Type  string `json:"type"`
	Emoji string `json:"emoji"`
}

// setReaction calls setMessageReaction directly through bot.MakeRequest,
// the same low-level escape hatch reached for when a Bot API method has
// no typed wrapper in the client library
// (Bot API 7.0's message reactions postdate the vendored v5 client).
func (p *TelegramProvider) setReaction(ctx context.Context, channelID, messageID, emoji string) error {
	chatID, err := strconv.ParseInt(channelID, 10, 64)
	if err != nil {
		return errs.Wrap(errs.KindInvalidInput, "invalid telegram channel id", err)
	}
	msgID, err := strconv.Atoi(messageID)
	if err != nil {
		return errs.Wrap(errs.KindInvalidInput, "invalid telegram message id", err)
	}

	params := make(tgbotapi.Params)
	params.AddNonZero64("chat_id", chatID)
	params.AddNonZero("message_id", msgID)
	if emoji != "" {
		b, err := json.Marshal([]reactionType{{Type: "emoji", Emoji: emoji}})
		if err != nil {
			return errs.Wrap(errs.KindInvalidInput, "failed to encode reaction payload", err)
		}
		params["reaction"] = string(b)
	}

	if _, err := p.bot.MakeRequest("setMessageReaction", params); err != nil {
		return errs.Wrap(errs.KindNetworkError, "telegram reaction failed", err)
	}
	return nil
}

// AddReaction sets name as the message's reaction (Telegram allows one
// emoji reaction per bot per message; adding replaces any prior one).
func (p *TelegramProvider) AddReaction(ctx context.Context, channelID, messageID, name string) error {
	if err := p.setReaction(ctx, channelID, messageID, name); err != nil {
		return err
	}
	p.logEvent("reaction_added", map[string]any{"channel_id": channelID, "message_id": messageID, "reaction": name})
	return nil
}

// RemoveReaction clears any reaction the bot set on the message.
func (p *TelegramProvider) RemoveReaction(ctx context.Context, channelID, messageID, name string) error {
	if err := p.setReaction(ctx, channelID, messageID, ""); err != nil {
		return err
	}
	p.logEvent("reaction_removed", map[string]any{"channel_id": channelID, "message_id": messageID})
	return nil
}
