package sender

import (
	"context"
	"errors"
	"math"
	"net/http"
	"time"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
	"github.com/rs/zerolog"

	"github.com/napryag/doctor_booking_bot/pkg/utils/errs"
)

// BotAPI is the part of *tgbotapi.BotAPI the processor uses.
type BotAPI interface {
	Send(c tgbotapi.Chattable) (tgbotapi.Message, error)
	Request(c tgbotapi.Chattable) (*tgbotapi.APIResponse, error)
	MakeRequest(endpoint string, params tgbotapi.Params) (*tgbotapi.APIResponse, error)
}

type Processor struct {
	config ProcessorConfig
	logger zerolog.Logger

	bot BotAPI
}

func New(config ProcessorConfig, logger zerolog.Logger, bot BotAPI) *Processor {
	return &Processor{
		config: config.withDefaults(),
		logger: logger.With().Str("component", "sender").Logger(),
		bot:    bot,
	}
}

// Send delivers text to chatID with an optional keyboard. Transient failures
// are retried with exponential backoff.
func (p *Processor) Send(ctx context.Context, chatID int64, text string, markup any) error {
	p.logger.Trace().Msg("In")
	defer p.logger.Trace().Msg("Out")

	msgToSend := tgbotapi.NewMessage(chatID, text)
	if markup != nil {
		msgToSend.ReplyMarkup = markup
	}

	var err error
	for i := 0; i < p.config.Attempts; i++ {
		if _, err = p.bot.Send(msgToSend); err == nil {
			return nil
		}
		if !retryable(err) {
			break
		}
		if i == p.config.Attempts-1 {
			break
		}
		p.logger.Warn().Err(err).Int64("chat_id", chatID).Int("retry", i+1).Msg("send failed, retrying")

		select {
		case <-ctx.Done():
			return errs.New("send cancelled").Arg("chat_id", chatID).Wrap(ctx.Err())
		case <-time.After(p.delay(i, err)):
		}
	}
	p.logger.Error().Err(err).Int64("chat_id", chatID).Msg("send permanently failed")

	return errs.New("failed to send message").Arg("chat_id", chatID).Wrap(err)
}

// AnswerCallback stops the client's loading indicator, optionally with a toast.
func (p *Processor) AnswerCallback(_ context.Context, callbackID, text string) error {
	if _, err := p.bot.Request(tgbotapi.NewCallback(callbackID, text)); err != nil {
		return errs.New("failed to answer callback").Arg("callback_id", callbackID).Wrap(err)
	}
	return nil
}

// SetWebhook registers url; Telegram echoes secret in the
// X-Telegram-Bot-Api-Secret-Token header of every delivery.
func (p *Processor) SetWebhook(url, secret string) error {
	params := tgbotapi.Params{"url": url}
	if secret != "" {
		params["secret_token"] = secret
	}
	if _, err := p.bot.MakeRequest("setWebhook", params); err != nil {
		return errs.New("failed to set webhook").Arg("url", url).Wrap(err)
	}
	return nil
}

func (p *Processor) DeleteWebhook() error {
	if _, err := p.bot.Request(tgbotapi.DeleteWebhookConfig{}); err != nil {
		return errs.New("failed to delete webhook").Wrap(err)
	}
	return nil
}

func (p *Processor) delay(attempt int, err error) time.Duration {
	var apiErr *tgbotapi.Error
	if errors.As(err, &apiErr) && apiErr.RetryAfter > 0 {
		return time.Duration(apiErr.RetryAfter) * time.Second
	}
	return time.Duration(math.Pow(2, float64(attempt))) * p.config.BaseDelay
}

// retryable is false for client errors such as a user who blocked the bot,
// except for flood control.
func retryable(err error) bool {
	var apiErr *tgbotapi.Error
	if !errors.As(err, &apiErr) {
		return true
	}
	return apiErr.Code == http.StatusTooManyRequests || apiErr.Code >= http.StatusInternalServerError
}
