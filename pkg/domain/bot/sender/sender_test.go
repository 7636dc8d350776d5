package sender

import (
	"context"
	"errors"
	"testing"
	"time"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeBot struct {
	sendErrs []error
	sent     []tgbotapi.Chattable
	requests []tgbotapi.Chattable
	endpoint string
	params   tgbotapi.Params
}

func (f *fakeBot) Send(c tgbotapi.Chattable) (tgbotapi.Message, error) {
	f.sent = append(f.sent, c)
	if len(f.sendErrs) > 0 {
		err := f.sendErrs[0]
		f.sendErrs = f.sendErrs[1:]
		if err != nil {
			return tgbotapi.Message{}, err
		}
	}
	return tgbotapi.Message{MessageID: len(f.sent)}, nil
}

func (f *fakeBot) Request(c tgbotapi.Chattable) (*tgbotapi.APIResponse, error) {
	f.requests = append(f.requests, c)
	return &tgbotapi.APIResponse{Ok: true}, nil
}

func (f *fakeBot) MakeRequest(endpoint string, params tgbotapi.Params) (*tgbotapi.APIResponse, error) {
	f.endpoint, f.params = endpoint, params
	return &tgbotapi.APIResponse{Ok: true}, nil
}

func newProcessor(bot *fakeBot) *Processor {
	return New(ProcessorConfig{Attempts: 3, BaseDelay: time.Millisecond}, zerolog.Nop(), bot)
}

func TestSendRetriesTransientErrors(t *testing.T) {
	bot := &fakeBot{sendErrs: []error{errors.New("connection reset"), nil}}

	err := newProcessor(bot).Send(context.Background(), 10, "hi", nil)
	require.NoError(t, err)
	assert.Len(t, bot.sent, 2)
}

func TestSendGivesUpAfterAttempts(t *testing.T) {
	boom := errors.New("timeout")
	bot := &fakeBot{sendErrs: []error{boom, boom, boom, boom}}

	err := newProcessor(bot).Send(context.Background(), 10, "hi", nil)
	assert.ErrorIs(t, err, boom)
	assert.Len(t, bot.sent, 3)
}

func TestSendDoesNotRetryClientErrors(t *testing.T) {
	blocked := &tgbotapi.Error{Code: 403, Message: "Forbidden: bot was blocked by the user"}
	bot := &fakeBot{sendErrs: []error{blocked}}

	err := newProcessor(bot).Send(context.Background(), 10, "hi", nil)
	assert.Error(t, err)
	assert.Len(t, bot.sent, 1)
}

func TestSendAttachesMarkup(t *testing.T) {
	bot := &fakeBot{}
	markup := tgbotapi.NewInlineKeyboardMarkup(
		tgbotapi.NewInlineKeyboardRow(tgbotapi.NewInlineKeyboardButtonData("ok", "confirm_yes")),
	)

	require.NoError(t, newProcessor(bot).Send(context.Background(), 10, "hi", markup))
	require.Len(t, bot.sent, 1)
	msg, ok := bot.sent[0].(tgbotapi.MessageConfig)
	require.True(t, ok)
	assert.Equal(t, int64(10), msg.ChatID)
	assert.Equal(t, markup, msg.ReplyMarkup)
}

func TestSendHonoursContext(t *testing.T) {
	boom := errors.New("timeout")
	bot := &fakeBot{sendErrs: []error{boom, boom, boom}}
	p := New(ProcessorConfig{Attempts: 3, BaseDelay: time.Hour}, zerolog.Nop(), bot)

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	err := p.Send(ctx, 10, "hi", nil)
	assert.ErrorIs(t, err, context.DeadlineExceeded)
}

func TestSetWebhookPassesSecret(t *testing.T) {
	bot := &fakeBot{}
	require.NoError(t, newProcessor(bot).SetWebhook("https://bot.example.com/telegram/webhook", "s3cret"))
	assert.Equal(t, "setWebhook", bot.endpoint)
	assert.Equal(t, "s3cret", bot.params["secret_token"])
	assert.Equal(t, "https://bot.example.com/telegram/webhook", bot.params["url"])
}

func TestAnswerCallbackAndDeleteWebhook(t *testing.T) {
	bot := &fakeBot{}
	p := newProcessor(bot)

	require.NoError(t, p.AnswerCallback(context.Background(), "cb-1", ""))
	require.NoError(t, p.DeleteWebhook())
	require.Len(t, bot.requests, 2)
	assert.IsType(t, tgbotapi.CallbackConfig{}, bot.requests[0])
	assert.IsType(t, tgbotapi.DeleteWebhookConfig{}, bot.requests[1])
}
