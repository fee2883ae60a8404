package telegram

import (
	"context"
	"fmt"
	"log/slog"
	"strconv"
	"sync"
	"time"

	"serena/app/config"

	"github.com/elliotchance/pie/v2"
	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
	"github.com/samber/do"
)

// MessageListener receives one inbound message. command is empty for plain
// text and holds the bare command name ("start") for command messages.
type MessageListener func(userID, command, text string, receivedAt time.Time)

type Client struct {
	cfg *config.Config
	bot *tgbotapi.BotAPI

	mutex    sync.RWMutex
	listener MessageListener
}

func NewClient(di *do.Injector) (*Client, error) {
	cfg := do.MustInvoke[*config.Config](di)

	bot, err := tgbotapi.NewBotAPI(cfg.Telegram.Token)
	if err != nil {
		return nil, fmt.Errorf("failed to create telegram bot: %w", err)
	}

	return &Client{
		cfg: cfg,
		bot: bot,
	}, nil
}

func (c *Client) SetListener(listener MessageListener) {
	c.mutex.Lock()
	defer c.mutex.Unlock()

	c.listener = listener
}

// Run polls for updates until the context is cancelled.
func (c *Client) Run(ctx context.Context) error {
	updateConfig := tgbotapi.NewUpdate(0)
	updateConfig.Timeout = 30

	updates := c.bot.GetUpdatesChan(updateConfig)

	slog.Info("Connected to Telegram", "username", c.bot.Self.UserName)

	for {
		select {
		case <-ctx.Done():
			c.bot.StopReceivingUpdates()
			return ctx.Err()
		case update, ok := <-updates:
			if !ok {
				return nil
			}

			if update.Message == nil || update.Message.Text == "" || update.Message.From == nil {
				continue
			}

			c.mutex.RLock()
			listener := c.listener
			c.mutex.RUnlock()

			if listener == nil {
				continue
			}

			var command string
			text := update.Message.Text
			if update.Message.IsCommand() {
				command = update.Message.Command()
				text = update.Message.CommandArguments()
			}

			userID := strconv.FormatInt(update.Message.From.ID, 10)
			listener(userID, command, text, update.Message.Time())
		}
	}
}

func (c *Client) Deliver(userID, text string) error {
	chatID, err := strconv.ParseInt(userID, 10, 64)
	if err != nil {
		return fmt.Errorf("invalid user id %q: %w", userID, err)
	}

	if c.cfg.Telegram.DisableDelivery {
		slog.Info("Delivered message (delivery disabled)", "user_id", userID, "text", text)
		return nil
	}

	if _, err = c.bot.Send(tgbotapi.NewMessage(chatID, text)); err != nil {
		return fmt.Errorf("failed to send telegram message: %w", err)
	}

	return nil
}

// DeliverPlans sends text with one checkout button per subscription plan.
func (c *Client) DeliverPlans(userID, text string, plans []config.Plan) error {
	chatID, err := strconv.ParseInt(userID, 10, 64)
	if err != nil {
		return fmt.Errorf("invalid user id %q: %w", userID, err)
	}

	if c.cfg.Telegram.DisableDelivery {
		slog.Info("Delivered plan list (delivery disabled)", "user_id", userID, "text", text)
		return nil
	}

	rows := pie.Map(plans, func(plan config.Plan) []tgbotapi.InlineKeyboardButton {
		return tgbotapi.NewInlineKeyboardRow(
			tgbotapi.NewInlineKeyboardButtonURL(plan.Title, plan.URL),
		)
	})

	msg := tgbotapi.NewMessage(chatID, text)
	if len(rows) > 0 {
		msg.ReplyMarkup = tgbotapi.NewInlineKeyboardMarkup(rows...)
	}

	if _, err = c.bot.Send(msg); err != nil {
		return fmt.Errorf("failed to send telegram message: %w", err)
	}

	return nil
}
