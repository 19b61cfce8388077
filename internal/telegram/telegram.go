// Package telegram adapts the Bot API client to the interfaces the
// moderation pipeline consumes: the enforcement transport, the chat
// membership oracle and the review card surface.
package telegram

import (
	"context"
	"fmt"
	"strings"
	"time"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
	"go.uber.org/zap"

	"github.com/ivanslavinskyi/ai-antiscam-bot/internal/enforce"
	"github.com/ivanslavinskyi/ai-antiscam-bot/internal/models"
)

// Review button callback prefixes. The record id travels in the callback
// payload so feedback survives restarts and out-of-order delivery.
const (
	callbackNotScam  = "as_not_scam"
	callbackMarkScam = "as_mark_scam"

	buttonNotScam  = "✅ Не скам"
	buttonMarkScam = "🚫 Точно скам"
)

// ParseFeedback decodes review button callback data into the admin's
// decision and the record it targets.
func ParseFeedback(data string) (models.HumanLabel, string, bool) {
	parts := strings.SplitN(data, ":", 2)
	if len(parts) != 2 || parts[1] == "" {
		return "", "", false
	}

	switch parts[0] {
	case callbackNotScam:
		return models.HumanLabelNotScam, parts[1], true
	case callbackMarkScam:
		return models.HumanLabelScam, parts[1], true
	default:
		return "", "", false
	}
}

type Client struct {
	api    *tgbotapi.BotAPI
	logger *zap.Logger
}

func NewClient(token string, logger *zap.Logger) (*Client, error) {
	api, err := tgbotapi.NewBotAPI(token)
	if err != nil {
		return nil, fmt.Errorf("failed to create Telegram bot API: %w", err)
	}

	logger.Info("Telegram bot authorized", zap.String("username", api.Self.UserName))

	return &Client{api: api, logger: logger}, nil
}

// UpdatesChan starts long polling and returns the update channel.
func (c *Client) UpdatesChan(timeout int) tgbotapi.UpdatesChannel {
	u := tgbotapi.NewUpdate(0)
	u.Timeout = timeout
	return c.api.GetUpdatesChan(u)
}

func (c *Client) StopReceivingUpdates() {
	c.api.StopReceivingUpdates()
}

func (c *Client) Self() tgbotapi.User {
	return c.api.Self
}

// mapError classifies Bot API failures the executor cares about.
func mapError(err error) error {
	if err == nil {
		return nil
	}

	msg := strings.ToLower(err.Error())
	switch {
	case strings.Contains(msg, "message to delete not found"):
		return fmt.Errorf("%w: %v", enforce.ErrMessageGone, err)
	case strings.Contains(msg, "not enough rights"),
		strings.Contains(msg, "need administrator rights"),
		strings.Contains(msg, "chat_admin_required"),
		strings.Contains(msg, "can't be deleted"),
		strings.Contains(msg, "can't remove chat owner"),
		strings.Contains(msg, "user is an administrator"):
		return fmt.Errorf("%w: %v", enforce.ErrPermissionDenied, err)
	}

	return err
}

func (c *Client) DeleteMessage(ctx context.Context, chatID int64, messageID int) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	_, err := c.api.Request(tgbotapi.NewDeleteMessage(chatID, messageID))
	return mapError(err)
}

func (c *Client) SendMessage(ctx context.Context, chatID int64, html string) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	msg := tgbotapi.NewMessage(chatID, html)
	msg.ParseMode = tgbotapi.ModeHTML
	msg.DisableWebPagePreview = true

	_, err := c.api.Send(msg)
	return mapError(err)
}

// Reply sends an HTML message quoting the given message.
func (c *Client) Reply(ctx context.Context, chatID int64, replyTo int, html string) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	msg := tgbotapi.NewMessage(chatID, html)
	msg.ParseMode = tgbotapi.ModeHTML
	msg.DisableWebPagePreview = true
	msg.ReplyToMessageID = replyTo

	_, err := c.api.Send(msg)
	return mapError(err)
}

func (c *Client) RestrictMember(ctx context.Context, chatID, userID int64, until time.Time) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	_, err := c.api.Request(tgbotapi.RestrictChatMemberConfig{
		ChatMemberConfig: tgbotapi.ChatMemberConfig{
			ChatID: chatID,
			UserID: userID,
		},
		UntilDate: until.Unix(),
		// Zero permissions: the member can do nothing until the
		// restriction expires.
		Permissions: &tgbotapi.ChatPermissions{},
	})
	return mapError(err)
}

func (c *Client) UnrestrictMember(ctx context.Context, chatID, userID int64) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	// All permissions true lifts the restriction entirely; Telegram caps
	// them at the chat defaults.
	_, err := c.api.Request(tgbotapi.RestrictChatMemberConfig{
		ChatMemberConfig: tgbotapi.ChatMemberConfig{
			ChatID: chatID,
			UserID: userID,
		},
		Permissions: &tgbotapi.ChatPermissions{
			CanSendMessages:       true,
			CanSendMediaMessages:  true,
			CanSendPolls:          true,
			CanSendOtherMessages:  true,
			CanAddWebPagePreviews: true,
			CanChangeInfo:         true,
			CanInviteUsers:        true,
			CanPinMessages:        true,
		},
	})
	return mapError(err)
}

func (c *Client) BanMember(ctx context.Context, chatID, userID int64) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	_, err := c.api.Request(tgbotapi.BanChatMemberConfig{
		ChatMemberConfig: tgbotapi.ChatMemberConfig{
			ChatID: chatID,
			UserID: userID,
		},
	})
	return mapError(err)
}

func (c *Client) UnbanMember(ctx context.Context, chatID, userID int64) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	_, err := c.api.Request(tgbotapi.UnbanChatMemberConfig{
		ChatMemberConfig: tgbotapi.ChatMemberConfig{
			ChatID: chatID,
			UserID: userID,
		},
		OnlyIfBanned: true,
	})
	return mapError(err)
}

func (c *Client) IsAdministrator(ctx context.Context, chatID, userID int64) (bool, error) {
	if err := ctx.Err(); err != nil {
		return false, err
	}

	admins, err := c.api.GetChatAdministrators(tgbotapi.ChatAdministratorsConfig{
		ChatConfig: tgbotapi.ChatConfig{ChatID: chatID},
	})
	if err != nil {
		return false, fmt.Errorf("failed to get chat administrators: %w", err)
	}

	for _, admin := range admins {
		if admin.User != nil && admin.User.ID == userID {
			return true, nil
		}
	}
	return false, nil
}

// MemberStatus returns the member's live status in the chat ("creator",
// "administrator", "member", ...).
func (c *Client) MemberStatus(ctx context.Context, chatID, userID int64) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}

	member, err := c.api.GetChatMember(tgbotapi.GetChatMemberConfig{
		ChatConfigWithUser: tgbotapi.ChatConfigWithUser{
			ChatID: chatID,
			UserID: userID,
		},
	})
	if err != nil {
		return "", fmt.Errorf("failed to get chat member: %w", err)
	}

	return member.Status, nil
}

// SendReviewCard posts an HTML card with the review buttons and returns
// the posted message id.
func (c *Client) SendReviewCard(ctx context.Context, chatID int64, html, recordID string) (int, error) {
	if err := ctx.Err(); err != nil {
		return 0, err
	}

	msg := tgbotapi.NewMessage(chatID, html)
	msg.ParseMode = tgbotapi.ModeHTML
	msg.DisableWebPagePreview = true
	msg.ReplyMarkup = tgbotapi.NewInlineKeyboardMarkup(
		tgbotapi.NewInlineKeyboardRow(
			tgbotapi.NewInlineKeyboardButtonData(buttonNotScam, callbackNotScam+":"+recordID),
			tgbotapi.NewInlineKeyboardButtonData(buttonMarkScam, callbackMarkScam+":"+recordID),
		),
	)

	sent, err := c.api.Send(msg)
	if err != nil {
		return 0, fmt.Errorf("failed to send review card: %w", err)
	}

	return sent.MessageID, nil
}

// EditCard replaces the card text. Leaving the reply markup unset drops
// the buttons from the edited message.
func (c *Client) EditCard(ctx context.Context, chatID int64, messageID int, html string) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	edit := tgbotapi.NewEditMessageText(chatID, messageID, html)
	edit.ParseMode = tgbotapi.ModeHTML

	_, err := c.api.Send(edit)
	return err
}

func (c *Client) AnswerCallback(ctx context.Context, callbackID, text string, showAlert bool) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	callback := tgbotapi.NewCallback(callbackID, text)
	if showAlert {
		callback = tgbotapi.NewCallbackWithAlert(callbackID, text)
	}

	_, err := c.api.Request(callback)
	return err
}
