// Package communication implements trigger handlers for inbound email
// and messaging events (whatsapp, linkedin, sms).
package communication

import (
	"log/slog"

	"github.com/cadenzahq/cadenza/pkg/models"
)

const (
	TypeEmailReceived   = "email_received"
	TypeMessageReceived = "message_received"
)

// Channel identifies the communication medium a message arrived on.
type Channel string

const (
	ChannelEmail    Channel = "email"
	ChannelWhatsApp Channel = "whatsapp"
	ChannelLinkedIn Channel = "linkedin"
	ChannelSMS      Channel = "sms"
)

// EmailHandler matches inbound email events, with account filtering,
// thread scoping, and sender allow-listing. Thread continuity uses the
// email thread_id and in_reply_to headers.
type EmailHandler struct {
	logger *slog.Logger
}

func NewEmailHandler(logger *slog.Logger) *EmailHandler {
	return &EmailHandler{logger: logger.With("module", "email_handler")}
}

func (h *EmailHandler) MatchesEvent(instance *models.TriggerInstance, event models.Event) bool {
	if event.EventType != models.EventEmailReceived {
		return false
	}

	message, _ := event.EventData["message"].(map[string]any)
	if message == nil {
		return false
	}

	if !accountAllowed(instance, "monitored_accounts", stringField(message, "account_id")) {
		return false
	}

	if !threadScoped(instance, stringField(message, "thread_id")) {
		return false
	}

	return senderAllowed(instance, stringField(message, "from"))
}

func (h *EmailHandler) ExtractData(instance *models.TriggerInstance, event models.Event) map[string]any {
	message, _ := event.EventData["message"].(map[string]any)

	threadID := stringField(message, "thread_id")
	inReplyTo := stringField(message, "in_reply_to")

	data := map[string]any{
		"channel":      string(ChannelEmail),
		"message_id":   stringField(message, "id"),
		"thread_id":    threadID,
		"sender":       stringField(message, "from"),
		"subject":      stringField(message, "subject"),
		"body":         stringField(message, "body"),
		"account_id":   stringField(message, "account_id"),
		"is_reply":     inReplyTo != "",
		"event_source": event.Source,
	}

	if inReplyTo != "" {
		data["parent_message_id"] = inReplyTo
	}

	return data
}

// MessageHandler matches inbound chat messages. Conversation
// continuity flags are computed per channel: WhatsApp uses
// chat_id+reply_to, LinkedIn uses thread_id+in_reply_to, and SMS has
// no native threading.
type MessageHandler struct {
	logger *slog.Logger
}

func NewMessageHandler(logger *slog.Logger) *MessageHandler {
	return &MessageHandler{logger: logger.With("module", "message_handler")}
}

func (h *MessageHandler) MatchesEvent(instance *models.TriggerInstance, event models.Event) bool {
	if event.EventType != models.EventMessageReceived {
		return false
	}

	message, _ := event.EventData["message"].(map[string]any)
	if message == nil {
		return false
	}

	channel := Channel(stringField(message, "channel"))

	if configured, ok := instance.Config["channel"].(string); ok && configured != "" {
		if Channel(configured) != channel {
			return false
		}
	}

	if !accountAllowed(instance, "monitored_numbers", stringField(message, "account_id")) {
		return false
	}

	if !threadScoped(instance, conversationID(channel, message)) {
		return false
	}

	return senderAllowed(instance, stringField(message, "sender"))
}

func (h *MessageHandler) ExtractData(instance *models.TriggerInstance, event models.Event) map[string]any {
	message, _ := event.EventData["message"].(map[string]any)
	channel := Channel(stringField(message, "channel"))

	data := map[string]any{
		"channel":      string(channel),
		"message_id":   stringField(message, "id"),
		"sender":       stringField(message, "sender"),
		"text":         stringField(message, "text"),
		"account_id":   stringField(message, "account_id"),
		"event_source": event.Source,
	}

	switch channel {
	case ChannelWhatsApp:
		data["chat_id"] = stringField(message, "chat_id")

		replyTo := stringField(message, "reply_to")
		data["is_reply"] = replyTo != ""

		if replyTo != "" {
			data["parent_message_id"] = replyTo
		}
	case ChannelLinkedIn:
		data["thread_id"] = stringField(message, "thread_id")

		inReplyTo := stringField(message, "in_reply_to")
		data["is_reply"] = inReplyTo != ""

		if inReplyTo != "" {
			data["parent_message_id"] = inReplyTo
		}
	default:
		// SMS and unknown channels have no native threading.
		data["is_reply"] = false
	}

	return data
}

// conversationID returns the channel's native conversation key, used
// for thread scoping.
func conversationID(channel Channel, message map[string]any) string {
	switch channel {
	case ChannelWhatsApp:
		return stringField(message, "chat_id")
	case ChannelLinkedIn:
		return stringField(message, "thread_id")
	default:
		return ""
	}
}

// accountAllowed checks the configured account/number allow-list under
// the given config key. Absent or empty lists allow every account.
func accountAllowed(instance *models.TriggerInstance, key, accountID string) bool {
	raw, ok := instance.Config[key].([]any)
	if !ok || len(raw) == 0 {
		return true
	}

	for _, entry := range raw {
		if id, ok := entry.(string); ok && id == accountID {
			return true
		}
	}

	return false
}

// threadScoped restricts matching to a single conversation when the
// trigger is configured with one.
func threadScoped(instance *models.TriggerInstance, threadID string) bool {
	configured, ok := instance.Config["thread_id"].(string)
	if !ok || configured == "" {
		return true
	}

	return configured == threadID
}

func senderAllowed(instance *models.TriggerInstance, sender string) bool {
	raw, ok := instance.Config["allowed_senders"].([]any)
	if !ok || len(raw) == 0 {
		return true
	}

	for _, entry := range raw {
		if s, ok := entry.(string); ok && s == sender {
			return true
		}
	}

	return false
}

func stringField(m map[string]any, key string) string {
	if m == nil {
		return ""
	}

	s, _ := m[key].(string)

	return s
}
