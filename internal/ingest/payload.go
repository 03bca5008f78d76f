// ABOUTME: Webhook payload types in the WhatsApp Cloud API shape
// ABOUTME: Entries carry changes whose values hold messages, statuses and template events

package ingest

import (
	"encoding/json"
	"fmt"
	"strconv"
	"time"
)

// Change fields the pipeline understands.
const (
	FieldMessages       = "messages"
	FieldTemplateStatus = "message_template_status_update"
)

// DefaultObjectType is the object value sent by WhatsApp Business webhooks.
const DefaultObjectType = "whatsapp_business_account"

// Payload is one webhook delivery.
type Payload struct {
	Object string  `json:"object"`
	Entry  []Entry `json:"entry"`
}

// Entry groups the changes for one business account.
type Entry struct {
	ID      string   `json:"id"`
	Changes []Change `json:"changes"`
}

// Change is one event notification inside an entry.
type Change struct {
	Field string `json:"field"`
	Value Value  `json:"value"`
}

// Value is the body of a change. Which fields are set depends on Change.Field.
type Value struct {
	MessagingProduct string           `json:"messaging_product,omitempty"`
	Metadata         Metadata         `json:"metadata"`
	Contacts         []Contact        `json:"contacts,omitempty"`
	Messages         []InboundMessage `json:"messages,omitempty"`
	Statuses         []Status         `json:"statuses,omitempty"`

	// message_template_status_update
	Event               string      `json:"event,omitempty"`
	MessageTemplateID   json.Number `json:"message_template_id,omitempty"`
	MessageTemplateName string      `json:"message_template_name,omitempty"`
	Reason              string      `json:"reason,omitempty"`
}

// Metadata identifies the receiving channel.
type Metadata struct {
	DisplayPhoneNumber string `json:"display_phone_number"`
	PhoneNumberID      string `json:"phone_number_id"`
}

// Contact is the sender profile attached to a messages change.
type Contact struct {
	WaID    string `json:"wa_id"`
	Profile struct {
		Name string `json:"name"`
	} `json:"profile"`
}

// InboundMessage is a single provider message. Type selects which payload field is set.
type InboundMessage struct {
	ID        string `json:"id"`
	From      string `json:"from"`
	Timestamp string `json:"timestamp"`
	Type      string `json:"type"`

	Text        *Text         `json:"text,omitempty"`
	Image       *Media        `json:"image,omitempty"`
	Video       *Media        `json:"video,omitempty"`
	Audio       *Media        `json:"audio,omitempty"`
	Document    *Media        `json:"document,omitempty"`
	Location    *Location     `json:"location,omitempty"`
	Contacts    []ContactCard `json:"contacts,omitempty"`
	Interactive *Interactive  `json:"interactive,omitempty"`
	Button      *Button       `json:"button,omitempty"`
	Reaction    *Reaction     `json:"reaction,omitempty"`
}

// Text is a plain text message body.
type Text struct {
	Body string `json:"body"`
}

// Media is an image, video, audio or document attachment.
type Media struct {
	ID       string `json:"id,omitempty"`
	MimeType string `json:"mime_type,omitempty"`
	Caption  string `json:"caption,omitempty"`
	Filename string `json:"filename,omitempty"`
}

// Location is a shared map pin.
type Location struct {
	Latitude  float64 `json:"latitude"`
	Longitude float64 `json:"longitude"`
	Name      string  `json:"name,omitempty"`
	Address   string  `json:"address,omitempty"`
}

// ContactCard is a shared contact.
type ContactCard struct {
	Name struct {
		FormattedName string `json:"formatted_name"`
		FirstName     string `json:"first_name,omitempty"`
	} `json:"name"`
	Phones []ContactPhone `json:"phones,omitempty"`
}

// ContactPhone is one number on a shared contact.
type ContactPhone struct {
	Phone string `json:"phone"`
	WaID  string `json:"wa_id,omitempty"`
}

// Interactive is a reply to a button or list message.
type Interactive struct {
	Type        string       `json:"type"`
	ButtonReply *ReplyOption `json:"button_reply,omitempty"`
	ListReply   *ReplyOption `json:"list_reply,omitempty"`
}

// ReplyOption is the option the user picked.
type ReplyOption struct {
	ID          string `json:"id"`
	Title       string `json:"title"`
	Description string `json:"description,omitempty"`
}

// Button is a quick-reply button press on a template.
type Button struct {
	Text    string `json:"text"`
	Payload string `json:"payload,omitempty"`
}

// Reaction is an emoji reaction to an earlier message.
type Reaction struct {
	MessageID string `json:"message_id"`
	Emoji     string `json:"emoji"`
}

// Status is a delivery status update for an outbound message.
type Status struct {
	ID          string `json:"id"`
	Status      string `json:"status"`
	Timestamp   string `json:"timestamp"`
	RecipientID string `json:"recipient_id"`
}

// DecodePayload parses a raw webhook body.
func DecodePayload(raw []byte) (*Payload, error) {
	var p Payload
	if err := json.Unmarshal(raw, &p); err != nil {
		return nil, fmt.Errorf("decoding webhook payload: %w", err)
	}
	return &p, nil
}

// parseTimestamp reads a unix seconds string. Zero is returned when it is absent or malformed.
func parseTimestamp(s string) time.Time {
	secs, err := strconv.ParseInt(s, 10, 64)
	if err != nil || secs <= 0 {
		return time.Time{}
	}
	return time.Unix(secs, 0).UTC()
}
