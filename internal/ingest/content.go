// ABOUTME: Maps each inbound message kind to the single text the conversation engine sees
// ABOUTME: Media become bracketed markers; unknown kinds become an unsupported marker

package ingest

import (
	"fmt"
	"strconv"
	"strings"
)

// Content returns the normalized conversational text for a message.
func Content(m *InboundMessage) string {
	switch m.Type {
	case "text":
		if m.Text != nil {
			return strings.TrimSpace(m.Text.Body)
		}
	case "image":
		return captionOr(m.Image, "[IMAGE]")
	case "video":
		return captionOr(m.Video, "[VIDEO]")
	case "audio":
		return "[AUDIO]"
	case "document":
		if m.Document != nil && strings.TrimSpace(m.Document.Filename) != "" {
			return fmt.Sprintf("[DOCUMENT: %s]", strings.TrimSpace(m.Document.Filename))
		}
		return "[DOCUMENT]"
	case "location":
		if m.Location != nil {
			return fmt.Sprintf("[LOCATION: %s, %s]",
				strconv.FormatFloat(m.Location.Latitude, 'f', -1, 64),
				strconv.FormatFloat(m.Location.Longitude, 'f', -1, 64))
		}
	case "contacts":
		if len(m.Contacts) > 0 {
			return contactMarker(m.Contacts[0])
		}
	case "interactive":
		if m.Interactive != nil {
			if r := m.Interactive.ButtonReply; r != nil {
				return strings.TrimSpace(r.Title)
			}
			if r := m.Interactive.ListReply; r != nil {
				return strings.TrimSpace(r.Title)
			}
		}
	case "button":
		if m.Button != nil {
			return strings.TrimSpace(m.Button.Text)
		}
	}
	return unsupported(m.Type)
}

func captionOr(media *Media, marker string) string {
	if media != nil {
		if c := strings.TrimSpace(media.Caption); c != "" {
			return c
		}
	}
	return marker
}

func contactMarker(c ContactCard) string {
	name := strings.TrimSpace(c.Name.FormattedName)
	if name == "" {
		name = strings.TrimSpace(c.Name.FirstName)
	}
	var phone string
	if len(c.Phones) > 0 {
		phone = strings.TrimSpace(c.Phones[0].Phone)
	}
	return "[CONTACT: " + strings.TrimSpace(name+" "+phone) + "]"
}

func unsupported(kind string) string {
	kind = strings.TrimSpace(kind)
	if kind == "" {
		kind = "unknown"
	}
	return fmt.Sprintf("[%s: unsupported]", strings.ToUpper(kind))
}
