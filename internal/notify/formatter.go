package notify

import (
	"encoding/json"
	"fmt"
	"strconv"
	"unicode/utf8"

	"github.com/copyleftdev/tixrush/internal/taskstypes"
)

func marshalMessage(msg Message) ([]byte, error) {
	return json.Marshal(msg)
}

func FormatStart(username string, ev taskstypes.Event) ([]byte, error) {
	msg := Message{
		Username: username,
		Embeds: []Embed{{
			Title:       "Monitoring started",
			Description: fmt.Sprintf("Watching with %d account(s).", ev.Count),
			Color:       colorInfo,
			Timestamp:   timestamp(ev.Timestamp),
		}},
	}
	return marshalMessage(msg)
}

func FormatSuccess(username string, ev taskstypes.Event) ([]byte, error) {
	msg := Message{
		Username: username,
		Content:  "Tickets are in the cart. Complete payment before the hold expires.",
		Embeds: []Embed{{
			Title: "Tickets acquired",
			Color: colorSuccess,
			Fields: []EmbedField{
				{Name: "Account", Value: fieldValue(ev.Account), Inline: true},
				{Name: "Zone", Value: fieldValue(ev.Zone), Inline: true},
				{Name: "Seats", Value: strconv.Itoa(ev.SeatCount), Inline: true},
				{Name: "Ticket ID", Value: fieldValue(ev.FirstTicketID), Inline: true},
				{Name: "Proxy", Value: fieldValue(ev.Proxy), Inline: true},
				{Name: "Details", Value: fieldValue(ev.Details)},
			},
			Footer:    &EmbedFooter{Text: "tixrush"},
			Timestamp: timestamp(ev.Timestamp),
		}},
	}
	return marshalMessage(msg)
}

func FormatError(username string, ev taskstypes.Event) ([]byte, error) {
	msg := Message{
		Username: username,
		Embeds: []Embed{{
			Title:       "Task failed",
			Description: truncate(ev.Message, maxDescription),
			Color:       colorError,
			Fields: []EmbedField{
				{Name: "Account", Value: fieldValue(ev.Account)},
			},
			Timestamp: timestamp(ev.Timestamp),
		}},
	}
	return marshalMessage(msg)
}

// Format renders ev according to its kind.
func Format(username string, ev taskstypes.Event) ([]byte, error) {
	switch ev.Kind {
	case taskstypes.EventStart:
		return FormatStart(username, ev)
	case taskstypes.EventSuccess:
		return FormatSuccess(username, ev)
	case taskstypes.EventError:
		return FormatError(username, ev)
	default:
		return nil, fmt.Errorf("unknown event kind %q", ev.Kind)
	}
}

// fieldValue substitutes a dash for empty values, which Discord rejects.
func fieldValue(s string) string {
	if s == "" {
		return "-"
	}
	return truncate(s, maxFieldValue)
}

// truncate cuts s to at most limit runes, marking the cut with an ellipsis.
func truncate(s string, limit int) string {
	if utf8.RuneCountInString(s) <= limit {
		return s
	}
	runes := []rune(s)
	return string(runes[:limit-1]) + "…"
}
