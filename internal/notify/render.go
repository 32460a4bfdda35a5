package notify

import (
	"fmt"

	"github.com/shopspring/decimal"
	"golang.org/x/text/language"
	"golang.org/x/text/message"
)

// Message is the rendered, channel-agnostic notification.
type Message struct {
	Subject string
	Body    string
}

// Renderer formats events for a locale.
type Renderer struct {
	printer *message.Printer
}

// NewRenderer returns a renderer for tag, e.g. language.Indonesian.
func NewRenderer(tag language.Tag) *Renderer {
	return &Renderer{printer: message.NewPrinter(tag)}
}

// Render builds subject and body for evt.
func (r *Renderer) Render(evt Event) Message {
	number := evt.DocumentNumber
	if number == "" {
		number = evt.Document.String()
	}
	var msg Message
	switch evt.Type {
	case ApprovalRequired:
		msg.Subject = fmt.Sprintf("Approval required: %s", number)
		msg.Body = fmt.Sprintf("%s is waiting for your approval.", number)
		if step, ok := evt.Payload["step"].(string); ok && step != "" {
			msg.Body = fmt.Sprintf("%s is waiting for your approval at step %s.", number, step)
		}
	case ApprovalReminder:
		msg.Subject = fmt.Sprintf("Reminder: %s awaits approval", number)
		msg.Body = fmt.Sprintf("%s has been pending since %s.", number, evt.OccurredAt.Format("2006-01-02"))
	case DocumentApproved:
		msg.Subject = fmt.Sprintf("%s approved", number)
		msg.Body = fmt.Sprintf("%s has been approved.", number)
	case DocumentRejected:
		msg.Subject = fmt.Sprintf("%s rejected", number)
		msg.Body = fmt.Sprintf("%s has been rejected.", number)
		if reason, ok := evt.Payload["reason"].(string); ok && reason != "" {
			msg.Body += " Reason: " + reason
		}
	case LowStockAlert:
		msg.Subject = "Low stock alert"
		msg.Body = r.printer.Sprintf("Item %v is below its reorder level: %s on hand, reorder at %s.",
			evt.Payload["item_code"], r.Amount(evt.Payload["on_hand"]), r.Amount(evt.Payload["reorder_level"]))
	default:
		msg.Subject = string(evt.Type)
		msg.Body = number
	}
	if amount, ok := evt.Payload["amount"]; ok {
		msg.Body += " Amount: " + r.Amount(amount)
	}
	return msg
}

// Amount formats numeric payload values with locale grouping and two decimals.
func (r *Renderer) Amount(v any) string {
	var f float64
	switch n := v.(type) {
	case decimal.Decimal:
		f = n.InexactFloat64()
	case string:
		d, err := decimal.NewFromString(n)
		if err != nil {
			return n
		}
		f = d.InexactFloat64()
	case float64:
		f = n
	case int64:
		f = float64(n)
	case int:
		f = float64(n)
	default:
		return fmt.Sprint(v)
	}
	return r.printer.Sprintf("%.2f", f)
}
