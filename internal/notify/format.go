package notify

import (
	"fmt"
	"strings"
)

// Formatter renders an Event for a channel.
type Formatter func(Event) Payload

// SMSFormatter renders a single line suitable for SMS, addressed to helpline.
func SMSFormatter(helpline string) Formatter {
	return func(ev Event) Payload {
		return Payload{
			KeyMessage: fmt.Sprintf("CRISIS ALERT: User %s at %s. Reason: %s. Msg: %s",
				ev.UserName, ev.Location, ev.Reason, ev.ShortMessage),
			KeyPhoneNumber: helpline,
			KeyAlertID:     ev.ID,
		}
	}
}

// markdownEscaper backslash-escapes the entity markers of Telegram's legacy
// Markdown so user text cannot open an unclosed entity.
var markdownEscaper = strings.NewReplacer(
	"_", `\_`,
	"*", `\*`,
	"`", "\\`",
	"[", `\[`,
)

// EscapeMarkdown makes s safe to interpolate into a Markdown message.
func EscapeMarkdown(s string) string {
	return markdownEscaper.Replace(s)
}

// RichFormatter renders a multi-line Markdown message and also carries the
// individual fields, unescaped, for providers that lay them out themselves.
func RichFormatter() Formatter {
	return func(ev Event) Payload {
		return Payload{
			KeyMessage: fmt.Sprintf("\U0001f6a8 *CRISIS DETECTED* \U0001f6a8\n\n"+
				"\U0001f464 *User:* %s\n"+
				"\U0001f4cd *Location:* %s\n"+
				"⚠️ *Reason:* %s\n"+
				"\U0001f4ac *Message:* %s\n\n"+
				"Please take immediate action.",
				EscapeMarkdown(ev.UserName), EscapeMarkdown(ev.Location),
				EscapeMarkdown(ev.Reason), EscapeMarkdown(ev.ShortMessage)),
			KeyAlertID:      ev.ID,
			KeyUserName:     ev.UserName,
			KeyLocation:     ev.Location,
			KeyReason:       ev.Reason,
			KeyShortMessage: ev.ShortMessage,
		}
	}
}
