package relay

// BackendKind identifies a delivery channel.
type BackendKind string

const (
	BackendMail    BackendKind = "mail"
	BackendDiscord BackendKind = "discord"
	BackendSlack   BackendKind = "slack"
)

// ContentKind describes what a payload carries beyond plain text.
// It only affects the audit trail wording.
type ContentKind int

const (
	ContentMessage ContentKind = iota
	ContentFile
	ContentLink
)

// Payload is the finalized message content bound for one backend.
// It is immutable after construction; schedulers and backends must not
// modify it in place.
type Payload struct {
	// Recipients is the resolved address list (mail only; chat backends
	// post to their fixed configured channel).
	Recipients []string `json:"recipients,omitempty"`

	// Subject is the mail subject. Chat backends ignore it.
	Subject string `json:"subject,omitempty"`

	// Body is the message text, with any sanitized link already joined in.
	Body string `json:"body"`

	// Content records what kind of payload this is, for audit wording.
	Content ContentKind `json:"content"`

	// Attachment is an optional file spooled to disk. The owner of the
	// spool file is responsible for removing it after the send returns.
	Attachment *Attachment `json:"attachment,omitempty"`
}

// Attachment is a file spooled to local disk for delivery.
type Attachment struct {
	Name string `json:"name"` // original upload name
	Path string `json:"path"` // temp spool path
}

// Clone returns a copy with its own recipients slice, so a stored payload
// can never alias a caller's buffer.
func (p Payload) Clone() Payload {
	cp := p
	if len(p.Recipients) > 0 {
		cp.Recipients = append([]string(nil), p.Recipients...)
	}
	if p.Attachment != nil {
		a := *p.Attachment
		cp.Attachment = &a
	}
	return cp
}

// backendNoun is the audit-trail noun for each backend.
var backendNoun = map[BackendKind]string{
	BackendMail:    "an e-Mail",
	BackendDiscord: "a Discord Message",
	BackendSlack:   "a Slack Message",
}

// Action builds the audit action description for one dispatch attempt,
// e.g. "Scheduled a Discord Message with a Link".
func Action(scheduled bool, backend BackendKind, content ContentKind) string {
	verb := "Sent "
	if scheduled {
		verb = "Scheduled "
	}
	noun, ok := backendNoun[backend]
	if !ok {
		noun = "a Message"
	}
	switch content {
	case ContentFile:
		return verb + noun + " with a File"
	case ContentLink:
		return verb + noun + " with a Link"
	default:
		return verb + noun
	}
}
