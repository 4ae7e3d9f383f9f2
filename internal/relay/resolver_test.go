package relay

import (
	"errors"
	"strings"
	"testing"
)

func TestRecipientsOrderPreserved(t *testing.T) {
	t.Parallel()
	in := "a@example.com\nb@example.com\nc@example.com\n"
	got, err := Recipients("list.csv", strings.NewReader(in))
	if err != nil {
		t.Fatalf("Recipients error: %v", err)
	}
	want := []string{"a@example.com", "b@example.com", "c@example.com"}
	if len(got) != len(want) {
		t.Fatalf("got %d recipients, want %d", len(got), len(want))
	}
	for i := range want {
		if got[i] != want[i] {
			t.Fatalf("recipient[%d] = %q, want %q", i, got[i], want[i])
		}
	}
}

func TestRecipientsFirstColumnOnly(t *testing.T) {
	t.Parallel()
	in := "a@example.com,Alice\nb@example.com,Bob\n"
	got, err := Recipients("list.csv", strings.NewReader(in))
	if err != nil {
		t.Fatalf("Recipients error: %v", err)
	}
	if len(got) != 2 || got[0] != "a@example.com" || got[1] != "b@example.com" {
		t.Fatalf("unexpected recipients: %v", got)
	}
}

func TestRecipientsErrors(t *testing.T) {
	t.Parallel()
	tests := []struct {
		name     string
		filename string
		body     string
		want     error
	}{
		{name: "wrong extension", filename: "list.txt", body: "a@example.com\n", want: ErrWrongFileType},
		{name: "no extension", filename: "list", body: "a@example.com\n", want: ErrWrongFileType},
		{name: "empty file", filename: "list.csv", body: "", want: ErrEmptyRecipientList},
		{name: "only blank cells", filename: "list.csv", body: "\" \"\n\" \"\n", want: ErrEmptyRecipientList},
		{name: "malformed quoting", filename: "list.csv", body: "\"a@example.com\nb@", want: ErrMalformedInput},
	}
	for _, tt := range tests {
		tt := tt
		t.Run(tt.name, func(t *testing.T) {
			_, err := Recipients(tt.filename, strings.NewReader(tt.body))
			if !errors.Is(err, tt.want) {
				t.Fatalf("Recipients() error = %v, want %v", err, tt.want)
			}
		})
	}
}

func TestRecipientsExtensionCheckedBeforeParse(t *testing.T) {
	t.Parallel()
	// Malformed content behind a wrong extension must report the extension,
	// proving the parse never ran.
	_, err := Recipients("list.xlsx", strings.NewReader("\"broken"))
	if !errors.Is(err, ErrWrongFileType) {
		t.Fatalf("error = %v, want ErrWrongFileType", err)
	}
}

func TestSanitizeLink(t *testing.T) {
	t.Parallel()
	tests := []struct {
		name string
		in   string
		want string
	}{
		{name: "html tags stripped", in: "<b>hi</b>", want: "hi"},
		{name: "markdown link", in: "[docs](https://example.com)", want: "docs"},
		{name: "plain text unchanged", in: "https://example.com/page", want: "https://example.com/page"},
	}
	for _, tt := range tests {
		tt := tt
		t.Run(tt.name, func(t *testing.T) {
			if got := SanitizeLink(tt.in); got != tt.want {
				t.Fatalf("SanitizeLink(%q) = %q, want %q", tt.in, got, tt.want)
			}
		})
	}
}

func TestSanitizeLinkIdempotent(t *testing.T) {
	t.Parallel()
	once := SanitizeLink("<b>release notes</b>")
	twice := SanitizeLink(once)
	if once != twice {
		t.Fatalf("not idempotent: %q then %q", once, twice)
	}
}

func TestJoinBody(t *testing.T) {
	t.Parallel()
	if got := JoinBody("link", "body"); got != "link\nbody" {
		t.Fatalf("JoinBody = %q", got)
	}
	if got := JoinBody("", "body"); got != "body" {
		t.Fatalf("JoinBody empty first = %q", got)
	}
	if got := JoinBody("link", ""); got != "link" {
		t.Fatalf("JoinBody empty second = %q", got)
	}
}

func TestActionWording(t *testing.T) {
	t.Parallel()
	tests := []struct {
		scheduled bool
		backend   BackendKind
		content   ContentKind
		want      string
	}{
		{false, BackendMail, ContentMessage, "Sent an e-Mail"},
		{true, BackendMail, ContentMessage, "Scheduled an e-Mail"},
		{false, BackendMail, ContentFile, "Sent an e-Mail with a File"},
		{true, BackendDiscord, ContentLink, "Scheduled a Discord Message with a Link"},
		{false, BackendSlack, ContentFile, "Sent a Slack Message with a File"},
		{true, BackendSlack, ContentMessage, "Scheduled a Slack Message"},
	}
	for _, tt := range tests {
		if got := Action(tt.scheduled, tt.backend, tt.content); got != tt.want {
			t.Fatalf("Action(%v, %s, %d) = %q, want %q", tt.scheduled, tt.backend, tt.content, got, tt.want)
		}
	}
}
