package responder

import (
	"bytes"
	"io"
	"testing"
	"time"

	"github.com/emersion/go-message/mail"
	"github.com/google/go-cmp/cmp"

	"github.com/joshsymonds/awayreply/internal/gmail"
)

func readReply(t *testing.T, raw []byte) (*mail.Header, string) {
	t.Helper()
	r, err := mail.CreateReader(bytes.NewReader(raw))
	if err != nil {
		t.Fatalf("read reply: %v", err)
	}
	part, err := r.NextPart()
	if err != nil {
		t.Fatalf("next part: %v", err)
	}
	body, err := io.ReadAll(part.Body)
	if err != nil {
		t.Fatalf("read body: %v", err)
	}
	return &r.Header, string(body)
}

func TestComposeReply(t *testing.T) {
	orig := gmail.Message{
		ID: "m1",
		Headers: map[string]string{
			"From":       "Ann Example <ann@example.com>",
			"Subject":    "Quarterly numbers",
			"Message-Id": "<abc123@mail.example.com>",
			"References": "<root@mail.example.com>",
		},
	}
	now := time.Date(2024, time.March, 4, 9, 0, 0, 0, time.UTC)

	raw, err := ComposeReply(orig, "me@example.com", "I am in Bali, ttyl.", now)
	if err != nil {
		t.Fatalf("compose: %v", err)
	}
	h, body := readReply(t, raw)

	to, err := h.AddressList("To")
	if err != nil || len(to) != 1 || to[0].Address != "ann@example.com" {
		t.Fatalf("To = %v (%v)", to, err)
	}
	from, err := h.AddressList("From")
	if err != nil || len(from) != 1 || from[0].Address != "me@example.com" {
		t.Fatalf("From = %v (%v)", from, err)
	}
	if subj, _ := h.Subject(); subj != "Re: Quarterly numbers" {
		t.Fatalf("Subject = %q", subj)
	}
	inReplyTo, _ := h.MsgIDList("In-Reply-To")
	if diff := cmp.Diff([]string{"abc123@mail.example.com"}, inReplyTo); diff != "" {
		t.Fatalf("In-Reply-To (-want +got):\n%s", diff)
	}
	refs, _ := h.MsgIDList("References")
	if diff := cmp.Diff([]string{"root@mail.example.com", "abc123@mail.example.com"}, refs); diff != "" {
		t.Fatalf("References (-want +got):\n%s", diff)
	}
	if h.Get("Auto-Submitted") != "auto-replied" {
		t.Fatalf("Auto-Submitted = %q", h.Get("Auto-Submitted"))
	}
	if date, _ := h.Date(); !date.Equal(now) {
		t.Fatalf("Date = %v", date)
	}
	if body != "I am in Bali, ttyl." {
		t.Fatalf("body = %q", body)
	}
}

func TestComposeReplyPrefersReplyTo(t *testing.T) {
	orig := gmail.Message{Headers: map[string]string{
		"From":     "ann@example.com",
		"Reply-To": "team@example.com",
		"Subject":  "Re: already a reply",
	}}
	raw, err := ComposeReply(orig, "", "away", time.Now())
	if err != nil {
		t.Fatalf("compose: %v", err)
	}
	h, _ := readReply(t, raw)
	to, _ := h.AddressList("To")
	if len(to) != 1 || to[0].Address != "team@example.com" {
		t.Fatalf("To = %v", to)
	}
	if h.Get("From") != "" {
		t.Fatalf("From should be left to Gmail, got %q", h.Get("From"))
	}
	if subj, _ := h.Subject(); subj != "Re: already a reply" {
		t.Fatalf("Subject = %q", subj)
	}
	if h.Get("In-Reply-To") != "" {
		t.Fatalf("unexpected In-Reply-To %q", h.Get("In-Reply-To"))
	}
}

func TestComposeReplyWithoutSender(t *testing.T) {
	if _, err := ComposeReply(gmail.Message{Headers: map[string]string{"Subject": "x"}}, "", "away", time.Now()); err == nil {
		t.Fatal("expected error")
	}
}

func TestReplySubject(t *testing.T) {
	tests := []struct {
		in   string
		want string
	}{
		{"hello", "Re: hello"},
		{"Re: hello", "Re: hello"},
		{"RE: hello", "RE: hello"},
		{"", "Re: "},
		{"Regarding tickets", "Re: Regarding tickets"},
	}
	for _, tc := range tests {
		if got := replySubject(tc.in); got != tc.want {
			t.Errorf("replySubject(%q) = %q, want %q", tc.in, got, tc.want)
		}
	}
}

func TestAutomatedReason(t *testing.T) {
	tests := []struct {
		name    string
		headers map[string]string
		want    bool
	}{
		{"person", map[string]string{"From": "ann@example.com"}, false},
		{"auto-submitted no", map[string]string{"From": "ann@example.com", "Auto-Submitted": "no"}, false},
		{"auto-replied", map[string]string{"From": "ann@example.com", "Auto-Submitted": "auto-replied"}, true},
		{"bulk", map[string]string{"From": "ann@example.com", "Precedence": "bulk"}, true},
		{"list", map[string]string{"From": "ann@example.com", "List-Id": "<dev.lists.example.com>"}, true},
		{"daemon", map[string]string{"From": "Mail Delivery <MAILER-DAEMON@example.com>"}, true},
		{"no-reply", map[string]string{"From": "no-reply@example.com"}, true},
	}
	for _, tt := range tests {
		tc := tt
		t.Run(tc.name, func(t *testing.T) {
			got := automatedReason(gmail.Message{Headers: tc.headers}) != ""
			if got != tc.want {
				t.Fatalf("automated = %v, want %v", got, tc.want)
			}
		})
	}
}
