package responder

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/emersion/go-message/mail"

	"github.com/joshsymonds/awayreply/internal/gmail"
)

var errNoRecipient = errors.New("original message has no From or Reply-To")

// ComposeReply renders a plain-text RFC 5322 reply to orig. The reply goes
// to Reply-To when present, otherwise From, and threads via In-Reply-To and
// References.
func ComposeReply(orig gmail.Message, from, body string, now time.Time) ([]byte, error) {
	src := headerOf(orig)

	to, err := src.AddressList("Reply-To")
	if err != nil || len(to) == 0 {
		to, err = src.AddressList("From")
	}
	if err != nil {
		return nil, fmt.Errorf("parse sender %q: %w", src.Get("From"), err)
	}
	if len(to) == 0 {
		return nil, errNoRecipient
	}

	subject, err := src.Subject()
	if err != nil {
		subject = src.Get("Subject")
	}

	var h mail.Header
	h.SetDate(now)
	if from != "" {
		h.SetAddressList("From", []*mail.Address{{Address: from}})
	}
	h.SetAddressList("To", to)
	h.SetSubject(replySubject(subject))
	if id, _ := src.MessageID(); id != "" {
		refs, _ := src.MsgIDList("References")
		h.SetMsgIDList("In-Reply-To", []string{id})
		h.SetMsgIDList("References", append(refs, id))
	}
	h.Set("Auto-Submitted", "auto-replied")
	h.SetContentType("text/plain", map[string]string{"charset": "utf-8"})
	if err := h.GenerateMessageID(); err != nil {
		return nil, fmt.Errorf("generate message id: %w", err)
	}

	var buf bytes.Buffer
	w, err := mail.CreateSingleInlineWriter(&buf, h)
	if err != nil {
		return nil, err
	}
	if _, err := io.WriteString(w, body); err != nil {
		return nil, err
	}
	if err := w.Close(); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

func replySubject(subject string) string {
	subject = strings.TrimSpace(subject)
	if len(subject) >= 3 && strings.EqualFold(subject[:3], "re:") {
		return subject
	}
	return "Re: " + subject
}

func headerOf(m gmail.Message) mail.Header {
	fields := make(map[string][]string, len(m.Headers))
	for k, v := range m.Headers {
		fields[k] = []string{v}
	}
	return mail.HeaderFromMap(fields)
}

// automatedReason returns why m looks machine-generated (RFC 3834 §2), or ""
// for mail written by a person.
func automatedReason(m gmail.Message) string {
	h := headerOf(m)
	if v := strings.ToLower(strings.TrimSpace(h.Get("Auto-Submitted"))); v != "" && v != "no" {
		return "auto-submitted: " + v
	}
	switch strings.ToLower(strings.TrimSpace(h.Get("Precedence"))) {
	case "bulk", "list", "junk":
		return "precedence"
	}
	if strings.TrimSpace(h.Get("List-Id")) != "" {
		return "mailing list"
	}
	if addrs, err := h.AddressList("From"); err == nil {
		for _, a := range addrs {
			if isRobotMailbox(a.Address) {
				return "robot sender"
			}
		}
	}
	return ""
}

func isRobotMailbox(address string) bool {
	address = strings.ToLower(strings.TrimSpace(address))
	at := strings.LastIndex(address, "@")
	if at <= 0 {
		return false
	}
	switch address[:at] {
	case "mailer-daemon", "postmaster", "noreply", "no-reply", "donotreply", "do-not-reply":
		return true
	}
	return false
}
