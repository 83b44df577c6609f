package mailbox

import (
	"bytes"
	"fmt"
	"io"

	"github.com/emersion/go-message"
	"github.com/emersion/go-message/mail"

	"github.com/nhle/mailwatch/internal/model"
)

// parseMessage turns raw RFC 822 bytes into a candidate message.
//
// Multipart bodies are intentionally not decoded: keyword matching on
// such messages works against the subject alone. A message without a
// parseable Date header is an error; the caller skips that message and
// continues the batch.
func parseMessage(raw []byte, fallbackRecipient string) (*model.Candidate, error) {
	ent, err := message.Read(bytes.NewReader(raw))
	if err != nil && !message.IsUnknownCharset(err) {
		return nil, fmt.Errorf("parsing message: %w", err)
	}

	h := mail.Header{Header: ent.Header}

	date, err := h.Date()
	if err != nil {
		return nil, fmt.Errorf("parsing message date: %w", err)
	}
	// An absent Date header parses as the zero time without an error.
	if date.IsZero() {
		return nil, fmt.Errorf("message has no Date header")
	}

	cand := &model.Candidate{
		FromHeader: ent.Header.Get("From"),
		Date:       date.UTC(),
	}

	// Match against the address part only, so display names never
	// influence the sender gate.
	if addrs, err := h.AddressList("From"); err == nil && len(addrs) > 0 {
		cand.Sender = addrs[0].Address
	} else {
		cand.Sender = cand.FromHeader
	}

	if subject, err := h.Subject(); err == nil {
		cand.Subject = subject
	} else {
		cand.Subject = ent.Header.Get("Subject")
	}

	cand.Recipient = ent.Header.Get("Delivered-To")
	if cand.Recipient == "" {
		cand.Recipient = fallbackRecipient
	}

	if mr := ent.MultipartReader(); mr != nil {
		cand.Body = model.Body{Kind: model.BodyMultipart}
		return cand, nil
	}

	// A body read failure degrades to subject-only matching rather than
	// failing the message.
	body, err := io.ReadAll(ent.Body)
	if err != nil {
		cand.Body = model.Body{Kind: model.BodySimple}
		return cand, nil
	}
	cand.Body = model.Body{Kind: model.BodySimple, Text: string(body)}
	return cand, nil
}
