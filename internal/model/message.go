package model

import "time"

// BodyKind distinguishes single-part from multipart message bodies.
type BodyKind int

const (
	// BodySimple is a single-part body whose decoded text is available.
	BodySimple BodyKind = iota

	// BodyMultipart marks a multipart message. Multipart bodies are not
	// decoded; keyword matching degrades to the subject alone.
	BodyMultipart
)

// Body is the tagged body variant of a fetched message.
type Body struct {
	Kind BodyKind
	Text string
}

// SearchText returns the text that participates in keyword matching.
// Multipart bodies contribute nothing.
func (b Body) SearchText() string {
	if b.Kind == BodyMultipart {
		return ""
	}
	return b.Text
}

// Candidate is one fetched mail item under evaluation within a single
// poll cycle. It is built per fetch and discarded after evaluation.
type Candidate struct {
	// UID is the IMAP UID within the selected folder.
	UID uint32

	// Sender is the address part of the From header.
	Sender string

	// FromHeader is the raw From header, used for display.
	FromHeader string

	Subject string

	Body Body

	// Recipient is the Delivered-To address, falling back to the
	// configured mailbox login when the header is absent.
	Recipient string

	// Date is the arrival timestamp, normalized to UTC.
	Date time.Time
}

// NotificationRecord is one row of the write-only audit log of sent
// webhook notifications. It is never consulted for deduplication.
type NotificationRecord struct {
	ID        string    `db:"id" json:"id"`
	Sender    string    `db:"sender" json:"sender"`
	Recipient string    `db:"recipient" json:"recipient"`
	Subject   string    `db:"subject" json:"subject"`
	SentAt    time.Time `db:"sent_at" json:"sent_at"`
}
