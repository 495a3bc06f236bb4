package core

import (
	"encoding/json"
	"time"
)

// EnvelopeStatus is the lifecycle state reported by the e-signature service.
type EnvelopeStatus string

const (
	StatusCreated   EnvelopeStatus = "created"
	StatusSent      EnvelopeStatus = "sent"
	StatusDelivered EnvelopeStatus = "delivered"
	StatusCompleted EnvelopeStatus = "completed"
	StatusDeclined  EnvelopeStatus = "declined"
	StatusVoided    EnvelopeStatus = "voided"
)

// Envelope identifies one document package and its cached metadata.
type Envelope struct {
	EnvelopeID            string         `json:"envelopeId"`
	EmailSubject          string         `json:"emailSubject,omitempty"`
	Status                EnvelopeStatus `json:"status,omitempty"`
	CreatedDateTime       string         `json:"createdDateTime,omitempty"`
	SentDateTime          string         `json:"sentDateTime,omitempty"`
	CompletedDateTime     string         `json:"completedDateTime,omitempty"`
	StatusChangedDateTime string         `json:"statusChangedDateTime,omitempty"`

	// Raw holds the full metadata payload as returned by the service.
	Raw json.RawMessage `json:"-"`
}

// Document is one file belonging to an envelope.
type Document struct {
	DocumentID string `json:"documentId"`
	Name       string `json:"name,omitempty"`
	Type       string `json:"type,omitempty"`
	Order      string `json:"order,omitempty"`
	Pages      string `json:"pages,omitempty"`
}

// IsSummary reports whether the document is the service-generated summary,
// which is fetched separately as the certificate.
func (d Document) IsSummary() bool {
	return d.Type == "summary" || d.Name == "Summary"
}

// Recipient is a signer or carbon-copy recipient of an envelope.
type Recipient struct {
	RecipientID  string `json:"recipientId"`
	Name         string `json:"name,omitempty"`
	Email        string `json:"email,omitempty"`
	Status       string `json:"status,omitempty"`
	SignedAt     string `json:"signedDateTime,omitempty"`
	RoutingOrder string `json:"routingOrder,omitempty"`
}

// Recipients groups envelope recipients by role.
type Recipients struct {
	Signers      []Recipient `json:"signers,omitempty"`
	CarbonCopies []Recipient `json:"carbonCopies,omitempty"`
}

// EnvelopePage is one page of an envelope search.
type EnvelopePage struct {
	Envelopes     []Envelope `json:"envelopes"`
	ResultSetSize string     `json:"resultSetSize,omitempty"`
	TotalSetSize  string     `json:"totalSetSize,omitempty"`
	StartPosition string     `json:"startPosition,omitempty"`
	EndPosition   string     `json:"endPosition,omitempty"`
}

// SearchCriteria bounds an envelope search.
type SearchCriteria struct {
	FromDate time.Time      `json:"from_date" yaml:"from_date"`
	ToDate   time.Time      `json:"to_date" yaml:"to_date"`
	Status   EnvelopeStatus `json:"status,omitempty" yaml:"status"`
	PageSize int            `json:"page_size,omitempty" yaml:"page_size"`
}

// PageQuery is a single search request derived from SearchCriteria.
type PageQuery struct {
	SearchCriteria
	StartPosition int
}

// DownloadOptions controls how a binary payload is rendered by the service.
type DownloadOptions struct {
	Language    string
	Certificate bool
	PDFMetadata bool
}

// DefaultSearchWindow is how far back a search reaches when no start date is given.
const DefaultSearchWindow = 30 * 24 * time.Hour

// WithDefaults fills unset fields: the last thirty days of completed envelopes.
func (c SearchCriteria) WithDefaults(now time.Time) SearchCriteria {
	if c.ToDate.IsZero() {
		c.ToDate = now
	}
	if c.FromDate.IsZero() {
		c.FromDate = c.ToDate.Add(-DefaultSearchWindow)
	}
	if c.Status == "" {
		c.Status = StatusCompleted
	}
	return c
}
