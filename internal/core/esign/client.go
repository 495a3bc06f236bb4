package esign

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/signcrate/signcrate/internal/core"
	"github.com/signcrate/signcrate/internal/core/engine"
	apperrors "github.com/signcrate/signcrate/internal/errors"
)

const (
	apiVersion = "v2.1"

	// DefaultTimeout bounds each remote call.
	DefaultTimeout = 30 * time.Second

	dateLayout = "2006-01-02"
)

// TokenSource supplies bearer tokens for API calls.
type TokenSource interface {
	Token(ctx context.Context) (string, error)
	Invalidate()
}

// Client talks to the e-signature REST API. Every call passes through Gate,
// which is shared by the whole process.
type Client struct {
	BasePath  string
	AccountID string
	Tokens    TokenSource
	HTTP      *http.Client
	Gate      *engine.RateGate
	Timeout   time.Duration
	Logger    Logger
	Clock     func() time.Time
}

type documentsResponse struct {
	EnvelopeID        string          `json:"envelopeId"`
	EnvelopeDocuments []core.Document `json:"envelopeDocuments"`
}

// ListEnvelopes fetches one page of envelopes matching the query. Unset
// criteria default to completed envelopes from the last thirty days.
func (c *Client) ListEnvelopes(ctx context.Context, query core.PageQuery) (*core.EnvelopePage, error) {
	criteria := query.WithDefaults(c.now())
	pageSize := criteria.PageSize
	if pageSize <= 0 {
		pageSize = engine.DefaultPageSize
	}

	params := url.Values{}
	params.Set("from_date", criteria.FromDate.Format(dateLayout))
	params.Set("to_date", criteria.ToDate.Format(dateLayout))
	params.Set("status", string(criteria.Status))
	params.Set("count", strconv.Itoa(pageSize))
	params.Set("start_position", strconv.Itoa(query.StartPosition))

	var page core.EnvelopePage
	if err := c.getJSON(ctx, "/envelopes", params, &page); err != nil {
		return nil, err
	}
	c.logger().Debug("Envelope page fetched",
		zap.Int("start_position", query.StartPosition),
		zap.Int("envelopes", len(page.Envelopes)),
		zap.String("total_set_size", page.TotalSetSize))
	return &page, nil
}

// GetEnvelope fetches envelope metadata. The raw payload is kept alongside
// the decoded fields.
func (c *Client) GetEnvelope(ctx context.Context, envelopeID string) (*core.Envelope, error) {
	body, err := c.get(ctx, envelopePath(envelopeID, ""), nil, "application/json")
	if err != nil {
		return nil, err
	}

	var envelope core.Envelope
	if err := json.Unmarshal(body, &envelope); err != nil {
		return nil, apperrors.WrapDataProcessing(ctx, err, "decode envelope "+envelopeID)
	}
	if envelope.EnvelopeID == "" {
		envelope.EnvelopeID = envelopeID
	}
	envelope.Raw = json.RawMessage(body)
	return &envelope, nil
}

// GetStatus returns the envelope's current lifecycle status.
func (c *Client) GetStatus(ctx context.Context, envelopeID string) (core.EnvelopeStatus, error) {
	envelope, err := c.GetEnvelope(ctx, envelopeID)
	if err != nil {
		return "", err
	}
	return envelope.Status, nil
}

// ListDocuments lists the documents of an envelope, including the summary.
func (c *Client) ListDocuments(ctx context.Context, envelopeID string) ([]core.Document, error) {
	var resp documentsResponse
	if err := c.getJSON(ctx, envelopePath(envelopeID, "/documents"), nil, &resp); err != nil {
		return nil, err
	}
	return resp.EnvelopeDocuments, nil
}

// GetRecipients lists signers and carbon-copy recipients of an envelope.
func (c *Client) GetRecipients(ctx context.Context, envelopeID string) (*core.Recipients, error) {
	var recipients core.Recipients
	if err := c.getJSON(ctx, envelopePath(envelopeID, "/recipients"), nil, &recipients); err != nil {
		return nil, err
	}
	return &recipients, nil
}

// DownloadDocument fetches one document's PDF bytes.
func (c *Client) DownloadDocument(ctx context.Context, envelopeID, documentID string, opts core.DownloadOptions) ([]byte, error) {
	return c.get(ctx, envelopePath(envelopeID, "/documents/"+url.PathEscape(documentID)), downloadParams(opts), "application/pdf")
}

// DownloadCertificate fetches the certificate of completion.
func (c *Client) DownloadCertificate(ctx context.Context, envelopeID string, opts core.DownloadOptions) ([]byte, error) {
	opts.Certificate = true
	return c.get(ctx, envelopePath(envelopeID, "/documents/certificate"), downloadParams(opts), "application/pdf")
}

// DownloadCombined fetches all documents of an envelope as a single PDF.
func (c *Client) DownloadCombined(ctx context.Context, envelopeID string, opts core.DownloadOptions) ([]byte, error) {
	return c.get(ctx, envelopePath(envelopeID, "/documents/combined"), downloadParams(opts), "application/pdf")
}

func downloadParams(opts core.DownloadOptions) url.Values {
	params := url.Values{}
	params.Set("certificate", strconv.FormatBool(opts.Certificate))
	if opts.Language != "" {
		params.Set("language", opts.Language)
	}
	if opts.PDFMetadata {
		params.Set("pdf_meta_data", "true")
	}
	return params
}

func envelopePath(envelopeID, suffix string) string {
	return "/envelopes/" + url.PathEscape(envelopeID) + suffix
}

func (c *Client) getJSON(ctx context.Context, path string, params url.Values, out any) error {
	body, err := c.get(ctx, path, params, "application/json")
	if err != nil {
		return err
	}
	if err := json.Unmarshal(body, out); err != nil {
		return apperrors.WrapDataProcessing(ctx, err, "decode response from "+path)
	}
	return nil
}

// get performs a rate-gated GET against the account API and returns the
// response body of a 2xx response.
func (c *Client) get(ctx context.Context, path string, params url.Values, accept string) ([]byte, error) {
	if c == nil || c.Tokens == nil {
		return nil, errors.New("e-signature client is not configured")
	}
	if ctx == nil {
		ctx = context.Background()
	}

	call := func(ctx context.Context) ([]byte, error) {
		return c.do(ctx, path, params, accept)
	}
	if c.Gate == nil {
		return call(ctx)
	}
	return engine.Call(ctx, c.Gate, call)
}

func (c *Client) do(ctx context.Context, path string, params url.Values, accept string) ([]byte, error) {
	ctx, cancel := context.WithTimeout(ctx, c.timeout())
	defer cancel()

	token, err := c.Tokens.Token(ctx)
	if err != nil {
		return nil, err
	}

	endpoint := c.accountURL() + path
	if len(params) > 0 {
		endpoint += "?" + params.Encode()
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return nil, err
	}
	req.Header.Set("Authorization", "Bearer "+token)
	req.Header.Set("Accept", accept)

	started := c.now()
	resp, err := c.client().Do(req)
	if err != nil {
		return nil, transportError(ctx, path, err)
	}
	defer resp.Body.Close() // nolint:errcheck // best-effort cleanup on HTTP response body

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, transportError(ctx, path, fmt.Errorf("read response body: %w", err))
	}

	c.logger().Debug("Remote call",
		zap.String("path", path),
		zap.Int("status", resp.StatusCode),
		zap.Int("bytes", len(body)),
		zap.Duration("elapsed", c.now().Sub(started)))

	if resp.StatusCode == http.StatusUnauthorized {
		c.Tokens.Invalidate()
	}
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return nil, statusError(path, resp, body)
	}
	return body, nil
}

func (c *Client) accountURL() string {
	return strings.TrimRight(c.BasePath, "/") + "/" + apiVersion + "/accounts/" + url.PathEscape(c.AccountID)
}

func (c *Client) timeout() time.Duration {
	if c.Timeout > 0 {
		return c.Timeout
	}
	return DefaultTimeout
}

func (c *Client) client() *http.Client {
	if c.HTTP != nil {
		return c.HTTP
	}
	return http.DefaultClient
}

func (c *Client) logger() Logger {
	return loggerOrNop(c.Logger)
}

func (c *Client) now() time.Time {
	if c != nil && c.Clock != nil {
		return c.Clock()
	}
	return time.Now().UTC()
}
