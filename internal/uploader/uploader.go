// Package uploader delivers an archive and a message to a webhook endpoint
// as a single multipart/form-data POST.
package uploader

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"log/slog"
	"mime/multipart"
	"net/textproto"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/goccy/go-json"
	"github.com/imroc/req/v3"
	"github.com/openmined/quicksave/internal/version"
)

const (
	Boundary           = "----QuickSaveBoundary"
	DefaultTimeout     = 30 * time.Second
	PayloadPartName    = "payload_json"
	FilePartName       = "file"
	ArchiveContentType = "application/x-7z-compressed"
	maxErrorBodyLen    = 512
)

var quoteEscaper = strings.NewReplacer(`\`, `\\`, `"`, `\"`)

// Payload is the JSON document sent in the payload_json part.
type Payload struct {
	Content string `json:"content"`
}

// Uploader sends archives to an endpoint.
type Uploader interface {
	Upload(ctx context.Context, endpoint, archivePath, message string) error
}

// Client is the req backed Uploader. It never retries.
type Client struct {
	client *req.Client
}

type Option func(*req.Client)

// WithTimeout overrides the request timeout.
func WithTimeout(d time.Duration) Option {
	return func(c *req.Client) {
		c.SetTimeout(d)
	}
}

// WithUserAgent overrides the User-Agent header.
func WithUserAgent(ua string) Option {
	return func(c *req.Client) {
		c.SetUserAgent(ua)
	}
}

// New returns a Client with the default timeout and user agent, then applies opts.
func New(opts ...Option) *Client {
	c := req.C().
		SetTimeout(DefaultTimeout).
		SetUserAgent(version.UserAgent()).
		SetCommonRetryCount(0).
		SetJsonMarshal(json.Marshal).
		SetJsonUnmarshal(json.Unmarshal)

	for _, opt := range opts {
		opt(c)
	}
	return &Client{client: c}
}

// Upload reads the archive into memory, builds the multipart body and POSTs it.
func (c *Client) Upload(ctx context.Context, endpoint, archivePath, message string) error {
	archive, err := os.ReadFile(archivePath)
	if err != nil {
		return &IOError{Path: archivePath, Err: err}
	}

	body, contentType, err := BuildBody(filepath.Base(archivePath), archive, message)
	if err != nil {
		return fmt.Errorf("build multipart body: %w", err)
	}

	start := time.Now()
	resp, err := c.client.R().
		SetContext(ctx).
		SetHeader("Content-Type", contentType).
		SetBodyBytes(body).
		Post(endpoint)
	if err != nil {
		return &NetworkError{Err: err}
	}

	if !resp.IsSuccessState() {
		return &HTTPError{
			Status: resp.StatusCode,
			Body:   truncate(resp.String(), maxErrorBodyLen),
		}
	}

	slog.Info("uploader", "op", "uploaded", "archive", filepath.Base(archivePath),
		"size", humanize.Bytes(uint64(len(body))), "status", resp.StatusCode,
		"took", time.Since(start).Round(time.Millisecond))
	return nil
}

// BuildBody serializes the two parts in wire order: payload_json, then file.
func BuildBody(archiveName string, archive []byte, message string) ([]byte, string, error) {
	payload, err := json.Marshal(Payload{Content: message})
	if err != nil {
		return nil, "", err
	}

	var buf bytes.Buffer
	buf.Grow(len(archive) + len(payload) + 512)

	w := multipart.NewWriter(&buf)
	if err := w.SetBoundary(Boundary); err != nil {
		return nil, "", err
	}

	if err := writePart(w, fmt.Sprintf(`form-data; name="%s"`, PayloadPartName), "application/json", payload); err != nil {
		return nil, "", err
	}

	disposition := fmt.Sprintf(`form-data; name="%s"; filename="%s"`, FilePartName, quoteEscaper.Replace(archiveName))
	if err := writePart(w, disposition, ArchiveContentType, archive); err != nil {
		return nil, "", err
	}

	if err := w.Close(); err != nil {
		return nil, "", err
	}

	return buf.Bytes(), w.FormDataContentType(), nil
}

func writePart(w *multipart.Writer, disposition, contentType string, data []byte) error {
	h := make(textproto.MIMEHeader)
	h.Set("Content-Disposition", disposition)
	h.Set("Content-Type", contentType)

	part, err := w.CreatePart(h)
	if err != nil {
		return err
	}
	_, err = part.Write(data)
	return err
}

// IsTimeout reports whether err is an upload that hit the request timeout.
func IsTimeout(err error) bool {
	var netErr *NetworkError
	if !errors.As(err, &netErr) {
		return false
	}
	if errors.Is(netErr.Err, context.DeadlineExceeded) {
		return true
	}
	var te interface{ Timeout() bool }
	return errors.As(netErr.Err, &te) && te.Timeout()
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n]
}
