package pattern

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
)

// maxResponseBody caps what the client reads from the pattern service. A
// 600 px PNG is far below this.
const maxResponseBody = 16 << 20

type generateRequest struct {
	Token  string `json:"token"`
	Size   int    `json:"size"`
	Border int    `json:"border"`
}

type generateResponse struct {
	Success       bool   `json:"success"`
	QRImageBase64 string `json:"qr_image_base64"`
}

type verifyRequest struct {
	ImageBase64 string `json:"image_base64"`
}

type verifyResponse struct {
	Token           *string  `json:"token"`
	IsAuthentic     *bool    `json:"is_authentic"`
	ConfidenceScore *float64 `json:"confidence_score"`
	IsPhotocopy     *bool    `json:"is_photocopy"`
}

type healthResponse struct {
	Status string `json:"status"`
}

// HTTPClient calls the pattern service's JSON API.
type HTTPClient struct {
	base       *url.URL
	httpClient *http.Client
}

// NewHTTPClient returns a client for the service at baseURL. A nil
// httpClient uses http.DefaultClient; deadlines come from the caller's
// context.
func NewHTTPClient(baseURL string, httpClient *http.Client) (*HTTPClient, error) {
	u, err := url.Parse(strings.TrimRight(strings.TrimSpace(baseURL), "/"))
	if err != nil {
		return nil, fmt.Errorf("pattern base url: %w", err)
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return nil, fmt.Errorf("pattern base url: unsupported scheme %q", u.Scheme)
	}
	if u.Host == "" {
		return nil, errors.New("pattern base url: missing host")
	}
	if httpClient == nil {
		httpClient = http.DefaultClient
	}
	return &HTTPClient{base: u, httpClient: httpClient}, nil
}

func (c *HTTPClient) Render(ctx context.Context, token string, size, border int) ([]byte, error) {
	var out generateResponse
	if err := c.do(ctx, http.MethodPost, "/generate-protected-qr", generateRequest{
		Token:  token,
		Size:   size,
		Border: border,
	}, &out); err != nil {
		return nil, fmt.Errorf("render: %w", err)
	}
	if !out.Success || out.QRImageBase64 == "" {
		return nil, fmt.Errorf("render: %w: response carried no image", ErrUnavailable)
	}
	img, err := base64.StdEncoding.DecodeString(out.QRImageBase64)
	if err != nil {
		return nil, fmt.Errorf("render: %w: image is not base64: %v", ErrUnavailable, err)
	}
	return img, nil
}

func (c *HTTPClient) Detect(ctx context.Context, image []byte) (Detection, error) {
	var out verifyResponse
	if err := c.do(ctx, http.MethodPost, "/verify-protected-qr", verifyRequest{
		ImageBase64: base64.StdEncoding.EncodeToString(image),
	}, &out); err != nil {
		return Detection{}, fmt.Errorf("detect: %w", err)
	}
	return Detection{
		Token:           out.Token,
		ConfidenceScore: out.ConfidenceScore,
		IsAuthentic:     out.IsAuthentic,
		IsPhotocopy:     out.IsPhotocopy,
	}, nil
}

// Health checks GET /health and expects {"status":"ok"}.
func (c *HTTPClient) Health(ctx context.Context) error {
	var out healthResponse
	if err := c.do(ctx, http.MethodGet, "/health", nil, &out); err != nil {
		return fmt.Errorf("health: %w", err)
	}
	if out.Status != "ok" {
		return fmt.Errorf("health: %w: status %q", ErrUnavailable, out.Status)
	}
	return nil
}

func (c *HTTPClient) do(ctx context.Context, method, path string, in, out any) error {
	var body io.Reader
	if in != nil {
		buf, err := json.Marshal(in)
		if err != nil {
			return err
		}
		body = bytes.NewReader(buf)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.base.String()+path, body)
	if err != nil {
		return err
	}
	req.Header.Set("Accept", "application/json")
	if in != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("%w: %w", ErrUnavailable, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return fmt.Errorf("%w: HTTP %d: %s", ErrUnavailable, resp.StatusCode, errorBody(resp.Body))
	}

	if err := json.NewDecoder(io.LimitReader(resp.Body, maxResponseBody)).Decode(out); err != nil {
		return fmt.Errorf("%w: decode response: %w", ErrUnavailable, err)
	}
	return nil
}

// errorBody returns a short excerpt of an error response for logs.
func errorBody(r io.Reader) string {
	b, _ := io.ReadAll(io.LimitReader(r, 512))
	s := strings.TrimSpace(string(b))
	if s == "" {
		return "(empty body)"
	}
	return s
}
