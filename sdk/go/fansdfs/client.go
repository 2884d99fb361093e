package fansdfs

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"path"
	"strconv"
	"time"
)

// DefaultHTTPTimeout defines the timeout used by clients created without a
// custom http.Client. It is intentionally short to avoid hanging network calls.
const DefaultHTTPTimeout = 15 * time.Second

// Client wraps the HTTP interactions with the FansDFS console REST API.
type Client struct {
	baseURL    *url.URL
	httpClient *http.Client
}

// Attachment carries a file to be staged alongside an utterance. Content is
// transported base64-encoded on the wire; callers pass raw bytes.
type Attachment struct {
	Filename    string
	ContentType string
	Content     []byte
}

// TurnSubmission represents the payload required to play a conversational turn.
type TurnSubmission struct {
	ThreadID    string
	SignerID    string
	Utterance   string
	Attachments []Attachment
}

// Turn contains the outcome of a played turn.
type Turn struct {
	TurnID        string `json:"turn_id"`
	ThreadID      string `json:"thread_id"`
	Agent         string `json:"agent"`
	Reply         string `json:"reply"`
	HandOffs      int    `json:"hand_offs"`
	AwaitingInput bool   `json:"awaiting_input"`
	Failed        bool   `json:"failed"`
	ErrorCode     string `json:"error_code,omitempty"`
}

// TurnRecord is a persisted history entry as returned by the listing endpoint.
type TurnRecord struct {
	ID        string `json:"id"`
	ThreadID  string `json:"thread_id"`
	SignerID  string `json:"signer_id,omitempty"`
	Utterance string `json:"utterance"`
	Agent     string `json:"agent"`
	Reply     string `json:"reply"`
	HandOffs  int    `json:"hand_offs"`
	Failed    bool   `json:"failed"`
	ErrorCode string `json:"error_code,omitempty"`
	CreatedAt int64  `json:"created_at"`
}

// ListOptions filters the history listing. ThreadID takes precedence over
// Limit when both are set, matching the server behaviour.
type ListOptions struct {
	ThreadID string
	Limit    int
}

// APIError represents server side validation or internal errors.
type APIError struct {
	StatusCode int
	Code       string `json:"code"`
	Message    string `json:"error"`
}

func (e *APIError) Error() string {
	if e == nil {
		return ""
	}
	if e.Code != "" {
		return fmt.Sprintf("fansdfs api error (%d): %s - %s", e.StatusCode, e.Code, e.Message)
	}
	return fmt.Sprintf("fansdfs api error (%d): %s", e.StatusCode, e.Message)
}

// NewClient instantiates a client for the FansDFS console API. When httpClient
// is nil, a default client with a sensible timeout is used.
func NewClient(rawURL string, httpClient *http.Client) *Client {
	parsed, err := url.Parse(rawURL)
	if err != nil {
		panic(fmt.Sprintf("invalid base url: %v", err))
	}
	if httpClient == nil {
		httpClient = &http.Client{Timeout: DefaultHTTPTimeout}
	}
	return &Client{baseURL: parsed, httpClient: httpClient}
}

// PlayTurn submits an utterance together with optional attachments and returns
// the resulting reply.
func (c *Client) PlayTurn(ctx context.Context, submission TurnSubmission) (Turn, error) {
	type wireAttachment struct {
		Filename    string `json:"filename"`
		ContentType string `json:"content_type,omitempty"`
		Content     string `json:"content"`
	}
	payload := struct {
		ThreadID    string           `json:"thread_id,omitempty"`
		SignerID    string           `json:"signer_id,omitempty"`
		Utterance   string           `json:"utterance"`
		Attachments []wireAttachment `json:"attachments,omitempty"`
	}{
		ThreadID:  submission.ThreadID,
		SignerID:  submission.SignerID,
		Utterance: submission.Utterance,
	}
	for _, a := range submission.Attachments {
		payload.Attachments = append(payload.Attachments, wireAttachment{
			Filename:    a.Filename,
			ContentType: a.ContentType,
			Content:     base64.StdEncoding.EncodeToString(a.Content),
		})
	}

	var turn Turn
	if err := c.post(ctx, "/api/v1/turns", payload, &turn); err != nil {
		return Turn{}, err
	}
	return turn, nil
}

// ListTurns fetches persisted turn history.
func (c *Client) ListTurns(ctx context.Context, opts ListOptions) ([]TurnRecord, error) {
	endpoint := "/api/v1/turns"
	query := url.Values{}
	if opts.ThreadID != "" {
		query.Set("thread_id", opts.ThreadID)
	} else if opts.Limit > 0 {
		query.Set("limit", strconv.Itoa(opts.Limit))
	}
	if encoded := query.Encode(); encoded != "" {
		endpoint += "?" + encoded
	}

	var results []TurnRecord
	if err := c.get(ctx, endpoint, &results); err != nil {
		return nil, err
	}
	return results, nil
}

// Health probes the daemon liveness endpoint.
func (c *Client) Health(ctx context.Context) error {
	return c.get(ctx, "/healthz", nil)
}

func (c *Client) post(ctx context.Context, endpoint string, payload any, out any) error {
	body, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("encode request: %w", err)
	}
	req, err := c.newRequest(ctx, http.MethodPost, endpoint, bytes.NewReader(body))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	return c.do(req, out)
}

func (c *Client) get(ctx context.Context, endpoint string, out any) error {
	req, err := c.newRequest(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return err
	}
	return c.do(req, out)
}

func (c *Client) newRequest(ctx context.Context, method, endpoint string, body io.Reader) (*http.Request, error) {
	parsed, err := url.Parse(endpoint)
	if err != nil {
		return nil, fmt.Errorf("parse endpoint: %w", err)
	}
	rel := &url.URL{Path: path.Join(c.baseURL.Path, parsed.Path), RawQuery: parsed.RawQuery}
	u := c.baseURL.ResolveReference(rel)
	req, err := http.NewRequestWithContext(ctx, method, u.String(), body)
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}
	return req, nil
}

func (c *Client) do(req *http.Request, out any) error {
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("perform request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 400 {
		var apiErr APIError
		apiErr.StatusCode = resp.StatusCode
		data, err := io.ReadAll(resp.Body)
		if err != nil {
			return fmt.Errorf("read error response: %w", err)
		}
		if len(data) > 0 {
			_ = json.Unmarshal(data, &apiErr)
		}
		if apiErr.Message == "" {
			apiErr.Message = string(bytes.TrimSpace(data))
		}
		return &apiErr
	}

	if out == nil {
		return nil
	}
	decoder := json.NewDecoder(resp.Body)
	if err := decoder.Decode(out); err != nil {
		return fmt.Errorf("decode response: %w", err)
	}
	return nil
}
