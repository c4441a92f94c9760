// Package agentclient is a Go client for the agentd HTTP API.
package agentclient

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"iter"
	"net/http"
	"net/url"
	"path"
	"strings"
	"sync"
	"time"

	"OnchainAgent/internal/stream"
)

// DefaultHTTPTimeout applies to the non-streaming calls of clients created
// without a custom http.Client. Chat streams are bounded by their context only.
const DefaultHTTPTimeout = 15 * time.Second

// Client wraps the HTTP interactions with agentd.
type Client struct {
	baseURL    *url.URL
	httpClient *http.Client

	mu    sync.RWMutex
	token string
}

// APIError represents a non-2xx response.
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
		return fmt.Sprintf("agentd api error (%d): %s - %s", e.StatusCode, e.Code, e.Message)
	}
	return fmt.Sprintf("agentd api error (%d): %s", e.StatusCode, e.Message)
}

// NewClient instantiates a client. When httpClient is nil a client without a
// global timeout is used so that chat streams are not cut off.
func NewClient(rawURL string, httpClient *http.Client) (*Client, error) {
	parsed, err := url.Parse(rawURL)
	if err != nil {
		return nil, fmt.Errorf("invalid base url: %w", err)
	}
	if httpClient == nil {
		httpClient = &http.Client{}
	}
	return &Client{baseURL: parsed, httpClient: httpClient}, nil
}

// SetToken sets the bearer token sent with every request.
func (c *Client) SetToken(token string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.token = token
}

func (c *Client) bearer() string {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.token
}

// Chat opens a conversation turn and yields the decoded stream messages.
// A transport or decode failure ends the sequence with a non-nil error.
func (c *Client) Chat(ctx context.Context, input, conversationID string) iter.Seq2[stream.Message, error] {
	return func(yield func(stream.Message, error) bool) {
		body, err := json.Marshal(map[string]string{"input": input, "conversation_id": conversationID})
		if err != nil {
			yield(stream.Message{}, fmt.Errorf("encode request: %w", err))
			return
		}
		req, err := c.newRequest(ctx, http.MethodPost, "/api/chat", bytes.NewReader(body))
		if err != nil {
			yield(stream.Message{}, err)
			return
		}
		req.Header.Set("Content-Type", "application/json")
		req.Header.Set("Accept", "text/event-stream")

		resp, err := c.httpClient.Do(req)
		if err != nil {
			yield(stream.Message{}, fmt.Errorf("perform request: %w", err))
			return
		}
		defer resp.Body.Close()
		if resp.StatusCode >= 400 {
			yield(stream.Message{}, decodeAPIError(resp))
			return
		}

		reader := bufio.NewReader(resp.Body)
		var chunk strings.Builder
		for {
			line, err := reader.ReadString('\n')
			if line != "" {
				chunk.WriteString(line)
			}
			if strings.TrimRight(line, "\r\n") == "" && strings.TrimSpace(chunk.String()) != "" {
				msg, decodeErr := stream.Decode(chunk.String())
				chunk.Reset()
				if decodeErr != nil {
					yield(stream.Message{}, decodeErr)
					return
				}
				if !yield(msg, nil) {
					return
				}
			}
			if err != nil {
				if !errors.Is(err, io.EOF) {
					yield(stream.Message{}, fmt.Errorf("read stream: %w", err))
				}
				return
			}
		}
	}
}

// Tokens lists the recorded token contract addresses.
func (c *Client) Tokens(ctx context.Context) ([]string, error) {
	var out struct {
		Tokens []string `json:"tokens"`
	}
	if err := c.get(ctx, "/tokens", &out); err != nil {
		return nil, err
	}
	return out.Tokens, nil
}

// NFTs lists the recorded NFT contract addresses.
func (c *Client) NFTs(ctx context.Context) ([]string, error) {
	var out struct {
		NFTs []string `json:"nfts"`
	}
	if err := c.get(ctx, "/nfts", &out); err != nil {
		return nil, err
	}
	return out.NFTs, nil
}

func (c *Client) get(ctx context.Context, endpoint string, out any) error {
	ctx, cancel := context.WithTimeout(ctx, DefaultHTTPTimeout)
	defer cancel()

	req, err := c.newRequest(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return err
	}
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("perform request: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode >= 400 {
		return decodeAPIError(resp)
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("decode response: %w", err)
	}
	return nil
}

func (c *Client) newRequest(ctx context.Context, method, endpoint string, body io.Reader) (*http.Request, error) {
	rel := &url.URL{Path: path.Join(c.baseURL.Path, endpoint)}
	u := c.baseURL.ResolveReference(rel)
	req, err := http.NewRequestWithContext(ctx, method, u.String(), body)
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}
	if token := c.bearer(); token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	return req, nil
}

func decodeAPIError(resp *http.Response) error {
	apiErr := &APIError{StatusCode: resp.StatusCode}
	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return fmt.Errorf("read error response: %w", err)
	}
	if len(data) > 0 {
		_ = json.Unmarshal(data, apiErr)
	}
	if apiErr.Message == "" {
		apiErr.Message = string(bytes.TrimSpace(data))
	}
	return apiErr
}
