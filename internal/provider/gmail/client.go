package gmail

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"time"

	"github.com/brandon/inboxengine/internal/provider"
)

const defaultBaseURL = "https://gmail.googleapis.com/gmail/v1/users/me"

// apiClient is a minimal bearer-authenticated JSON client for the Gmail
// REST API.
type apiClient struct {
	baseURL    string
	httpClient *http.Client
}

func newAPIClient() *apiClient {
	return &apiClient{
		baseURL:    defaultBaseURL,
		httpClient: &http.Client{Timeout: 60 * time.Second},
	}
}

func (c *apiClient) get(ctx context.Context, token, path string, query url.Values, out interface{}) error {
	u := c.baseURL + path
	if len(query) > 0 {
		u += "?" + query.Encode()
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u, nil)
	if err != nil {
		return provider.Errorf(provider.KindTransient, "gmail.get", err)
	}
	return c.do(req, token, out)
}

func (c *apiClient) post(ctx context.Context, token, path string, body, out interface{}) error {
	payload, err := json.Marshal(body)
	if err != nil {
		return provider.Errorf(provider.KindConfig, "gmail.post", err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+path, bytes.NewReader(payload))
	if err != nil {
		return provider.Errorf(provider.KindTransient, "gmail.post", err)
	}
	req.Header.Set("Content-Type", "application/json")
	return c.do(req, token, out)
}

func (c *apiClient) do(req *http.Request, token string, out interface{}) error {
	req.Header.Set("Authorization", "Bearer "+token)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return provider.Errorf(provider.KindTransient, "gmail."+req.Method, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 2048))
		err := fmt.Errorf("gmail API returned %d: %s", resp.StatusCode, bytes.TrimSpace(body))
		return provider.Errorf(classifyStatus(resp.StatusCode), "gmail."+req.Method, err)
	}

	if out == nil {
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return provider.Errorf(provider.KindTransient, "gmail."+req.Method,
			fmt.Errorf("failed to decode response: %w", err))
	}
	return nil
}

func classifyStatus(status int) provider.Kind {
	switch {
	case status == http.StatusUnauthorized || status == http.StatusForbidden:
		return provider.KindAuthExpired
	case status == http.StatusNotFound:
		return provider.KindNotFound
	default:
		return provider.KindTransient
	}
}

type labelRef struct {
	ID   string `json:"id"`
	Name string `json:"name"`
}

type labelList struct {
	Labels []labelRef `json:"labels"`
}

type labelDetail struct {
	ID             string `json:"id"`
	Name           string `json:"name"`
	MessagesTotal  int    `json:"messagesTotal"`
	MessagesUnread int    `json:"messagesUnread"`
}

type messageRef struct {
	ID string `json:"id"`
}

type messageList struct {
	Messages      []messageRef `json:"messages"`
	NextPageToken string       `json:"nextPageToken"`
}

type headerField struct {
	Name  string `json:"name"`
	Value string `json:"value"`
}

type messagePayload struct {
	Headers []headerField `json:"headers"`
}

type messageDetail struct {
	ID           string         `json:"id"`
	Snippet      string         `json:"snippet"`
	InternalDate string         `json:"internalDate"`
	SizeEstimate int            `json:"sizeEstimate"`
	LabelIDs     []string       `json:"labelIds"`
	Payload      messagePayload `json:"payload"`
}

type profile struct {
	EmailAddress string `json:"emailAddress"`
}
