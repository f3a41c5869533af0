package outlook

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

const defaultBaseURL = "https://graph.microsoft.com/v1.0/me"

// apiClient is a minimal bearer-authenticated JSON client for Microsoft
// Graph.
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
		return provider.Errorf(provider.KindTransient, "outlook.get", err)
	}
	return c.do(req, token, out)
}

func (c *apiClient) post(ctx context.Context, token, path string, body interface{}) error {
	payload, err := json.Marshal(body)
	if err != nil {
		return provider.Errorf(provider.KindConfig, "outlook.post", err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+path, bytes.NewReader(payload))
	if err != nil {
		return provider.Errorf(provider.KindTransient, "outlook.post", err)
	}
	req.Header.Set("Content-Type", "application/json")
	return c.do(req, token, nil)
}

func (c *apiClient) do(req *http.Request, token string, out interface{}) error {
	req.Header.Set("Authorization", "Bearer "+token)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return provider.Errorf(provider.KindTransient, "outlook."+req.Method, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 2048))
		err := fmt.Errorf("graph API returned %d: %s", resp.StatusCode, bytes.TrimSpace(body))
		return provider.Errorf(classifyStatus(resp.StatusCode), "outlook."+req.Method, err)
	}

	if out == nil {
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return provider.Errorf(provider.KindTransient, "outlook."+req.Method,
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

type mailFolder struct {
	ID              string `json:"id"`
	DisplayName     string `json:"displayName"`
	TotalItemCount  int    `json:"totalItemCount"`
	UnreadItemCount int    `json:"unreadItemCount"`
}

type folderList struct {
	Value []mailFolder `json:"value"`
}

type emailAddress struct {
	Name    string `json:"name"`
	Address string `json:"address"`
}

type recipient struct {
	EmailAddress emailAddress `json:"emailAddress"`
}

type itemBody struct {
	ContentType string `json:"contentType"`
	Content     string `json:"content"`
}

type graphMessage struct {
	ID               string      `json:"id"`
	Subject          string      `json:"subject"`
	From             *recipient  `json:"from"`
	ToRecipients     []recipient `json:"toRecipients"`
	CcRecipients     []recipient `json:"ccRecipients"`
	BccRecipients    []recipient `json:"bccRecipients"`
	ReceivedDateTime string      `json:"receivedDateTime"`
	BodyPreview      string      `json:"bodyPreview"`
	Body             *itemBody   `json:"body"`
	IsRead           bool        `json:"isRead"`
}

type messageList struct {
	Value    []graphMessage `json:"value"`
	NextLink string         `json:"@odata.nextLink"`
}

type graphProfile struct {
	ID                string `json:"id"`
	DisplayName       string `json:"displayName"`
	Mail              string `json:"mail"`
	UserPrincipalName string `json:"userPrincipalName"`
}
