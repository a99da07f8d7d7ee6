package salesforce

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/go-resty/resty/v2"
)

// Client is a minimal Salesforce REST client.
type Client struct {
	http       *resty.Client
	apiVersion string
}

// NewClient targets instanceURL with a bearer accessToken.
func NewClient(instanceURL, accessToken, apiVersion string) *Client {
	if apiVersion == "" {
		apiVersion = "v59.0"
	}
	return &Client{
		http: resty.New().
			SetBaseURL(strings.TrimRight(instanceURL, "/")).
			SetAuthToken(accessToken).
			SetTimeout(30*time.Second).
			SetHeader("Accept", "application/json"),
		apiVersion: apiVersion,
	}
}

type queryPage struct {
	TotalSize      int               `json:"totalSize"`
	Done           bool              `json:"done"`
	NextRecordsURL string            `json:"nextRecordsUrl"`
	Records        []json.RawMessage `json:"records"`
}

// APIError is a non-2xx response from Salesforce.
type APIError struct {
	Status int
	Body   string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("salesforce api returned %d: %s", e.Status, e.Body)
}

// Query runs soql and follows nextRecordsUrl until the result is done.
func (c *Client) Query(ctx context.Context, soql string) ([]json.RawMessage, error) {
	var out []json.RawMessage
	path := "/services/data/" + c.apiVersion + "/query"
	params := map[string]string{"q": soql}
	for {
		var page queryPage
		resp, err := c.http.R().
			SetContext(ctx).
			SetQueryParams(params).
			SetResult(&page).
			Get(path)
		if err != nil {
			return nil, fmt.Errorf("salesforce query: %w", err)
		}
		if resp.IsError() {
			return nil, &APIError{Status: resp.StatusCode(), Body: truncate(resp.String(), 512)}
		}
		out = append(out, page.Records...)
		if page.Done || page.NextRecordsURL == "" {
			return out, nil
		}
		path, params = page.NextRecordsURL, nil
	}
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n]
}
