package mediaserver

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/goccy/go-json"
	"golang.org/x/time/rate"
)

// Fields requested on every item listing; the default response omits most
// of the metadata the embedding text is built from.
const itemFields = "Overview,Genres,Tags,Studios,People,OriginalTitle,SeriesName,PremiereDate,CommunityRating,OfficialRating,ProductionYear,RunTimeTicks"

// Client defines the read-only media-server API surface the sync pipeline
// consumes. HTTPClient implements it; tests substitute fakes.
type Client interface {
	GetSystemInfo(ctx context.Context) (*SystemInfo, error)
	GetUsers(ctx context.Context) ([]User, error)
	GetLibraries(ctx context.Context) ([]Library, error)
	GetLibraryItems(ctx context.Context, libraryID string) ([]Item, error)
	GetActivityLog(ctx context.Context) ([]Activity, error)
	GetPlayedItems(ctx context.Context, userID string) ([]Item, error)
}

// Factory builds a client for one server's connection settings. The sync
// services hold a Factory so tests can inject fakes per server.
type Factory func(baseURL, apiKey string) Client

var _ Client = (*HTTPClient)(nil)

// APIError is a non-2xx response from the media server. Its Error text is
// the user-facing form recorded in SyncError.
type APIError struct {
	StatusCode int
	Endpoint   string
	Body       string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("API error: %d %s", e.StatusCode, e.message())
}

func (e *APIError) message() string {
	switch {
	case e.StatusCode == http.StatusUnauthorized:
		return "invalid API credential"
	case e.StatusCode == http.StatusForbidden:
		return "access forbidden"
	case e.StatusCode == http.StatusNotFound:
		return "not found"
	case e.StatusCode >= 500:
		return "media server error"
	}
	if e.Body != "" {
		return e.Body
	}
	return http.StatusText(e.StatusCode)
}

// HTTPClient talks to one Emby-compatible server.
type HTTPClient struct {
	baseURL        string
	apiKey         string
	httpClient     *http.Client
	requestTimeout time.Duration
	itemsTimeout   time.Duration
	limiter        *rate.Limiter
}

// Option configures an HTTPClient.
type Option func(*HTTPClient)

// WithRequestTimeout sets the timeout for small requests (system info,
// users, libraries, activity log).
func WithRequestTimeout(d time.Duration) Option {
	return func(c *HTTPClient) {
		if d > 0 {
			c.requestTimeout = d
		}
	}
}

// WithItemsTimeout sets the timeout for item listings, which can be large.
func WithItemsTimeout(d time.Duration) Option {
	return func(c *HTTPClient) {
		if d > 0 {
			c.itemsTimeout = d
		}
	}
}

// WithRateLimit sets the minimum interval between requests.
func WithRateLimit(interval time.Duration) Option {
	return func(c *HTTPClient) {
		if interval > 0 {
			c.limiter = rate.NewLimiter(rate.Every(interval), 1)
		}
	}
}

// WithHTTPClient replaces the underlying transport.
func WithHTTPClient(hc *http.Client) Option {
	return func(c *HTTPClient) {
		if hc != nil {
			c.httpClient = hc
		}
	}
}

// NewHTTPClient creates a client for the given server. Timeouts are applied
// per request through the context, so the two classes of request keep their
// own budgets on one shared transport.
func NewHTTPClient(baseURL, apiKey string, opts ...Option) *HTTPClient {
	c := &HTTPClient{
		baseURL:        strings.TrimSuffix(baseURL, "/"),
		apiKey:         apiKey,
		httpClient:     &http.Client{},
		requestTimeout: 30 * time.Second,
		itemsTimeout:   60 * time.Second,
		limiter:        rate.NewLimiter(rate.Every(100*time.Millisecond), 1),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

func (c *HTTPClient) GetSystemInfo(ctx context.Context) (*SystemInfo, error) {
	var info SystemInfo
	if err := c.get(ctx, "/System/Info", nil, c.requestTimeout, &info); err != nil {
		return nil, err
	}
	return &info, nil
}

func (c *HTTPClient) GetUsers(ctx context.Context) ([]User, error) {
	var users []User
	if err := c.get(ctx, "/Users", nil, c.requestTimeout, &users); err != nil {
		return nil, err
	}
	return users, nil
}

func (c *HTTPClient) GetLibraries(ctx context.Context) ([]Library, error) {
	var libraries []Library
	if err := c.get(ctx, "/Library/VirtualFolders", nil, c.requestTimeout, &libraries); err != nil {
		return nil, err
	}
	return libraries, nil
}

// GetLibraryItems lists every item under a library. The server scopes the
// recursive listing by parent, so one call per library covers it.
func (c *HTTPClient) GetLibraryItems(ctx context.Context, libraryID string) ([]Item, error) {
	query := url.Values{}
	query.Set("ParentId", libraryID)
	query.Set("Recursive", "true")
	query.Set("Fields", itemFields)

	var result itemsResponse
	if err := c.get(ctx, "/Items", query, c.itemsTimeout, &result); err != nil {
		return nil, err
	}
	return result.Items, nil
}

func (c *HTTPClient) GetActivityLog(ctx context.Context) ([]Activity, error) {
	var result activityResponse
	if err := c.get(ctx, "/System/ActivityLog/Entries", nil, c.requestTimeout, &result); err != nil {
		return nil, err
	}
	return result.Items, nil
}

// GetPlayedItems lists the items a user has played, with the per-user
// playback state attached.
func (c *HTTPClient) GetPlayedItems(ctx context.Context, userID string) ([]Item, error) {
	query := url.Values{}
	query.Set("Filters", "IsPlayed")
	query.Set("Recursive", "true")
	query.Set("Fields", itemFields)

	endpoint := fmt.Sprintf("/Users/%s/Items", url.PathEscape(userID))
	var result itemsResponse
	if err := c.get(ctx, endpoint, query, c.itemsTimeout, &result); err != nil {
		return nil, err
	}
	return result.Items, nil
}

// get performs a rate-limited GET and decodes the 200 response into out.
func (c *HTTPClient) get(ctx context.Context, endpoint string, query url.Values, timeout time.Duration, out interface{}) error {
	if err := c.limiter.Wait(ctx); err != nil {
		return fmt.Errorf("rate limiter interrupted: %w", err)
	}

	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	fullURL := c.baseURL + endpoint
	if len(query) > 0 {
		fullURL += "?" + query.Encode()
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, fullURL, http.NoBody)
	if err != nil {
		return fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("X-Emby-Token", c.apiKey)
	req.Header.Set("Accept", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("media server request failed: %w", err)
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return &APIError{
			StatusCode: resp.StatusCode,
			Endpoint:   endpoint,
			Body:       strings.TrimSpace(string(body)),
		}
	}

	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("failed to decode %s response: %w", endpoint, err)
	}
	return nil
}
