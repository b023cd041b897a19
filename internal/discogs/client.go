package discogs

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"regexp"
	"strconv"
	"time"

	u "cdlabel/internal/utils"
)

const (
	releaseEndpoint = "%s/releases/%d"
	masterEndpoint  = "%s/masters/%d"
	searchEndpoint  = "%s/database/search"
)

var (
	// ErrNotFound signals that no matching release exists upstream.
	ErrNotFound = errors.New("no matching release")
	// ErrUpstream wraps every Discogs API failure that is not a clean miss:
	// network errors, non-2xx statuses, undecodable JSON.
	ErrUpstream = errors.New("discogs upstream error")
	// ErrNoAuth signals that free-text search was requested without a
	// configured Discogs token. URL and bare-ID lookups work anonymously.
	ErrNoAuth = errors.New("free-text search requires a Discogs token")
	// ErrImageNotFound is returned when a release carries no usable cover
	// image URL.
	ErrImageNotFound = errors.New("cover image not found")
	// ErrImageTooBig is returned when the cover image exceeds the configured
	// download cap.
	ErrImageTooBig = errors.New("cover image is too big")
)

var bareIDRe = regexp.MustCompile(`^\d+$`)

// Client is a read-only client for the Discogs HTTP API. One request per
// lookup, no retries; failures propagate to the caller. Safe for concurrent
// use.
type Client struct {
	apiHost       string
	useragent     string
	token         string
	maxImageBytes int
	httpClient    *http.Client
	timeout       time.Duration
}

// NewClient returns a configured Client. The Discogs terms of use require a
// descriptive User-Agent on every request; search additionally requires a
// personal token.
func NewClient(cfg u.DiscogsConfig, maxImageBytes int) *Client {
	if maxImageBytes <= 0 {
		maxImageBytes = 2 << 20
	}
	return &Client{
		apiHost:       cfg.APIHost,
		useragent:     cfg.UserAgent,
		token:         cfg.Token,
		maxImageBytes: maxImageBytes,
		httpClient:    http.DefaultClient,
		timeout:       time.Duration(cfg.TimeoutSecs) * time.Second,
	}
}

// Lookup resolves a user-supplied string to a normalized Release. Recognized
// forms, in order: a Discogs release/master URL, a bare numeric release ID,
// and otherwise a free-text search whose best hit is fetched.
func (c *Client) Lookup(ctx context.Context, query string) (*Release, error) {
	if kind, id, err := ExtractID(query); err == nil {
		switch kind {
		case "master":
			releaseID, err := c.masterMainRelease(ctx, id)
			if err != nil {
				return nil, err
			}
			return c.ReleaseByID(ctx, releaseID)
		default:
			return c.ReleaseByID(ctx, id)
		}
	}

	if bareIDRe.MatchString(query) {
		id, err := strconv.ParseInt(query, 10, 64)
		if err == nil {
			return c.ReleaseByID(ctx, id)
		}
	}

	id, err := c.searchRelease(ctx, query)
	if err != nil {
		return nil, err
	}
	return c.ReleaseByID(ctx, id)
}

// ReleaseByID fetches and normalizes a single release.
func (c *Client) ReleaseByID(ctx context.Context, id int64) (*Release, error) {
	var raw apiRelease
	if err := c.getJSON(ctx, fmt.Sprintf(releaseEndpoint, c.apiHost, id), &raw); err != nil {
		return nil, err
	}
	rel := normalizeRelease(&raw)
	if rel.TrackCount() == 0 {
		return nil, fmt.Errorf("release %d has no playable tracks: %w", id, ErrNotFound)
	}
	return rel, nil
}

// masterMainRelease resolves a master ID to the ID of its main release.
func (c *Client) masterMainRelease(ctx context.Context, id int64) (int64, error) {
	var raw apiMaster
	if err := c.getJSON(ctx, fmt.Sprintf(masterEndpoint, c.apiHost, id), &raw); err != nil {
		return 0, err
	}
	if raw.MainRelease == 0 {
		return 0, fmt.Errorf("master %d has no main release: %w", id, ErrNotFound)
	}
	return raw.MainRelease, nil
}

// searchRelease runs a database search constrained to releases and returns
// the ID of the best hit.
func (c *Client) searchRelease(ctx context.Context, query string) (int64, error) {
	if c.token == "" {
		return 0, ErrNoAuth
	}

	endpoint := fmt.Sprintf(searchEndpoint, c.apiHost)
	q := url.Values{}
	q.Set("q", query)
	q.Set("type", "release")
	q.Set("per_page", "5")

	var page apiSearchPage
	if err := c.getJSON(ctx, endpoint+"?"+q.Encode(), &page); err != nil {
		return 0, err
	}
	for _, res := range page.Results {
		if res.ID != 0 {
			return res.ID, nil
		}
	}
	return 0, ErrNotFound
}

// CoverImage downloads the release cover art. The read is capped at the
// configured image size; callers treat any failure here as "no artwork".
func (c *Client) CoverImage(ctx context.Context, rel *Release) ([]byte, error) {
	if rel.CoverURL == "" {
		return nil, ErrImageNotFound
	}

	req, err := c.newRequest(ctx, rel.CoverURL)
	if err != nil {
		return nil, err
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("request for cover image failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, ErrImageNotFound
	}

	imgBytes, err := io.ReadAll(io.LimitReader(resp.Body, int64(c.maxImageBytes)))
	if (err == nil || errors.Is(err, io.EOF)) && len(imgBytes) == c.maxImageBytes {
		return nil, ErrImageTooBig
	}
	if err != nil {
		return nil, fmt.Errorf("reading cover image failed: %w", err)
	}
	return imgBytes, nil
}

func (c *Client) newRequest(ctx context.Context, endpoint string) (*http.Request, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return nil, fmt.Errorf("error creating Discogs API req: %w", err)
	}
	req.Header.Set("User-Agent", c.useragent)
	if c.token != "" {
		req.Header.Set("Authorization", fmt.Sprintf("Discogs token=%s", c.token))
	}
	return req, nil
}

func (c *Client) getJSON(ctx context.Context, endpoint string, out interface{}) error {
	timeout := c.timeout
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	req, err := c.newRequest(ctx, endpoint)
	if err != nil {
		return err
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrUpstream, err)
	}
	defer resp.Body.Close()

	switch {
	case resp.StatusCode == http.StatusNotFound:
		return ErrNotFound
	case resp.StatusCode != http.StatusOK:
		return fmt.Errorf("%w: Discogs returned HTTP %d", ErrUpstream, resp.StatusCode)
	}

	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("%w: unrecognised JSON: %v", ErrUpstream, err)
	}
	return nil
}
