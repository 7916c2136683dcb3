// Package workshop keeps downloaded workshop items current and hands
// packaged builds to an external uploader.
package workshop

import (
	"context"
	"encoding/xml"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/leapstack-labs/laspad/internal/project"
)

// DefaultDetailsURL returns item details as XML; %d is the decimal item ID.
const DefaultDetailsURL = "http://mods.ns2cdt.com/ISteamRemoteStorage/GetPublishedFileDetails/V0001?format=xml&publishedfileid=%d"

// Details is what the details endpoint reports about an item.
type Details struct {
	Item        project.ItemID
	FileURL     string
	TimeUpdated uint64
}

// UpdatedAt returns TimeUpdated as a time.
func (d Details) UpdatedAt() time.Time {
	return time.Unix(int64(d.TimeUpdated), 0).UTC() //nolint:gosec // unix seconds fit in int64
}

type detailsDocument struct {
	File struct {
		ID          uint64 `xml:"publishedfileid"`
		FileURL     string `xml:"file_url"`
		TimeUpdated uint64 `xml:"time_updated"`
	} `xml:"publishedfiledetails>publishedfile"`
}

// Client talks to the details endpoint and downloads item archives.
type Client struct {
	HTTP *http.Client
	// DetailsURL is a format string taking the decimal item ID.
	DetailsURL string
}

// NewClient returns a client for the default endpoint.
func NewClient() *Client {
	return &Client{
		HTTP:       &http.Client{Timeout: 5 * time.Minute},
		DetailsURL: DefaultDetailsURL,
	}
}

// Details fetches the details of item.
func (c *Client) Details(ctx context.Context, item project.ItemID) (*Details, error) {
	url := fmt.Sprintf(c.DetailsURL, uint64(item))
	body, err := c.get(ctx, url)
	if err != nil {
		return nil, fmt.Errorf("could not download details of %s: %w", item, err)
	}
	defer func() { _ = body.Close() }()

	var doc detailsDocument
	if err := xml.NewDecoder(body).Decode(&doc); err != nil {
		return nil, fmt.Errorf("could not parse details of %s: %w", item, err)
	}
	if doc.File.FileURL == "" {
		return nil, fmt.Errorf("details of %s carry no file URL", item)
	}

	return &Details{
		Item:        item,
		FileURL:     doc.File.FileURL,
		TimeUpdated: doc.File.TimeUpdated,
	}, nil
}

// Download streams url into w.
func (c *Client) Download(ctx context.Context, url string, w io.Writer) (int64, error) {
	body, err := c.get(ctx, url)
	if err != nil {
		return 0, err
	}
	defer func() { _ = body.Close() }()

	n, err := io.Copy(w, body)
	if err != nil {
		return n, fmt.Errorf("failed to read %s: %w", url, err)
	}
	return n, nil
}

func (c *Client) get(ctx context.Context, url string) (io.ReadCloser, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, err
	}

	httpClient := c.HTTP
	if httpClient == nil {
		httpClient = http.DefaultClient
	}
	resp, err := httpClient.Do(req)
	if err != nil {
		return nil, err
	}
	if resp.StatusCode != http.StatusOK {
		_ = resp.Body.Close()
		return nil, fmt.Errorf("GET %s: %s", url, resp.Status)
	}
	return resp.Body, nil
}
