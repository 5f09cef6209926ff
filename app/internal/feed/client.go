// Package feed pulls the published outage schedule and caches it in the ledger.
package feed

import (
	"context"
	_ "embed"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/santhosh-tekuri/jsonschema/v5"

	"powerwatch/app/internal/clock"
	"powerwatch/app/internal/schedule"
)

//go:embed schema/feed-v1.json
var feedSchemaJSON string

// maxBody caps the feed download; the real document is well under 1 MiB.
const maxBody = 8 << 20

// Document is the subset of the feed this service reads.
type Document struct {
	Fact struct {
		// Data maps unix-seconds day start -> group -> hour "1".."24" -> code.
		Data  map[string]map[string]map[string]string `json:"data"`
		Today int64                                   `json:"today"`
	} `json:"fact"`
}

// Day is one parsed schedule day of a group.
type Day struct {
	Date  string // YYYY-MM-DD local
	Slots schedule.Day
}

// Client fetches and validates the feed document.
type Client struct {
	URL    string
	HTTP   *http.Client
	schema *jsonschema.Schema
}

// NewClient creates a feed client for url.
func NewClient(url string) (*Client, error) {
	compiler := jsonschema.NewCompiler()
	if err := compiler.AddResource("feed-v1.json", strings.NewReader(feedSchemaJSON)); err != nil {
		return nil, fmt.Errorf("failed to add feed schema: %w", err)
	}
	sch, err := compiler.Compile("feed-v1.json")
	if err != nil {
		return nil, fmt.Errorf("failed to compile feed schema: %w", err)
	}
	return &Client{
		URL:    url,
		HTTP:   &http.Client{Timeout: 15 * time.Second},
		schema: sch,
	}, nil
}

// Fetch downloads the document. Transport errors, non-2xx responses and
// documents that fail validation are all returned as errors.
func (c *Client) Fetch(ctx context.Context) (*Document, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.URL, nil)
	if err != nil {
		return nil, err
	}
	req.Header.Set("Accept", "application/json")

	resp, err := c.HTTP.Do(req)
	if err != nil {
		return nil, fmt.Errorf("fetch feed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return nil, fmt.Errorf("feed http %d", resp.StatusCode)
	}

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxBody))
	if err != nil {
		return nil, fmt.Errorf("read feed: %w", err)
	}
	return c.Decode(body)
}

// Decode validates and parses a raw feed document.
func (c *Client) Decode(body []byte) (*Document, error) {
	var raw any
	if err := json.Unmarshal(body, &raw); err != nil {
		return nil, fmt.Errorf("invalid feed JSON: %w", err)
	}
	if err := c.schema.Validate(raw); err != nil {
		return nil, fmt.Errorf("feed schema validation failed: %w", err)
	}

	var doc Document
	if err := json.Unmarshal(body, &doc); err != nil {
		return nil, fmt.Errorf("decode feed: %w", err)
	}
	return &doc, nil
}

// Days returns the parsed days published for group, oldest first. Day keys are
// unix seconds of the local day start and are converted to dates in loc.
func (d *Document) Days(group string, loc *time.Location) []Day {
	var days []Day
	for key, groups := range d.Fact.Data {
		hourly, ok := groups[group]
		if !ok {
			continue
		}
		secs, err := strconv.ParseInt(key, 10, 64)
		if err != nil {
			continue
		}
		days = append(days, Day{
			Date:  clock.DateKey(time.Unix(secs, 0), loc),
			Slots: schedule.ParseDay(hourly),
		})
	}
	sort.Slice(days, func(i, j int) bool { return days[i].Date < days[j].Date })
	return days
}
