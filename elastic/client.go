package elastic

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/klauspost/compress/gzip"
	"github.com/valyala/fastjson"

	"github.com/reportportal/complex-migrations/migration"
)

// DefaultIndexPrefix is prepended to the project id to name each project's
// log index.
const DefaultIndexPrefix = "logs-reporting-"

const defaultTimeout = 30 * time.Second

// Config carries the connection settings for the index cluster.
type Config struct {
	// URL is the cluster base URL, e.g. "http://localhost:9200".
	URL string

	// Username/Password enable HTTP basic auth when Username is non-empty.
	Username string
	Password string

	// IndexPrefix overrides DefaultIndexPrefix when non-empty.
	IndexPrefix string

	// Gzip compresses bulk request bodies.
	Gzip bool

	// Timeout bounds each HTTP call; zero means 30s.
	Timeout time.Duration
}

// Client implements migration.IndexGateway against an Elasticsearch
// cluster.
type Client struct {
	cfg     Config
	client  *http.Client
	parsers fastjson.ParserPool
}

// NewClient builds a client for the given cluster.
func NewClient(cfg Config) *Client {
	if cfg.IndexPrefix == "" {
		cfg.IndexPrefix = DefaultIndexPrefix
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = defaultTimeout
	}
	cfg.URL = strings.TrimRight(cfg.URL, "/")
	return &Client{
		cfg:    cfg,
		client: &http.Client{Timeout: cfg.Timeout},
	}
}

// EarliestRecord returns the oldest record across all project log indices,
// or nil when no index holds any document yet.
func (c *Client) EarliestRecord(ctx context.Context) (*migration.LogRecord, error) {
	body := `{"size":1,"sort":[{"id":{"order":"asc"}}]}`
	url := c.cfg.URL + "/" + c.cfg.IndexPrefix + "*/_search"
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, strings.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("elastic: build search request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	c.authorize(req)

	resp, err := c.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("elastic: search earliest record: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusNotFound {
		// No matching index exists yet.
		return nil, nil
	}
	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("elastic: read search response: %w", err)
	}
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return nil, fmt.Errorf("elastic: search earliest record: status %d: %s", resp.StatusCode, trim(raw))
	}

	p := c.parsers.Get()
	defer c.parsers.Put(p)
	v, err := p.ParseBytes(raw)
	if err != nil {
		return nil, fmt.Errorf("elastic: parse search response: %w", err)
	}
	hits := v.GetArray("hits", "hits")
	if len(hits) == 0 {
		return nil, nil
	}
	src := hits[0].Get("_source")
	if src == nil {
		return nil, fmt.Errorf("elastic: search hit without _source")
	}
	rec := &migration.LogRecord{
		ID:       src.GetInt64("id"),
		Message:  string(src.GetStringBytes("logMessage")),
		ItemID:   src.GetInt64("itemId"),
		LaunchID: src.GetInt64("launchId"),
	}
	if ts := src.GetStringBytes("logTime"); len(ts) > 0 {
		logTime, err := time.Parse(time.RFC3339Nano, string(ts))
		if err != nil {
			return nil, fmt.Errorf("elastic: parse logTime %q: %w", ts, err)
		}
		rec.LogTime = logTime
	}
	return rec, nil
}

// BulkSave writes one page of records with a single _bulk request, one
// index action per record routed to the owning project's index. Any
// per-item failure fails the page.
func (c *Client) BulkSave(ctx context.Context, groups map[int64][]migration.LogRecord) error {
	if len(groups) == 0 {
		return nil
	}
	payload, err := c.bulkBody(groups)
	if err != nil {
		return err
	}

	var body io.Reader = payload
	if c.cfg.Gzip {
		compressed := &bytes.Buffer{}
		zw := gzip.NewWriter(compressed)
		if _, err := zw.Write(payload.Bytes()); err != nil {
			return fmt.Errorf("elastic: compress bulk body: %w", err)
		}
		if err := zw.Close(); err != nil {
			return fmt.Errorf("elastic: compress bulk body: %w", err)
		}
		body = compressed
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.cfg.URL+"/_bulk", body)
	if err != nil {
		return fmt.Errorf("elastic: build bulk request: %w", err)
	}
	req.Header.Set("Content-Type", "application/x-ndjson")
	if c.cfg.Gzip {
		req.Header.Set("Content-Encoding", "gzip")
	}
	c.authorize(req)

	resp, err := c.client.Do(req)
	if err != nil {
		return fmt.Errorf("elastic: bulk save: %w", err)
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		return fmt.Errorf("elastic: read bulk response: %w", err)
	}
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return fmt.Errorf("elastic: bulk save: status %d: %s", resp.StatusCode, trim(raw))
	}
	return c.checkBulkResponse(raw)
}

type bulkAction struct {
	Index bulkTarget `json:"index"`
}

type bulkTarget struct {
	Index string `json:"_index"`
	ID    string `json:"_id"`
}

func (c *Client) bulkBody(groups map[int64][]migration.LogRecord) (*bytes.Buffer, error) {
	buf := &bytes.Buffer{}
	enc := json.NewEncoder(buf)
	for projectID, recs := range groups {
		index := c.indexName(projectID)
		for _, rec := range recs {
			action := bulkAction{Index: bulkTarget{
				Index: index,
				ID:    strconv.FormatInt(rec.ID, 10),
			}}
			// Encode writes the trailing newline the bulk format needs.
			if err := enc.Encode(action); err != nil {
				return nil, fmt.Errorf("elastic: encode bulk action: %w", err)
			}
			if err := enc.Encode(rec); err != nil {
				return nil, fmt.Errorf("elastic: encode log record %d: %w", rec.ID, err)
			}
		}
	}
	return buf, nil
}

func (c *Client) checkBulkResponse(raw []byte) error {
	p := c.parsers.Get()
	defer c.parsers.Put(p)
	v, err := p.ParseBytes(raw)
	if err != nil {
		return fmt.Errorf("elastic: parse bulk response: %w", err)
	}
	if !v.GetBool("errors") {
		return nil
	}
	for _, item := range v.GetArray("items") {
		idx := item.Get("index")
		if idx == nil || idx.Get("error") == nil {
			continue
		}
		return fmt.Errorf("elastic: bulk save rejected document %s in %s: %s",
			idx.GetStringBytes("_id"), idx.GetStringBytes("_index"), idx.Get("error").String())
	}
	return fmt.Errorf("elastic: bulk save reported errors")
}

func (c *Client) indexName(projectID int64) string {
	return c.cfg.IndexPrefix + strconv.FormatInt(projectID, 10)
}

func (c *Client) authorize(req *http.Request) {
	if c.cfg.Username != "" {
		req.SetBasicAuth(c.cfg.Username, c.cfg.Password)
	}
}

func trim(raw []byte) string {
	const max = 256
	s := strings.TrimSpace(string(raw))
	if len(s) > max {
		return s[:max] + "..."
	}
	return s
}

var _ migration.IndexGateway = (*Client)(nil)
