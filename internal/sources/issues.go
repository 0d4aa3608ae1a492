package sources

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"slices"
	"strconv"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/VladislavFirsov/reportflow/contracts"
	"github.com/VladislavFirsov/reportflow/internal/results"
)

// DefaultPageSize is the page size of unbounded issue searches.
const DefaultPageSize = 50

// Issue is one tracker issue with its raw fields.
type Issue struct {
	Key    string         `json:"key"`
	Fields map[string]any `json:"fields"`
}

// IssuePage is one page of search results.
type IssuePage struct {
	StartAt    int     `json:"startAt"`
	MaxResults int     `json:"maxResults"`
	Total      int     `json:"total"`
	Issues     []Issue `json:"issues"`
}

// IssueClient is the tracker back-end.
type IssueClient interface {
	Search(ctx context.Context, jql string, startAt, maxResults int, fields []string) (*IssuePage, error)
	Projects(ctx context.Context) ([]string, error)
}

// IssuesParams are the parameters of the "issues" manager.
type IssuesParams struct {
	Server    string `json:"server"`
	User      string `json:"user,omitempty"`
	Token     string `json:"token,omitempty"`
	PageSize  int    `json:"page_size,omitempty"`
	TimeoutMS int    `json:"timeout_ms,omitempty"`
}

// Issues serves searches from an issue tracker.
type Issues struct {
	client   IssueClient
	server   string
	pageSize int
	logger   *zap.Logger
}

func newIssuesFromParams(params json.RawMessage, deps Deps) (DataSource, error) {
	var p IssuesParams
	if err := decodeParams(params, &p); err != nil {
		return nil, fmt.Errorf("issues: %w", err)
	}
	client, err := NewRESTClient(p, deps.HTTPClient)
	if err != nil {
		return nil, err
	}
	return NewIssues(client, p.Server, p.PageSize, deps), nil
}

// NewIssues wraps client. A non-positive page size means DefaultPageSize.
func NewIssues(client IssueClient, server string, pageSize int, deps Deps) *Issues {
	if pageSize <= 0 {
		pageSize = DefaultPageSize
	}
	return &Issues{client: client, server: server, pageSize: pageSize, logger: deps.logger("issues")}
}

func (s *Issues) Server() string { return s.server }

func (s *Issues) Projects(ctx context.Context) ([]string, error) {
	return s.client.Projects(ctx)
}

// Search pages through the tracker until req.Limit issues, or all of
// them when the limit is 0, have been read.
func (s *Issues) Search(ctx context.Context, req Request) (results.Result, error) {
	rs := results.NewResultSet(req.Query)
	for start := 0; ; {
		size := s.pageSize
		if req.Limit > 0 {
			size = min(size, req.Limit-rs.Len())
		}
		page, err := s.client.Search(ctx, req.Query, start, size, req.Fields)
		if err != nil {
			return nil, err
		}
		for _, is := range page.Issues {
			if err := rs.Append(issueRecord(is)); err != nil {
				return nil, err
			}
		}
		start += len(page.Issues)
		s.logger.Debug("page",
			zap.String("query", req.Query),
			zap.Int("start", page.StartAt),
			zap.Int("read", start),
			zap.Int("total", page.Total))
		if len(page.Issues) == 0 || start >= page.Total || (req.Limit > 0 && rs.Len() >= req.Limit) {
			break
		}
	}
	return shape(rs, Request{Fields: req.Fields, GroupBy: req.GroupBy}), nil
}

// issueRecord flattens an issue: the key first, then the fields in name
// order. Object fields are reduced to their display value.
func issueRecord(is Issue) *results.MapRecord {
	names := make([]string, 0, len(is.Fields))
	for n := range is.Fields {
		names = append(names, n)
	}
	slices.Sort(names)
	keys := append([]string{"key"}, names...)
	values := []any{is.Key}
	for _, n := range names {
		values = append(values, displayValue(is.Fields[n]))
	}
	return results.NewRecord(keys, values)
}

func displayValue(v any) any {
	switch v := v.(type) {
	case map[string]any:
		for _, k := range []string{"displayName", "name", "value", "key"} {
			if s, ok := v[k]; ok {
				return s
			}
		}
		return nil
	case []any:
		out := make([]any, len(v))
		for i, e := range v {
			out[i] = displayValue(e)
		}
		return out
	}
	return v
}

// RESTClient talks to the tracker's REST API with basic auth.
type RESTClient struct {
	base  *url.URL
	user  string
	token string
	http  *http.Client
}

// NewRESTClient validates the server URL. A nil client gets one with the
// configured timeout (30s by default).
func NewRESTClient(p IssuesParams, client *http.Client) (*RESTClient, error) {
	if p.Server == "" {
		return nil, fmt.Errorf("issues: server required: %w", contracts.ErrArgumentValidation)
	}
	base, err := url.Parse(strings.TrimRight(p.Server, "/"))
	if err != nil || base.Scheme == "" || base.Host == "" {
		return nil, fmt.Errorf("issues: server %q: %w", p.Server, contracts.ErrArgumentValidation)
	}
	if client == nil {
		timeout := 30 * time.Second
		if p.TimeoutMS > 0 {
			timeout = time.Duration(p.TimeoutMS) * time.Millisecond
		}
		client = &http.Client{Timeout: timeout}
	}
	return &RESTClient{base: base, user: p.User, token: p.Token, http: client}, nil
}

func (c *RESTClient) Search(ctx context.Context, jql string, startAt, maxResults int, fields []string) (*IssuePage, error) {
	q := url.Values{}
	q.Set("jql", jql)
	q.Set("startAt", strconv.Itoa(startAt))
	q.Set("maxResults", strconv.Itoa(maxResults))
	if len(fields) > 0 {
		q.Set("fields", strings.Join(fields, ","))
	}
	var page IssuePage
	if err := c.get(ctx, "/rest/api/2/search", q, &page); err != nil {
		return nil, err
	}
	return &page, nil
}

func (c *RESTClient) Projects(ctx context.Context) ([]string, error) {
	var projects []struct {
		Key string `json:"key"`
	}
	if err := c.get(ctx, "/rest/api/2/project", nil, &projects); err != nil {
		return nil, err
	}
	keys := make([]string, len(projects))
	for i, p := range projects {
		keys[i] = p.Key
	}
	return keys, nil
}

func (c *RESTClient) get(ctx context.Context, path string, q url.Values, out any) error {
	u := c.base.JoinPath(path)
	u.RawQuery = q.Encode()
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u.String(), nil)
	if err != nil {
		return fmt.Errorf("%w: %v", contracts.ErrConnectionFailure, err)
	}
	req.Header.Set("Accept", "application/json")
	if c.user != "" || c.token != "" {
		req.SetBasicAuth(c.user, c.token)
	}

	resp, err := c.http.Do(req)
	if err != nil {
		if errors.Is(err, context.Canceled) {
			return err
		}
		return fmt.Errorf("%s: %w: %v", path, contracts.ErrConnectionFailure, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 300 {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 1024))
		kind := contracts.ErrConnectionFailure
		if resp.StatusCode >= 400 && resp.StatusCode < 500 {
			kind = contracts.ErrQueryRejected
		}
		return fmt.Errorf("%s: status %d: %w: %s", path, resp.StatusCode, kind, strings.TrimSpace(string(body)))
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("%s: decode: %w: %v", path, contracts.ErrConnectionFailure, err)
	}
	return nil
}
