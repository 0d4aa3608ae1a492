package report

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"os"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/VladislavFirsov/reportflow/config"
	"github.com/VladislavFirsov/reportflow/contracts"
	"github.com/VladislavFirsov/reportflow/internal/logging"
	"github.com/VladislavFirsov/reportflow/internal/replacements"
)

// PipelineTrigger starts a job on a CI server and returns where the
// queued build can be followed.
type PipelineTrigger interface {
	Trigger(ctx context.Context, job string, params map[string]string) (string, error)
}

// HTTPTrigger posts to <url>/job/<job>/buildWithParameters with basic auth.
type HTTPTrigger struct {
	base   *url.URL
	user   string
	token  string
	client *http.Client
	logger *zap.Logger
}

// NewHTTPTrigger validates the server URL. A nil client gets a 30s timeout.
func NewHTTPTrigger(cfg config.Jenkins, client *http.Client, logger *zap.Logger) (*HTTPTrigger, error) {
	base, err := url.Parse(strings.TrimRight(cfg.URL, "/"))
	if err != nil || base.Scheme == "" || base.Host == "" {
		return nil, fmt.Errorf("pipeline: url %q: %w", cfg.URL, contracts.ErrArgumentValidation)
	}
	if client == nil {
		client = &http.Client{Timeout: 30 * time.Second}
	}
	return &HTTPTrigger{
		base:   base,
		user:   cfg.User,
		token:  cfg.Token,
		client: client,
		logger: logging.OrNop(logger).Named("pipeline"),
	}, nil
}

func (t *HTTPTrigger) Trigger(ctx context.Context, job string, params map[string]string) (string, error) {
	u := t.base.JoinPath("job", job, "buildWithParameters")
	form := url.Values{}
	for k, v := range params {
		form.Set(k, v)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, u.String(), strings.NewReader(form.Encode()))
	if err != nil {
		return "", fmt.Errorf("pipeline %s: %w: %v", job, contracts.ErrConnectionFailure, err)
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	if t.user != "" || t.token != "" {
		req.SetBasicAuth(t.user, t.token)
	}

	resp, err := t.client.Do(req)
	if err != nil {
		if errors.Is(err, context.Canceled) {
			return "", err
		}
		return "", fmt.Errorf("pipeline %s: %w: %v", job, contracts.ErrConnectionFailure, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 300 {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 1024))
		kind := contracts.ErrConnectionFailure
		if resp.StatusCode >= 400 && resp.StatusCode < 500 {
			kind = contracts.ErrQueryRejected
		}
		return "", fmt.Errorf("pipeline %s: status %d: %w: %s", job, resp.StatusCode, kind, strings.TrimSpace(string(body)))
	}
	location := resp.Header.Get("Location")
	t.logger.Info("pipeline triggered", zap.String("job", job), zap.String("queue", location))
	return location, nil
}

// TriggerPipeline expands the configured job parameters and triggers the job.
func TriggerPipeline(ctx context.Context, cfg *config.Config, t PipelineTrigger, reg *replacements.Registry) (string, error) {
	if cfg == nil || cfg.Jenkins == nil {
		return "", fmt.Errorf("pipeline: %w", config.ErrJenkinsInvalid)
	}
	if reg == nil {
		reg = replacements.Default()
	}
	if err := reg.Load(cfg.Replacements); err != nil {
		return "", err
	}
	job, err := reg.Replace(cfg.Jenkins.Job, nil)
	if err != nil {
		return "", err
	}
	params := make(map[string]string, len(cfg.Jenkins.Params))
	for k, v := range cfg.Jenkins.Params {
		if params[k], err = reg.Replace(v, nil); err != nil {
			return "", fmt.Errorf("pipeline parameter %s: %w", k, err)
		}
	}
	return t.Trigger(ctx, job, params)
}

// Publish writes the document as sanitised HTML to <path>.html.
func Publish(b *Build) (string, error) {
	if b == nil || b.Document == nil {
		return "", fmt.Errorf("publish: %w", contracts.ErrInvalidCallback)
	}
	html, err := b.Document.FormatForEmail()
	if err != nil {
		return "", fmt.Errorf("publish: %w", err)
	}
	path := b.Path
	if path == "" {
		path = "report"
	}
	path += ".html"
	if err := os.WriteFile(path, []byte(html), 0o644); err != nil {
		return "", fmt.Errorf("publish %s: %w", path, err)
	}
	return path, nil
}
