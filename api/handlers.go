package api

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/VladislavFirsov/reportflow/config"
	"github.com/VladislavFirsov/reportflow/contracts"
	"github.com/VladislavFirsov/reportflow/internal/logging"
	"github.com/VladislavFirsov/reportflow/internal/replacements"
	"github.com/VladislavFirsov/reportflow/internal/report"
)

// maxRequestBodySize limits the size of incoming request bodies (4MB).
const maxRequestBodySize = 4 * 1024 * 1024

// buildRetention controls how long finished builds are kept in memory.
const buildRetention = time.Hour

// Options configures the handlers.
type Options struct {
	Logger *zap.Logger
	// AuditDir receives one JSON file per finished build; empty disables it.
	AuditDir string
	// WorkDir resolves relative paths of submitted configurations.
	WorkDir string
	// AllowCommands permits configurations that run shell commands.
	AllowCommands bool
	// Parallelism overrides policy.max_parallelism when positive.
	Parallelism int
	HTTPClient  *http.Client
}

// Handlers contains the HTTP handler methods for the API.
type Handlers struct {
	store  *BuildStore
	opts   Options
	logger *zap.Logger
}

// NewHandlers creates a new Handlers instance.
func NewHandlers(store *BuildStore, opts Options) *Handlers {
	return &Handlers{
		store:  store,
		opts:   opts,
		logger: logging.OrNop(opts.Logger).Named("api"),
	}
}

// HandleStartBuild handles POST /api/v1/builds. The body is a report
// configuration, JSON or YAML by Content-Type. An optional ?id= fixes
// the build ID.
func (h *Handlers) HandleStartBuild(w http.ResponseWriter, r *http.Request) {
	// Parse request body with size limit to prevent memory exhaustion
	body, err := io.ReadAll(io.LimitReader(r.Body, maxRequestBodySize+1))
	if err != nil {
		WriteError(w, fmt.Errorf("failed to read request body: %w", contracts.ErrInvalidInput))
		return
	}
	if len(body) > maxRequestBodySize {
		WriteError(w, fmt.Errorf("request body too large (max %d bytes): %w", maxRequestBodySize, contracts.ErrInvalidInput))
		return
	}

	cfg, err := h.parseConfig(r, body)
	if err != nil {
		WriteError(w, err)
		return
	}
	if !h.opts.AllowCommands && runsCommands(cfg) {
		WriteError(w, ErrCommandsDisabled)
		return
	}

	id := uuid.New()
	if raw := r.URL.Query().Get("id"); raw != "" {
		if id, err = uuid.Parse(raw); err != nil {
			WriteError(w, fmt.Errorf("build id %q: %w", raw, contracts.ErrInvalidInput))
			return
		}
	}
	buildID := contracts.BuildID(id.String())
	if _, exists := h.store.Get(buildID); exists {
		WriteError(w, fmt.Errorf("build %s: %w", buildID, ErrBuildExists))
		return
	}

	// Submitted configurations cannot read the server environment.
	reg := replacements.NewRegistry()
	reg.Getenv = func(string) (string, bool) { return "", false }
	builder, err := report.NewBuilder(cfg, report.Options{
		Logger:       h.opts.Logger,
		Replacements: reg,
		Parallelism:  h.opts.Parallelism,
		HTTPClient:   h.opts.HTTPClient,
		ID:           id,
	})
	if err != nil {
		WriteError(w, err)
		return
	}

	ctx, cancel := context.WithCancel(context.Background())
	if err := h.store.Create(buildID, builder.Title(), builder.Scheduler().Snapshot, cancel); err != nil {
		cancel()
		WriteError(w, err)
		return
	}

	// Best-effort cleanup of old finished builds
	h.store.PruneCompleted(buildRetention)

	go h.runBuild(ctx, buildID, builder)

	snap, _ := h.store.GetSnapshot(buildID)
	w.Header().Set("Content-Type", "application/json")
	w.Header().Set("Location", "/api/v1/builds/"+string(buildID))
	w.WriteHeader(http.StatusAccepted)
	writeJSON(w, SnapshotToResponse(snap))
}

func (h *Handlers) parseConfig(r *http.Request, body []byte) (*config.Config, error) {
	loader := config.NewLoader()
	var (
		cfg *config.Config
		err error
	)
	if strings.Contains(r.Header.Get("Content-Type"), "yaml") {
		cfg, err = loader.LoadFromYAML(body)
	} else {
		cfg, err = loader.LoadFromBytes(body)
	}
	if err != nil {
		return nil, err
	}
	for _, p := range []string{cfg.Report.Path, cfg.Report.DataPath} {
		if p != "" && !filepath.IsLocal(p) {
			return nil, fmt.Errorf("path %q leaves the work directory: %w", p, contracts.ErrInvalidInput)
		}
	}
	cfg.Dir = h.opts.WorkDir
	return cfg, nil
}

// runsCommands reports whether building cfg would execute shell commands.
func runsCommands(cfg *config.Config) bool {
	if cfg.Manager == "command" {
		return true
	}
	for _, sec := range cfg.Report.Sections {
		for _, st := range sec.Structure {
			if st.Type == config.TypeCommand {
				return true
			}
		}
	}
	return false
}

// HandleGetStatus handles GET /api/v1/builds/{id}.
func (h *Handlers) HandleGetStatus(w http.ResponseWriter, r *http.Request) {
	buildID := r.PathValue("id")
	if buildID == "" {
		WriteError(w, fmt.Errorf("missing build ID: %w", contracts.ErrInvalidInput))
		return
	}

	snap, exists := h.store.GetSnapshot(contracts.BuildID(buildID))
	if !exists {
		WriteError(w, fmt.Errorf("build %s: %w", buildID, contracts.ErrRunNotFound))
		return
	}

	w.Header().Set("Content-Type", "application/json")
	writeJSON(w, SnapshotToResponse(snap))
}

// HandleAbort handles POST /api/v1/builds/{id}/abort.
func (h *Handlers) HandleAbort(w http.ResponseWriter, r *http.Request) {
	buildID := r.PathValue("id")
	if buildID == "" {
		WriteError(w, fmt.Errorf("missing build ID: %w", contracts.ErrInvalidInput))
		return
	}

	if err := h.store.Abort(contracts.BuildID(buildID)); err != nil {
		WriteError(w, err)
		return
	}

	snap, exists := h.store.GetSnapshot(contracts.BuildID(buildID))
	if !exists {
		WriteError(w, fmt.Errorf("build %s: %w", buildID, contracts.ErrRunNotFound))
		return
	}

	w.Header().Set("Content-Type", "application/json")
	writeJSON(w, SnapshotToResponse(snap))
}

// HandleGetDocument handles GET /api/v1/builds/{id}/document. The
// document is served as Markdown, or as sanitised HTML with ?format=html.
func (h *Handlers) HandleGetDocument(w http.ResponseWriter, r *http.Request) {
	buildID := r.PathValue("id")
	if buildID == "" {
		WriteError(w, fmt.Errorf("missing build ID: %w", contracts.ErrInvalidInput))
		return
	}

	build, err := h.store.Build(contracts.BuildID(buildID))
	if err != nil {
		WriteError(w, err)
		return
	}

	if r.URL.Query().Get("format") == "html" {
		html, err := build.Document.FormatForEmail()
		if err != nil {
			WriteError(w, err)
			return
		}
		w.Header().Set("Content-Type", "text/html; charset=utf-8")
		_, _ = io.WriteString(w, html)
		return
	}

	md, ok := build.Document.(fmt.Stringer)
	if !ok {
		WriteError(w, fmt.Errorf("build %s: renderer keeps no document: %w", buildID, contracts.ErrInvalidCallback))
		return
	}
	w.Header().Set("Content-Type", "text/markdown; charset=utf-8")
	_, _ = io.WriteString(w, md.String())
}

// runBuild runs one build in its own goroutine. Handlers read the live
// task states through the scheduler snapshot until MarkDone stores the
// final Build.
func (h *Handlers) runBuild(ctx context.Context, id contracts.BuildID, builder *report.Builder) {
	h.store.SetState(id, contracts.RunRunning)

	build, err := builder.Run(ctx)
	h.store.MarkDone(id, build, err)

	log := h.logger.With(zap.String("build", string(id)))
	switch {
	case err != nil:
		log.Warn("build aborted", zap.Error(err))
	case build.Err() != nil:
		log.Warn("build finished with failures", zap.Int("failures", len(build.Failures())))
	default:
		log.Info("build finished", zap.String("path", build.Path))
	}

	if h.opts.AuditDir != "" {
		h.writeAuditFile(id)
	}
}

// writeAuditFile writes the build status to a JSON file in the configured audit directory.
func (h *Handlers) writeAuditFile(id contracts.BuildID) {
	log := h.logger.Named("audit").With(zap.String("build", string(id)))
	snap, exists := h.store.GetSnapshot(id)
	if !exists {
		log.Warn("cannot write audit file, build not found")
		return
	}

	data, err := json.MarshalIndent(SnapshotToResponse(snap), "", "  ")
	if err != nil {
		log.Error("failed to marshal audit JSON", zap.Error(err))
		return
	}

	if err := os.MkdirAll(h.opts.AuditDir, 0o755); err != nil {
		log.Error("failed to create audit dir", zap.String("dir", h.opts.AuditDir), zap.Error(err))
		return
	}
	filename := filepath.Join(h.opts.AuditDir, fmt.Sprintf("build-%s.json", id))
	if err := os.WriteFile(filename, data, 0o644); err != nil {
		log.Error("failed to write audit file", zap.String("path", filename), zap.Error(err))
		return
	}

	log.Info("audit file written", zap.String("path", filename))
}

// writeJSON writes a JSON response.
func writeJSON(w http.ResponseWriter, v any) {
	// The status line is already written; an encoding error cannot be reported.
	_ = json.NewEncoder(w).Encode(v)
}
