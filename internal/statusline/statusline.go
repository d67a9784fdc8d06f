// Package statusline wires the status subsystem together for one render
// tick: resolve the project root, load the connection config, and produce a
// classified status report for the rendering layer. Everything is
// constructed per invocation and threaded explicitly; there is no ambient
// state beyond the memoized root resolution.
package statusline

import (
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"os"
	"strings"
	"time"

	"github.com/odyssey/beacon/internal/config"
	"github.com/odyssey/beacon/internal/gitinfo"
	"github.com/odyssey/beacon/internal/projectroot"
	"github.com/odyssey/beacon/internal/remote"
	"github.com/odyssey/beacon/internal/statuscache"
	"github.com/odyssey/beacon/internal/token"
)

// RenderTick is the JSON document the host writes to the driver's stdin on
// every prompt render.
type RenderTick struct {
	SessionID        string `json:"session_id"`
	Cwd              string `json:"cwd"`
	ModelDisplayName string `json:"model_display_name"`
}

// ReadRenderTick decodes a render tick from the host. A missing or
// unparsable document yields a zero tick; the status subsystem works without
// it.
func ReadRenderTick(r io.Reader) RenderTick {
	var tick RenderTick
	_ = json.NewDecoder(r).Decode(&tick)
	return tick
}

// Report is the machine-readable document handed to the rendering layer. The
// subsystem never formats display strings itself.
type Report struct {
	ProjectPath      string               `json:"project_path"`
	ProjectMarker    string               `json:"project_marker"`
	ProjectConfident bool                 `json:"project_confident"`
	Status           remote.StatusResult  `json:"status"`
	Git              *gitinfo.Facts       `json:"git,omitempty"`
	// Message is the override message file's content; when non-empty the
	// renderer shows it ahead of the computed status.
	Message   string `json:"message,omitempty"`
	SessionID string `json:"session_id,omitempty"`
	Model     string `json:"model,omitempty"`
}

// Pipeline runs the per-invocation status determination.
type Pipeline struct {
	beaconDirpath string
	resolver      *projectroot.Resolver
	logger        *slog.Logger
}

// New creates a pipeline using the given resolver and beacon state dir.
func New(beaconDirpath string, resolver *projectroot.Resolver, logger *slog.Logger) *Pipeline {
	return &Pipeline{
		beaconDirpath: beaconDirpath,
		resolver:      resolver,
		logger:        logger,
	}
}

// Run produces the report for one render tick. It never fails: every error
// inside the subsystem is mapped to a classified status at the layer it
// occurs.
func (p *Pipeline) Run(ctx context.Context, tick RenderTick) Report {
	root := p.resolver.Resolve()

	report := Report{
		ProjectPath:      root.Path,
		ProjectMarker:    root.MatchedMarker,
		ProjectConfident: root.Confident(),
		SessionID:        tick.SessionID,
		Model:            tick.ModelDisplayName,
		Message:          p.readMessage(root.Path),
	}
	if facts, ok := gitinfo.Collect(root.Path); ok {
		report.Git = &facts
	}

	report.Status = p.determineStatus(ctx, root)
	return report
}

func (p *Pipeline) determineStatus(ctx context.Context, root projectroot.ProjectRoot) remote.StatusResult {
	cfg, err := config.LoadConnectionConfig(root.Path)
	if err != nil {
		p.logger.Warn("Connection config unusable; reporting unconfigured", "error", err)
		return remote.Unconfigured()
	}
	if !cfg.Configured() {
		return remote.Unconfigured()
	}

	store := token.NewStore(cfg.GetCredentialFilepath(root.Path), cfg.GetTokenRefreshURL(), nil, p.logger)
	client := remote.NewClient(cfg, store, p.logger)
	minFetchInterval := time.Minute / time.Duration(cfg.GetRateLimitPerMinute())
	cache := statuscache.New(config.GetStatusCacheDirpath(p.beaconDirpath), cfg.GetStatusTTL(), minFetchInterval, client, p.logger)
	return cache.Get(ctx, cfg.EndpointURL)
}

func (p *Pipeline) readMessage(projectRootPath string) string {
	data, err := os.ReadFile(config.GetStatuslineMessageFilepath(p.beaconDirpath, projectRootPath))
	if err != nil {
		return ""
	}
	return strings.TrimSpace(string(data))
}
