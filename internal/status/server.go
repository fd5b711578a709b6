// Package status serves the read-only HTTP API: the desired jobs from the
// file, their live state on the grid, and the recorded run/audit history.
// Mutations go through the CLI, never through this server.
package status

import (
	"context"
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"

	"jobgrid/internal/grid"
	"jobgrid/internal/jobfile"
	"jobgrid/internal/storage"
	logx "jobgrid/pkg/logx"
)

const defaultHistoryLimit = 50

type Options struct {
	Addr         string
	ReadTimeout  time.Duration
	WriteTimeout time.Duration
	IdleTimeout  time.Duration
	HistoryLimit int
}

func (o Options) withDefaults() Options {
	if o.Addr == "" {
		o.Addr = "127.0.0.1:8941"
	}
	if o.HistoryLimit <= 0 {
		o.HistoryLimit = defaultHistoryLimit
	}
	return o
}

type Server struct {
	manager *jobfile.Manager
	backend grid.Backend
	store   storage.Store // nil when storage is disabled
	log     logx.Logger
	opts    Options
}

func NewServer(mgr *jobfile.Manager, backend grid.Backend, store storage.Store, log logx.Logger, opts Options) *Server {
	if log.IsZero() {
		log = logx.Nop()
	}
	return &Server{
		manager: mgr,
		backend: backend,
		store:   store,
		log:     log.With(logx.String("comp", "status")),
		opts:    opts.withDefaults(),
	}
}

// JobView is one job as reported by the API: the desired record plus,
// when present, its live grid state.
type JobView struct {
	Name     string `json:"name"`
	Kind     string `json:"kind"`
	Image    string `json:"image,omitempty"`
	Schedule string `json:"schedule,omitempty"`
	Emails   string `json:"emails,omitempty"`
	SpecHash string `json:"spec_hash,omitempty"`

	FilelogStdout string `json:"filelog_stdout,omitempty"`
	FilelogStderr string `json:"filelog_stderr,omitempty"`

	// Orphan marks a managed grid object with no record in the jobs file.
	Orphan bool `json:"orphan,omitempty"`

	Live *LiveView `json:"live,omitempty"`
}

type LiveView struct {
	Phase   string     `json:"phase"`
	Active  int        `json:"active"`
	InSync  bool       `json:"in_sync"`
	LastRun *time.Time `json:"last_run,omitempty"`
	NextRun *time.Time `json:"next_run,omitempty"`
	Message string     `json:"message,omitempty"`
}

type jobDetail struct {
	JobView
	Runs []storage.Run `json:"runs,omitempty"`
}

func (s *Server) router() *echo.Echo {
	e := echo.New()
	e.HideBanner = true
	e.HidePort = true
	e.Use(middleware.Recover())

	e.GET("/healthz", s.healthz)
	api := e.Group("/api/v1")
	api.GET("/jobs", s.listJobs)
	api.GET("/jobs/:name", s.getJob)
	api.GET("/history", s.history)
	return e
}

// Run serves until ctx is canceled.
func (s *Server) Run(ctx context.Context) error {
	e := s.router()
	srv := &http.Server{
		Addr:         s.opts.Addr,
		ReadTimeout:  s.opts.ReadTimeout,
		WriteTimeout: s.opts.WriteTimeout,
		IdleTimeout:  s.opts.IdleTimeout,
	}

	done := make(chan struct{})
	go func() {
		defer close(done)
		<-ctx.Done()
		shutCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = e.Shutdown(shutCtx)
	}()

	s.log.Info("status API listening", logx.String("addr", s.opts.Addr))
	err := e.StartServer(srv)
	<-done
	if errors.Is(err, http.ErrServerClosed) {
		return nil
	}
	return err
}

func (s *Server) healthz(c echo.Context) error {
	return c.JSON(http.StatusOK, map[string]string{"status": "ok"})
}

func (s *Server) listJobs(c echo.Context) error {
	ctx := c.Request().Context()
	live, err := s.backend.List(ctx)
	if err != nil {
		s.log.Warn("grid list failed", logx.Err(err))
		return echo.NewHTTPError(http.StatusBadGateway, "grid unavailable")
	}
	liveByName := make(map[string]grid.LiveJob, len(live))
	for _, lj := range live {
		liveByName[lj.Name] = lj
	}

	specs := s.manager.Get()
	views := make([]JobView, 0, len(specs))
	seen := make(map[string]bool, len(specs))
	for _, spec := range specs {
		seen[spec.Name] = true
		v := specView(spec)
		if lj, ok := liveByName[spec.Name]; ok {
			v.Live = liveView(lj, v.SpecHash)
		}
		views = append(views, v)
	}
	for _, lj := range live {
		if seen[lj.Name] {
			continue
		}
		v := JobView{
			Name:     lj.Name,
			Kind:     string(lj.Kind),
			Image:    lj.Image,
			SpecHash: lj.SpecHash,
			Orphan:   true,
		}
		v.Live = liveView(lj, "")
		views = append(views, v)
	}
	return c.JSON(http.StatusOK, views)
}

func (s *Server) getJob(c echo.Context) error {
	ctx := c.Request().Context()
	name := c.Param("name")

	var view JobView
	found := false
	for _, spec := range s.manager.Get() {
		if spec.Name == name {
			view = specView(spec)
			found = true
			break
		}
	}

	lj, err := s.backend.Get(ctx, name)
	switch {
	case err == nil:
		if !found {
			view = JobView{Name: lj.Name, Kind: string(lj.Kind), Image: lj.Image, SpecHash: lj.SpecHash, Orphan: true}
			found = true
		}
		view.Live = liveView(*lj, view.SpecHash)
	case errors.Is(err, grid.ErrNotFound):
		// file-only job; fine
	default:
		s.log.Warn("grid get failed", logx.String("job", name), logx.Err(err))
		return echo.NewHTTPError(http.StatusBadGateway, "grid unavailable")
	}

	if !found {
		return echo.NewHTTPError(http.StatusNotFound, "unknown job: "+name)
	}

	detail := jobDetail{JobView: view}
	if s.store != nil {
		runs, err := s.store.RecentRuns(ctx, name, s.opts.HistoryLimit)
		if err != nil {
			s.log.Warn("run history read failed", logx.String("job", name), logx.Err(err))
		} else {
			detail.Runs = runs
		}
	}
	return c.JSON(http.StatusOK, detail)
}

func (s *Server) history(c echo.Context) error {
	if s.store == nil {
		return echo.NewHTTPError(http.StatusServiceUnavailable, "storage disabled")
	}
	limit := s.opts.HistoryLimit
	if raw := c.QueryParam("limit"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n <= 0 {
			return echo.NewHTTPError(http.StatusBadRequest, "bad limit")
		}
		if n < limit {
			limit = n
		}
	}

	ctx := c.Request().Context()
	if job := c.QueryParam("job"); job != "" {
		runs, err := s.store.RecentRuns(ctx, job, limit)
		if err != nil {
			return echo.NewHTTPError(http.StatusInternalServerError, "history read failed")
		}
		return c.JSON(http.StatusOK, runs)
	}
	entries, err := s.store.RecentAudit(ctx, limit)
	if err != nil {
		return echo.NewHTTPError(http.StatusInternalServerError, "history read failed")
	}
	return c.JSON(http.StatusOK, entries)
}

func specView(spec jobfile.Spec) JobView {
	return JobView{
		Name:          spec.Name,
		Kind:          string(spec.Kind()),
		Image:         spec.Image,
		Schedule:      spec.Schedule,
		Emails:        string(spec.EmailsOrDefault()),
		SpecHash:      jobfile.Hash(spec),
		FilelogStdout: spec.StdoutLog(),
		FilelogStderr: spec.StderrLog(),
	}
}

func liveView(lj grid.LiveJob, wantHash string) *LiveView {
	v := &LiveView{
		Phase:   lj.Status.Phase,
		Active:  lj.Status.Active,
		InSync:  wantHash != "" && lj.SpecHash == wantHash,
		Message: lj.Status.Message,
	}
	if !lj.Status.LastRun.IsZero() {
		t := lj.Status.LastRun
		v.LastRun = &t
	}
	if !lj.Status.NextRun.IsZero() {
		t := lj.Status.NextRun
		v.NextRun = &t
	}
	return v
}
