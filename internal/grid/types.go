package grid

import (
	"context"
	"errors"
	"time"

	"jobgrid/internal/jobfile"
)

// Object metadata stamped on everything jobgrid creates. The managed-by
// label marks top-level objects only, so listing never picks up the child
// Jobs a CronJob spawns.
const (
	ManagedByLabel = "app.kubernetes.io/managed-by"
	ManagedByValue = "jobgrid"

	NameLabel    = "jobgrid/name"
	ToolLabel    = "jobgrid/tool"
	TriggerLabel = "jobgrid/trigger"

	SpecHashAnnotation      = "jobgrid/spec-hash"
	EmailsAnnotation        = "jobgrid/emails"
	FilelogStdoutAnnotation = "jobgrid/filelog-stdout"
	FilelogStderrAnnotation = "jobgrid/filelog-stderr"
)

// Action reports what Apply did for one spec.
type Action string

const (
	ActionCreated   Action = "created"
	ActionUpdated   Action = "updated"
	ActionUnchanged Action = "unchanged"
)

// Phase summarizes a job's live state on the grid.
const (
	PhaseWaiting = "waiting" // scheduled, not currently active
	PhaseRunning = "running"
	PhaseOK      = "ok"     // last/only run succeeded
	PhaseFailed  = "failed" // last/only run failed
	PhaseUnknown = "unknown"
)

var (
	ErrNotFound       = errors.New("job not found on grid")
	ErrNotRestartable = errors.New("only continuous jobs can be restarted")
)

// LiveJob is one managed object currently present on the grid.
type LiveJob struct {
	Name     string
	Kind     jobfile.Kind
	SpecHash string
	Image    string
	Status   JobStatus
}

// JobStatus is derived from the owning object's status fields.
type JobStatus struct {
	Phase   string
	Active  int
	LastRun time.Time
	NextRun time.Time // scheduled jobs only
	Message string
}

// Backend is the external runner interface. All scheduling, retrying, and
// timeout enforcement happens behind it; jobgrid only declares state.
type Backend interface {
	Apply(ctx context.Context, spec jobfile.Spec) (Action, error)
	Delete(ctx context.Context, name string) error
	DeleteAll(ctx context.Context) (int, error)
	List(ctx context.Context) ([]LiveJob, error)
	Get(ctx context.Context, name string) (*LiveJob, error)

	// TriggerRun submits a one-off run of a (usually scheduled) spec and
	// returns the created object name.
	TriggerRun(ctx context.Context, spec jobfile.Spec) (string, error)

	// RunPhase reports the phase of a run object created by TriggerRun
	// (PhaseRunning until the object reaches PhaseOK or PhaseFailed).
	RunPhase(ctx context.Context, objectName string) (string, error)

	// Restart bounces the pods of a continuous job.
	Restart(ctx context.Context, name string) error
}
