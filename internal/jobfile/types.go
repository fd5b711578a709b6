package jobfile

import (
	"strings"
)

// EmailPolicy controls when the grid's mail agent notifies the tool
// maintainers about a job. The policy is metadata: jobgrid records it on the
// submitted object, delivery is the runner's concern.
type EmailPolicy string

const (
	EmailsNone      EmailPolicy = "none"
	EmailsOnFailure EmailPolicy = "onfailure"
	EmailsOnFinish  EmailPolicy = "onfinish"
	EmailsAll       EmailPolicy = "all"
)

// Spec is one declarative job record from the jobs file.
//
// A job is exactly one of:
//   - scheduled:  Schedule is a cron expression
//   - continuous: Continuous is true (always-on, restarted by the runner)
//   - one-off:    neither set; runs once when loaded or triggered manually
type Spec struct {
	Name    string `json:"name"`
	Command string `json:"command"`
	Image   string `json:"image"`

	Schedule   string `json:"schedule,omitempty"`
	Continuous bool   `json:"continuous,omitempty"`

	// Emails is the notification policy (none/onfailure/onfinish/all).
	// Empty means none.
	Emails EmailPolicy `json:"emails,omitempty"`

	// NoFilelog disables stdout/stderr file logging entirely.
	NoFilelog bool `json:"no-filelog,omitempty"`
	// FilelogStdout/FilelogStderr override the default <name>.out / <name>.err
	// paths, relative to the tool's working directory.
	FilelogStdout string `json:"filelog-stdout,omitempty"`
	FilelogStderr string `json:"filelog-stderr,omitempty"`

	// Mem and CPU are Kubernetes resource quantities (e.g. "512Mi", "500m").
	Mem string `json:"mem,omitempty"`
	CPU string `json:"cpu,omitempty"`

	// Retry is the number of times a failed run is retried (0..5).
	// Only meaningful for scheduled and one-off jobs.
	Retry int `json:"retry,omitempty"`
}

// Kind classifies a spec by how the runner executes it.
type Kind string

const (
	KindScheduled  Kind = "scheduled"
	KindContinuous Kind = "continuous"
	KindOneOff     Kind = "one-off"
)

func (s Spec) Kind() Kind {
	switch {
	case strings.TrimSpace(s.Schedule) != "":
		return KindScheduled
	case s.Continuous:
		return KindContinuous
	default:
		return KindOneOff
	}
}

// StdoutLog returns the effective stdout log path ("" when filelog is off).
func (s Spec) StdoutLog() string {
	if s.NoFilelog {
		return ""
	}
	if p := strings.TrimSpace(s.FilelogStdout); p != "" {
		return p
	}
	return s.Name + ".out"
}

// StderrLog returns the effective stderr log path ("" when filelog is off).
func (s Spec) StderrLog() string {
	if s.NoFilelog {
		return ""
	}
	if p := strings.TrimSpace(s.FilelogStderr); p != "" {
		return p
	}
	return s.Name + ".err"
}

// EmailsOrDefault normalizes an unset policy to none.
func (s Spec) EmailsOrDefault() EmailPolicy {
	if strings.TrimSpace(string(s.Emails)) == "" {
		return EmailsNone
	}
	return s.Emails
}
