package jobfile

import (
	"errors"
	"fmt"
	"strings"

	"k8s.io/apimachinery/pkg/api/resource"
	"k8s.io/apimachinery/pkg/util/validation"
)

const maxRetry = 5

// ValidateOptions tweaks file validation.
type ValidateOptions struct {
	// AllowedImages restricts the image field to the given names.
	// Entries may end with "*" for a prefix match. Empty = no restriction.
	AllowedImages []string
}

// Validate checks a whole jobs file for well-formedness:
// unique names, valid names/commands/images, parseable schedules,
// schedule/continuous exclusivity, known email policies, parseable
// resource quantities, and a sane retry count.
//
// All problems are reported at once (joined errors), so an operator fixing
// a file sees the complete list in a single run.
func Validate(specs []Spec, opts ValidateOptions) error {
	var errs []error

	seen := make(map[string]struct{}, len(specs))
	for i, s := range specs {
		at := func(format string, args ...any) error {
			return fmt.Errorf("job %s: %s", specName(s, i), fmt.Sprintf(format, args...))
		}

		name := strings.TrimSpace(s.Name)
		if name == "" {
			errs = append(errs, at("name is required"))
		} else {
			if _, dup := seen[name]; dup {
				errs = append(errs, at("duplicate name"))
			}
			seen[name] = struct{}{}
			// Job names become object names on the grid.
			if msgs := validation.IsDNS1123Label(name); len(msgs) > 0 {
				errs = append(errs, at("invalid name: %s", strings.Join(msgs, "; ")))
			}
		}

		if strings.TrimSpace(s.Command) == "" {
			errs = append(errs, at("command is required"))
		}

		if strings.TrimSpace(s.Image) == "" {
			errs = append(errs, at("image is required"))
		} else if !imageAllowed(s.Image, opts.AllowedImages) {
			errs = append(errs, at("image %q is not in the allowed list", s.Image))
		}

		if strings.TrimSpace(s.Schedule) != "" && s.Continuous {
			errs = append(errs, at("schedule and continuous are mutually exclusive"))
		}
		if strings.TrimSpace(s.Schedule) != "" {
			if _, err := ParseSchedule(s.Schedule); err != nil {
				errs = append(errs, at("invalid schedule %q: %v", s.Schedule, err))
			}
		}

		switch s.EmailsOrDefault() {
		case EmailsNone, EmailsOnFailure, EmailsOnFinish, EmailsAll:
		default:
			errs = append(errs, at("invalid emails policy %q", s.Emails))
		}

		if s.NoFilelog && (s.FilelogStdout != "" || s.FilelogStderr != "") {
			errs = append(errs, at("no-filelog conflicts with filelog-stdout/filelog-stderr"))
		}

		if s.Mem != "" {
			if _, err := resource.ParseQuantity(s.Mem); err != nil {
				errs = append(errs, at("invalid mem %q: %v", s.Mem, err))
			}
		}
		if s.CPU != "" {
			if _, err := resource.ParseQuantity(s.CPU); err != nil {
				errs = append(errs, at("invalid cpu %q: %v", s.CPU, err))
			}
		}

		if s.Retry < 0 || s.Retry > maxRetry {
			errs = append(errs, at("retry must be between 0 and %d", maxRetry))
		}
		if s.Retry > 0 && s.Continuous {
			errs = append(errs, at("retry is not applicable to continuous jobs"))
		}
	}

	return errors.Join(errs...)
}

func specName(s Spec, idx int) string {
	if n := strings.TrimSpace(s.Name); n != "" {
		return n
	}
	return fmt.Sprintf("#%d", idx+1)
}

func imageAllowed(image string, allowed []string) bool {
	if len(allowed) == 0 {
		return true
	}
	for _, a := range allowed {
		a = strings.TrimSpace(a)
		if a == "" {
			continue
		}
		if strings.HasSuffix(a, "*") {
			if strings.HasPrefix(image, strings.TrimSuffix(a, "*")) {
				return true
			}
			continue
		}
		if image == a {
			return true
		}
	}
	return false
}
