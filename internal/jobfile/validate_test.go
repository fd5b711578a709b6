package jobfile

import (
	"strings"
	"testing"
)

func okSpec(name string) Spec {
	return Spec{Name: name, Command: "true", Image: "tool-containers/bot:latest"}
}

func TestValidateAcceptsWellFormedFile(t *testing.T) {
	t.Parallel()
	a := okSpec("daily-report")
	a.Schedule = "15 4 * * *"
	a.Emails = EmailsOnFailure
	a.Mem = "512Mi"
	a.CPU = "500m"
	a.Retry = 2

	b := okSpec("stream-watcher")
	b.Continuous = true

	if err := Validate([]Spec{a, b, okSpec("once")}, ValidateOptions{}); err != nil {
		t.Fatalf("Validate error: %v", err)
	}
}

func TestValidateRejections(t *testing.T) {
	t.Parallel()
	tests := []struct {
		name    string
		mutate  func(*Spec)
		wantSub string
	}{
		{name: "empty name", mutate: func(s *Spec) { s.Name = "" }, wantSub: "name is required"},
		{name: "bad label", mutate: func(s *Spec) { s.Name = "Bad_Name" }, wantSub: "invalid name"},
		{name: "empty command", mutate: func(s *Spec) { s.Command = " " }, wantSub: "command is required"},
		{name: "empty image", mutate: func(s *Spec) { s.Image = "" }, wantSub: "image is required"},
		{name: "bad cron", mutate: func(s *Spec) { s.Schedule = "99 * * * *" }, wantSub: "invalid schedule"},
		{name: "schedule and continuous", mutate: func(s *Spec) { s.Schedule = "* * * * *"; s.Continuous = true }, wantSub: "mutually exclusive"},
		{name: "bad emails", mutate: func(s *Spec) { s.Emails = "sometimes" }, wantSub: "invalid emails policy"},
		{name: "bad mem", mutate: func(s *Spec) { s.Mem = "lots" }, wantSub: "invalid mem"},
		{name: "bad cpu", mutate: func(s *Spec) { s.CPU = "fast" }, wantSub: "invalid cpu"},
		{name: "retry too high", mutate: func(s *Spec) { s.Retry = 6 }, wantSub: "retry must be between"},
		{name: "retry on continuous", mutate: func(s *Spec) { s.Continuous = true; s.Retry = 1 }, wantSub: "not applicable to continuous"},
		{name: "no-filelog conflict", mutate: func(s *Spec) { s.NoFilelog = true; s.FilelogStdout = "x.out" }, wantSub: "no-filelog conflicts"},
	}

	for _, tt := range tests {
		tt := tt
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			s := okSpec("job-a")
			tt.mutate(&s)
			err := Validate([]Spec{s}, ValidateOptions{})
			if err == nil {
				t.Fatalf("expected error containing %q", tt.wantSub)
			}
			if !strings.Contains(err.Error(), tt.wantSub) {
				t.Fatalf("error %q does not contain %q", err, tt.wantSub)
			}
		})
	}
}

func TestValidateDuplicateNames(t *testing.T) {
	t.Parallel()
	err := Validate([]Spec{okSpec("same"), okSpec("same")}, ValidateOptions{})
	if err == nil || !strings.Contains(err.Error(), "duplicate name") {
		t.Fatalf("expected duplicate name error, got %v", err)
	}
}

func TestValidateReportsAllProblems(t *testing.T) {
	t.Parallel()
	bad := Spec{Name: "", Command: "", Image: ""}
	err := Validate([]Spec{bad}, ValidateOptions{})
	if err == nil {
		t.Fatal("expected error")
	}
	for _, want := range []string{"name is required", "command is required", "image is required"} {
		if !strings.Contains(err.Error(), want) {
			t.Fatalf("joined error missing %q: %v", want, err)
		}
	}
}

func TestValidateImageAllowlist(t *testing.T) {
	t.Parallel()
	allowed := []string{"tool-containers/*", "python3.11"}

	ok := okSpec("a")
	if err := Validate([]Spec{ok}, ValidateOptions{AllowedImages: allowed}); err != nil {
		t.Fatalf("prefix match should pass: %v", err)
	}

	exact := okSpec("b")
	exact.Image = "python3.11"
	if err := Validate([]Spec{exact}, ValidateOptions{AllowedImages: allowed}); err != nil {
		t.Fatalf("exact match should pass: %v", err)
	}

	deny := okSpec("c")
	deny.Image = "docker.io/library/alpine"
	err := Validate([]Spec{deny}, ValidateOptions{AllowedImages: allowed})
	if err == nil || !strings.Contains(err.Error(), "not in the allowed list") {
		t.Fatalf("expected allowlist rejection, got %v", err)
	}
}
