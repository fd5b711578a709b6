package grid

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/google/uuid"
	appsv1 "k8s.io/api/apps/v1"
	batchv1 "k8s.io/api/batch/v1"
	corev1 "k8s.io/api/core/v1"
	apierrors "k8s.io/apimachinery/pkg/api/errors"
	metav1 "k8s.io/apimachinery/pkg/apis/meta/v1"
	"k8s.io/apimachinery/pkg/labels"
	"k8s.io/client-go/kubernetes"
	"k8s.io/client-go/rest"
	"k8s.io/client-go/tools/clientcmd"

	"jobgrid/internal/jobfile"
	logx "jobgrid/pkg/logx"
)

// Client talks to the Kubernetes grid. It implements Backend.
type Client struct {
	cs        kubernetes.Interface
	namespace string
	tool      string
	log       logx.Logger
}

var _ Backend = (*Client)(nil)

// New wraps an existing clientset. Tests pass a fake one.
func New(cs kubernetes.Interface, namespace, tool string, log logx.Logger) *Client {
	if log.IsZero() {
		log = logx.Nop()
	}
	return &Client{cs: cs, namespace: namespace, tool: tool, log: log}
}

// NewFromKubeconfig builds a client from a kubeconfig path, falling back to
// in-cluster config when the path is empty.
func NewFromKubeconfig(path, namespace, tool string, log logx.Logger) (*Client, error) {
	var cfg *rest.Config
	var err error
	if strings.TrimSpace(path) == "" {
		cfg, err = rest.InClusterConfig()
		if errors.Is(err, rest.ErrNotInCluster) {
			rules := clientcmd.NewDefaultClientConfigLoadingRules()
			cfg, err = clientcmd.BuildConfigFromFlags("", rules.GetDefaultFilename())
		}
	} else {
		cfg, err = clientcmd.BuildConfigFromFlags("", path)
	}
	if err != nil {
		return nil, fmt.Errorf("kubernetes config: %w", err)
	}
	cs, err := kubernetes.NewForConfig(cfg)
	if err != nil {
		return nil, fmt.Errorf("kubernetes client: %w", err)
	}
	return New(cs, namespace, tool, log), nil
}

func (c *Client) managedSelector() string {
	set := labels.Set{ManagedByLabel: ManagedByValue}
	if c.tool != "" {
		set[ToolLabel] = c.tool
	}
	return set.AsSelector().String()
}

// Apply reconciles one spec onto the grid. Unchanged specs (same kind, same
// content hash) are left alone; a kind change replaces the object wholesale.
func (c *Client) Apply(ctx context.Context, spec jobfile.Spec) (Action, error) {
	existing, err := c.lookup(ctx, spec.Name)
	if err != nil {
		return "", err
	}
	hash := jobfile.Hash(spec)
	if existing != nil {
		if existing.Kind == spec.Kind() && existing.SpecHash == hash {
			return ActionUnchanged, nil
		}
		if err := c.deleteKind(ctx, spec.Name, existing.Kind); err != nil {
			return "", fmt.Errorf("replace %s: %w", spec.Name, err)
		}
	}
	if err := c.create(ctx, spec); err != nil {
		return "", err
	}
	if existing != nil {
		return ActionUpdated, nil
	}
	return ActionCreated, nil
}

func (c *Client) create(ctx context.Context, spec jobfile.Spec) error {
	opts := metav1.CreateOptions{}
	var err error
	switch spec.Kind() {
	case jobfile.KindScheduled:
		_, err = c.cs.BatchV1().CronJobs(c.namespace).Create(ctx, c.cronJob(spec), opts)
	case jobfile.KindContinuous:
		_, err = c.cs.AppsV1().Deployments(c.namespace).Create(ctx, c.deployment(spec), opts)
	default:
		_, err = c.cs.BatchV1().Jobs(c.namespace).Create(ctx, c.oneOffJob(spec, spec.Name, nil), opts)
	}
	if err != nil {
		return fmt.Errorf("create %s %s: %w", spec.Kind(), spec.Name, err)
	}
	c.log.Info("grid object created",
		logx.String("job", spec.Name), logx.String("kind", string(spec.Kind())))
	return nil
}

// Delete removes a managed job by name, whatever its kind.
func (c *Client) Delete(ctx context.Context, name string) error {
	existing, err := c.lookup(ctx, name)
	if err != nil {
		return err
	}
	if existing == nil {
		return ErrNotFound
	}
	return c.deleteKind(ctx, name, existing.Kind)
}

func (c *Client) deleteKind(ctx context.Context, name string, kind jobfile.Kind) error {
	prop := metav1.DeletePropagationBackground
	opts := metav1.DeleteOptions{PropagationPolicy: &prop}
	var err error
	switch kind {
	case jobfile.KindScheduled:
		err = c.cs.BatchV1().CronJobs(c.namespace).Delete(ctx, name, opts)
	case jobfile.KindContinuous:
		err = c.cs.AppsV1().Deployments(c.namespace).Delete(ctx, name, opts)
	default:
		err = c.cs.BatchV1().Jobs(c.namespace).Delete(ctx, name, opts)
	}
	if err != nil && !apierrors.IsNotFound(err) {
		return fmt.Errorf("delete %s %s: %w", kind, name, err)
	}
	c.log.Info("grid object deleted",
		logx.String("job", name), logx.String("kind", string(kind)))
	return nil
}

// DeleteAll flushes every managed object and returns how many were removed.
func (c *Client) DeleteAll(ctx context.Context) (int, error) {
	jobs, err := c.List(ctx)
	if err != nil {
		return 0, err
	}
	n := 0
	for _, j := range jobs {
		if err := c.deleteKind(ctx, j.Name, j.Kind); err != nil {
			return n, err
		}
		n++
	}
	return n, nil
}

// List returns every managed job currently on the grid, sorted by name.
func (c *Client) List(ctx context.Context) ([]LiveJob, error) {
	opts := metav1.ListOptions{LabelSelector: c.managedSelector()}

	var out []LiveJob
	cjs, err := c.cs.BatchV1().CronJobs(c.namespace).List(ctx, opts)
	if err != nil {
		return nil, fmt.Errorf("list cronjobs: %w", err)
	}
	for i := range cjs.Items {
		out = append(out, c.fromCronJob(&cjs.Items[i]))
	}

	deps, err := c.cs.AppsV1().Deployments(c.namespace).List(ctx, opts)
	if err != nil {
		return nil, fmt.Errorf("list deployments: %w", err)
	}
	for i := range deps.Items {
		out = append(out, c.fromDeployment(&deps.Items[i]))
	}

	js, err := c.cs.BatchV1().Jobs(c.namespace).List(ctx, opts)
	if err != nil {
		return nil, fmt.Errorf("list jobs: %w", err)
	}
	for i := range js.Items {
		out = append(out, c.fromJob(&js.Items[i]))
	}

	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out, nil
}

// Get returns the managed job with the given name, or ErrNotFound.
func (c *Client) Get(ctx context.Context, name string) (*LiveJob, error) {
	lj, err := c.lookup(ctx, name)
	if err != nil {
		return nil, err
	}
	if lj == nil {
		return nil, ErrNotFound
	}
	return lj, nil
}

// lookup probes the three object kinds for a managed object named name.
// Returns (nil, nil) when none exists.
func (c *Client) lookup(ctx context.Context, name string) (*LiveJob, error) {
	opts := metav1.GetOptions{}
	if cj, err := c.cs.BatchV1().CronJobs(c.namespace).Get(ctx, name, opts); err == nil {
		if managed(cj.Labels) {
			lj := c.fromCronJob(cj)
			return &lj, nil
		}
	} else if !apierrors.IsNotFound(err) {
		return nil, err
	}
	if d, err := c.cs.AppsV1().Deployments(c.namespace).Get(ctx, name, opts); err == nil {
		if managed(d.Labels) {
			lj := c.fromDeployment(d)
			return &lj, nil
		}
	} else if !apierrors.IsNotFound(err) {
		return nil, err
	}
	if j, err := c.cs.BatchV1().Jobs(c.namespace).Get(ctx, name, opts); err == nil {
		if managed(j.Labels) {
			lj := c.fromJob(j)
			return &lj, nil
		}
	} else if !apierrors.IsNotFound(err) {
		return nil, err
	}
	return nil, nil
}

func managed(l map[string]string) bool {
	return l[ManagedByLabel] == ManagedByValue
}

// TriggerRun submits a one-off run of a spec under a fresh object name. The
// object is tagged as a manual trigger and not marked managed, so the syncer
// won't garbage-collect it as an orphan.
func (c *Client) TriggerRun(ctx context.Context, spec jobfile.Spec) (string, error) {
	run := spec
	run.Schedule = ""
	run.Continuous = false

	// Object names are DNS-1123 labels (63 chars); leave room for the suffix.
	base := spec.Name
	if max := 63 - len("-manual-") - 8; len(base) > max {
		base = strings.TrimRight(base[:max], "-")
	}
	objectName := base + "-manual-" + uuid.NewString()[:8]
	j := c.oneOffJob(run, objectName, map[string]string{TriggerLabel: "manual"})
	delete(j.Labels, ManagedByLabel)

	if _, err := c.cs.BatchV1().Jobs(c.namespace).Create(ctx, j, metav1.CreateOptions{}); err != nil {
		return "", fmt.Errorf("trigger %s: %w", spec.Name, err)
	}
	c.log.Info("manual run submitted",
		logx.String("job", spec.Name), logx.String("object", objectName))
	return objectName, nil
}

// RunPhase looks up a triggered run object by its exact name. A failed
// count with attempts still active means a retry is in flight, so the run
// stays running until the backoff limit is spent.
func (c *Client) RunPhase(ctx context.Context, objectName string) (string, error) {
	j, err := c.cs.BatchV1().Jobs(c.namespace).Get(ctx, objectName, metav1.GetOptions{})
	if err != nil {
		if apierrors.IsNotFound(err) {
			return "", ErrNotFound
		}
		return "", err
	}
	switch {
	case j.Status.Succeeded > 0:
		return PhaseOK, nil
	case j.Status.Failed > 0 && j.Status.Active == 0:
		return PhaseFailed, nil
	default:
		return PhaseRunning, nil
	}
}

// Restart bounces a continuous job by deleting its pods; the Deployment
// brings a fresh one up.
func (c *Client) Restart(ctx context.Context, name string) error {
	existing, err := c.lookup(ctx, name)
	if err != nil {
		return err
	}
	if existing == nil {
		return ErrNotFound
	}
	if existing.Kind != jobfile.KindContinuous {
		return ErrNotRestartable
	}
	sel := labels.Set{NameLabel: name}.AsSelector().String()
	err = c.cs.CoreV1().Pods(c.namespace).DeleteCollection(ctx,
		metav1.DeleteOptions{}, metav1.ListOptions{LabelSelector: sel})
	if err != nil {
		return fmt.Errorf("restart %s: %w", name, err)
	}
	c.log.Info("continuous job restarted", logx.String("job", name))
	return nil
}

func (c *Client) fromCronJob(cj *batchv1.CronJob) LiveJob {
	st := JobStatus{Phase: PhaseWaiting, Active: len(cj.Status.Active)}
	if st.Active > 0 {
		st.Phase = PhaseRunning
	}
	if t := cj.Status.LastScheduleTime; t != nil {
		st.LastRun = t.Time
	}
	if sched, err := jobfile.ParseSchedule(cj.Spec.Schedule); err == nil {
		st.NextRun = sched.Next(time.Now())
	}
	return LiveJob{
		Name:     cj.Name,
		Kind:     jobfile.KindScheduled,
		SpecHash: cj.Annotations[SpecHashAnnotation],
		Image:    templateImage(cj.Spec.JobTemplate.Spec.Template),
		Status:   st,
	}
}

func (c *Client) fromDeployment(d *appsv1.Deployment) LiveJob {
	st := JobStatus{Active: int(d.Status.ReadyReplicas)}
	switch {
	case d.Status.ReadyReplicas > 0:
		st.Phase = PhaseRunning
	case d.Status.UnavailableReplicas > 0:
		st.Phase = PhaseFailed
		st.Message = deploymentMessage(d)
	default:
		st.Phase = PhaseWaiting
	}
	return LiveJob{
		Name:     d.Name,
		Kind:     jobfile.KindContinuous,
		SpecHash: d.Annotations[SpecHashAnnotation],
		Image:    templateImage(d.Spec.Template),
		Status:   st,
	}
}

func (c *Client) fromJob(j *batchv1.Job) LiveJob {
	st := JobStatus{Active: int(j.Status.Active)}
	switch {
	case j.Status.Active > 0:
		st.Phase = PhaseRunning
	case j.Status.Succeeded > 0:
		st.Phase = PhaseOK
	case j.Status.Failed > 0:
		st.Phase = PhaseFailed
		st.Message = jobMessage(j)
	default:
		st.Phase = PhaseWaiting
	}
	if t := j.Status.StartTime; t != nil {
		st.LastRun = t.Time
	}
	return LiveJob{
		Name:     j.Labels[NameLabel],
		Kind:     jobfile.KindOneOff,
		SpecHash: j.Annotations[SpecHashAnnotation],
		Image:    templateImage(j.Spec.Template),
		Status:   st,
	}
}

func templateImage(tpl corev1.PodTemplateSpec) string {
	if len(tpl.Spec.Containers) == 0 {
		return ""
	}
	return tpl.Spec.Containers[0].Image
}

func deploymentMessage(d *appsv1.Deployment) string {
	for _, cond := range d.Status.Conditions {
		if cond.Type == appsv1.DeploymentAvailable && cond.Status != "True" {
			return cond.Message
		}
	}
	return ""
}

func jobMessage(j *batchv1.Job) string {
	for _, cond := range j.Status.Conditions {
		if cond.Type == batchv1.JobFailed && cond.Status == "True" {
			return cond.Message
		}
	}
	return ""
}
