package grid

import (
	"fmt"
	"strings"

	appsv1 "k8s.io/api/apps/v1"
	batchv1 "k8s.io/api/batch/v1"
	corev1 "k8s.io/api/core/v1"
	"k8s.io/apimachinery/pkg/api/resource"
	metav1 "k8s.io/apimachinery/pkg/apis/meta/v1"

	"jobgrid/internal/jobfile"
)

// toolHome is where Toolforge mounts the tool's NFS directory; relative
// filelog paths resolve against it.
const toolHome = "/data/project"

func (c *Client) topLabels(name string) map[string]string {
	l := map[string]string{
		ManagedByLabel: ManagedByValue,
		NameLabel:      name,
	}
	if c.tool != "" {
		l[ToolLabel] = c.tool
	}
	return l
}

// podLabels deliberately omits the managed-by label so child Jobs and pods
// never show up as top-level managed objects.
func (c *Client) podLabels(name string) map[string]string {
	l := map[string]string{NameLabel: name}
	if c.tool != "" {
		l[ToolLabel] = c.tool
	}
	return l
}

func specAnnotations(s jobfile.Spec) map[string]string {
	a := map[string]string{
		SpecHashAnnotation: jobfile.Hash(s),
		EmailsAnnotation:   string(s.EmailsOrDefault()),
	}
	if out := s.StdoutLog(); out != "" {
		a[FilelogStdoutAnnotation] = out
	}
	if errp := s.StderrLog(); errp != "" {
		a[FilelogStderrAnnotation] = errp
	}
	return a
}

// wrapCommand appends shell redirections so stdout/stderr land in the
// filelog paths, matching what the grid's submit wrapper used to do.
func wrapCommand(s jobfile.Spec) string {
	cmd := strings.TrimSpace(s.Command)
	if s.NoFilelog {
		return cmd
	}
	return fmt.Sprintf("%s 1>>%s 2>>%s", cmd, s.StdoutLog(), s.StderrLog())
}

func containerResources(s jobfile.Spec) corev1.ResourceRequirements {
	limits := corev1.ResourceList{}
	if q, err := resource.ParseQuantity(s.Mem); s.Mem != "" && err == nil {
		limits[corev1.ResourceMemory] = q
	}
	if q, err := resource.ParseQuantity(s.CPU); s.CPU != "" && err == nil {
		limits[corev1.ResourceCPU] = q
	}
	if len(limits) == 0 {
		return corev1.ResourceRequirements{}
	}
	return corev1.ResourceRequirements{Limits: limits, Requests: limits}
}

func (c *Client) podTemplate(s jobfile.Spec, restart corev1.RestartPolicy) corev1.PodTemplateSpec {
	workdir := ""
	if c.tool != "" {
		workdir = toolHome + "/" + c.tool
	}
	return corev1.PodTemplateSpec{
		ObjectMeta: metav1.ObjectMeta{
			Labels:      c.podLabels(s.Name),
			Annotations: specAnnotations(s),
		},
		Spec: corev1.PodSpec{
			RestartPolicy: restart,
			Containers: []corev1.Container{{
				Name:       s.Name,
				Image:      s.Image,
				Command:    []string{"/bin/sh", "-c"},
				Args:       []string{wrapCommand(s)},
				WorkingDir: workdir,
				Resources:  containerResources(s),
			}},
		},
	}
}

func (c *Client) jobSpec(s jobfile.Spec) batchv1.JobSpec {
	backoff := int32(s.Retry)
	return batchv1.JobSpec{
		BackoffLimit: &backoff,
		Template:     c.podTemplate(s, corev1.RestartPolicyNever),
	}
}

func (c *Client) cronJob(s jobfile.Spec) *batchv1.CronJob {
	one := int32(1)
	return &batchv1.CronJob{
		ObjectMeta: metav1.ObjectMeta{
			Name:        s.Name,
			Namespace:   c.namespace,
			Labels:      c.topLabels(s.Name),
			Annotations: specAnnotations(s),
		},
		Spec: batchv1.CronJobSpec{
			Schedule:                   s.Schedule,
			ConcurrencyPolicy:          batchv1.ForbidConcurrent,
			SuccessfulJobsHistoryLimit: &one,
			FailedJobsHistoryLimit:     &one,
			JobTemplate: batchv1.JobTemplateSpec{
				ObjectMeta: metav1.ObjectMeta{
					Labels:      c.podLabels(s.Name),
					Annotations: specAnnotations(s),
				},
				Spec: c.jobSpec(s),
			},
		},
	}
}

func (c *Client) deployment(s jobfile.Spec) *appsv1.Deployment {
	one := int32(1)
	return &appsv1.Deployment{
		ObjectMeta: metav1.ObjectMeta{
			Name:        s.Name,
			Namespace:   c.namespace,
			Labels:      c.topLabels(s.Name),
			Annotations: specAnnotations(s),
		},
		Spec: appsv1.DeploymentSpec{
			Replicas: &one,
			Selector: &metav1.LabelSelector{
				MatchLabels: map[string]string{NameLabel: s.Name},
			},
			Template: c.podTemplate(s, corev1.RestartPolicyAlways),
		},
	}
}

func (c *Client) oneOffJob(s jobfile.Spec, objectName string, extraLabels map[string]string) *batchv1.Job {
	labels := c.topLabels(s.Name)
	for k, v := range extraLabels {
		labels[k] = v
	}
	return &batchv1.Job{
		ObjectMeta: metav1.ObjectMeta{
			Name:        objectName,
			Namespace:   c.namespace,
			Labels:      labels,
			Annotations: specAnnotations(s),
		},
		Spec: c.jobSpec(s),
	}
}
