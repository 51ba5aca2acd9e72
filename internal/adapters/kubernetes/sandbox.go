package kubernetes

import (
	"context"
	"fmt"

	batchv1 "k8s.io/api/batch/v1"
	apiv1 "k8s.io/api/core/v1"
	"k8s.io/apimachinery/pkg/api/resource"
	metav1 "k8s.io/apimachinery/pkg/apis/meta/v1"

	"service-sopm/internal/core/sandbox"
	"service-sopm/internal/core/task"
)

const functionContainer = "function"

func (c *Client) CreateTask(ctx context.Context, spec sandbox.TaskSpec) error {
	ns := c.cfg.SandboxNamespace
	job := c.sandboxJob(spec)
	if _, err := c.clientset.BatchV1().Jobs(ns).Create(ctx, job, metav1.CreateOptions{}); err != nil {
		return fmt.Errorf("create execution job %s: %w", spec.Name, err)
	}
	c.lg.Debug().Str("job", spec.Name).Str("namespace", ns).Msg("execution job created")
	return nil
}

func (c *Client) sandboxJob(spec sandbox.TaskSpec) *batchv1.Job {
	env := make([]apiv1.EnvVar, 0, len(spec.Env))
	for _, e := range spec.Env {
		env = append(env, apiv1.EnvVar{Name: e.Name, Value: e.Value})
	}

	resources := apiv1.ResourceRequirements{
		Limits: apiv1.ResourceList{
			apiv1.ResourceMemory:           *resource.NewQuantity(int64(spec.MemoryLimitMB)<<20, resource.BinarySI),
			apiv1.ResourceCPU:              *resource.NewMilliQuantity(int64(spec.CPULimitMillicores), resource.DecimalSI),
			apiv1.ResourceEphemeralStorage: resource.MustParse(spec.EphemeralLimit),
		},
		Requests: apiv1.ResourceList{
			apiv1.ResourceMemory:           *resource.NewQuantity(int64(spec.MemoryRequestMB)<<20, resource.BinarySI),
			apiv1.ResourceCPU:              *resource.NewMilliQuantity(int64(spec.CPURequestMillicores), resource.DecimalSI),
			apiv1.ResourceEphemeralStorage: resource.MustParse(spec.EphemeralRequest),
		},
	}

	podSpec := apiv1.PodSpec{
		RestartPolicy:                apiv1.RestartPolicyNever,
		AutomountServiceAccountToken: ptr(false),
		EnableServiceLinks:           ptr(false),
		SecurityContext: &apiv1.PodSecurityContext{
			RunAsNonRoot: ptr(true),
			RunAsUser:    ptr(spec.RunAsUser),
			RunAsGroup:   ptr(spec.RunAsUser),
			FSGroup:      ptr(spec.RunAsUser),
			SeccompProfile: &apiv1.SeccompProfile{
				Type: apiv1.SeccompProfileTypeRuntimeDefault,
			},
		},
		Containers: []apiv1.Container{{
			Name:            functionContainer,
			Image:           spec.Image,
			ImagePullPolicy: apiv1.PullAlways,
			Env:             env,
			Resources:       resources,
			SecurityContext: &apiv1.SecurityContext{
				AllowPrivilegeEscalation: ptr(false),
				ReadOnlyRootFilesystem:   ptr(true),
				Capabilities:             &apiv1.Capabilities{Drop: []apiv1.Capability{"ALL"}},
			},
			VolumeMounts: []apiv1.VolumeMount{{Name: "tmp", MountPath: "/tmp"}},
		}},
		Volumes: []apiv1.Volume{{
			Name:         "tmp",
			VolumeSource: apiv1.VolumeSource{EmptyDir: &apiv1.EmptyDirVolumeSource{}},
		}},
	}
	if c.cfg.SandboxRuntimeClass != "" {
		podSpec.RuntimeClassName = ptr(c.cfg.SandboxRuntimeClass)
	}

	return &batchv1.Job{
		ObjectMeta: metav1.ObjectMeta{Name: spec.Name, Namespace: c.cfg.SandboxNamespace, Labels: spec.Labels},
		Spec: batchv1.JobSpec{
			BackoffLimit:            ptr(int32(0)),
			ActiveDeadlineSeconds:   ptr(int64(spec.ActiveDeadline.Seconds())),
			TTLSecondsAfterFinished: ptr(int32(spec.TTLAfterFinished.Seconds())),
			Template: apiv1.PodTemplateSpec{
				ObjectMeta: metav1.ObjectMeta{Labels: spec.Labels},
				Spec:       podSpec,
			},
		},
	}
}

func (c *Client) TaskStatus(ctx context.Context, name string) (*task.Status, error) {
	return c.status(ctx, c.cfg.SandboxNamespace, name, functionContainer)
}

// TaskOutput returns the function container's stdout.
func (c *Client) TaskOutput(ctx context.Context, name string) (string, error) {
	return c.logs(ctx, c.cfg.SandboxNamespace, name, functionContainer, 0)
}
