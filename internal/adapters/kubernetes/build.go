package kubernetes

import (
	"context"
	"fmt"
	"path"

	batchv1 "k8s.io/api/batch/v1"
	apiv1 "k8s.io/api/core/v1"
	"k8s.io/apimachinery/pkg/api/errors"
	metav1 "k8s.io/apimachinery/pkg/apis/meta/v1"

	"service-sopm/internal/core/builder"
	"service-sopm/internal/core/task"
)

const (
	buildContainer = "build"
	fetchContainer = "fetch-source"
	workspaceDir   = "/workspace"
	contextDir     = "/context"
)

// CreateBuild stores the rendered build context in a ConfigMap and starts a
// Job whose init container pulls the source object next to it before kaniko
// builds and pushes the image.
func (c *Client) CreateBuild(ctx context.Context, spec builder.Spec) error {
	ns := c.cfg.BuildNamespace
	labels := map[string]string{
		"app":         "sopm-builder",
		"function-id": spec.FunctionID,
	}

	cm := &apiv1.ConfigMap{
		ObjectMeta: metav1.ObjectMeta{Name: spec.ContextName, Namespace: ns, Labels: labels},
		Data:       spec.Files,
	}
	if _, err := c.clientset.CoreV1().ConfigMaps(ns).Create(ctx, cm, metav1.CreateOptions{}); err != nil {
		if !errors.IsAlreadyExists(err) {
			return fmt.Errorf("create build context %s: %w", spec.ContextName, err)
		}
		if _, err := c.clientset.CoreV1().ConfigMaps(ns).Update(ctx, cm, metav1.UpdateOptions{}); err != nil {
			return fmt.Errorf("update build context %s: %w", spec.ContextName, err)
		}
	}

	job := c.buildJob(spec, labels)
	if _, err := c.clientset.BatchV1().Jobs(ns).Create(ctx, job, metav1.CreateOptions{}); err != nil {
		return fmt.Errorf("create build job %s: %w", spec.Name, err)
	}
	c.lg.Info().Str("job", spec.Name).Str("image", spec.Image).Msg("build job created")
	return nil
}

func (c *Client) buildJob(spec builder.Spec, labels map[string]string) *batchv1.Job {
	scheme := "http"
	if c.cfg.MinioUseSSL {
		scheme = "https"
	}
	fetch := fmt.Sprintf(
		`mc alias set src %s://%s "$MINIO_ACCESS_KEY" "$MINIO_SECRET_KEY" >/dev/null && mc cp src/%s/%s %s && cp -L %s/* %s/`,
		scheme, c.cfg.MinioEndpoint,
		c.cfg.MinioBucket, spec.SourceRef, path.Join(workspaceDir, spec.SourceFile),
		contextDir, workspaceDir,
	)

	args := []string{
		"--dockerfile=" + path.Join(workspaceDir, "Dockerfile"),
		"--context=dir://" + workspaceDir,
		"--destination=" + spec.Image,
		"--cache=false",
	}
	if c.cfg.RegistryInsecure {
		args = append(args, "--insecure", "--skip-tls-verify")
	}

	workspace := apiv1.VolumeMount{Name: "workspace", MountPath: workspaceDir}
	return &batchv1.Job{
		ObjectMeta: metav1.ObjectMeta{Name: spec.Name, Namespace: c.cfg.BuildNamespace, Labels: labels},
		Spec: batchv1.JobSpec{
			BackoffLimit:            ptr(int32(0)),
			TTLSecondsAfterFinished: ptr(int32(spec.TTL.Seconds())),
			Template: apiv1.PodTemplateSpec{
				ObjectMeta: metav1.ObjectMeta{Labels: labels},
				Spec: apiv1.PodSpec{
					ServiceAccountName: c.cfg.BuildServiceAccount,
					RestartPolicy:      apiv1.RestartPolicyNever,
					InitContainers: []apiv1.Container{{
						Name:    fetchContainer,
						Image:   c.cfg.FetcherImage,
						Command: []string{"/bin/sh", "-c", fetch},
						Env: []apiv1.EnvVar{
							{Name: "MINIO_ACCESS_KEY", Value: c.cfg.MinioAccessKey},
							{Name: "MINIO_SECRET_KEY", Value: c.cfg.MinioSecretKey},
						},
						VolumeMounts: []apiv1.VolumeMount{
							workspace,
							{Name: "context", MountPath: contextDir, ReadOnly: true},
						},
					}},
					Containers: []apiv1.Container{{
						Name:         buildContainer,
						Image:        c.cfg.BuilderImage,
						Args:         args,
						VolumeMounts: []apiv1.VolumeMount{workspace},
					}},
					Volumes: []apiv1.Volume{
						{Name: "workspace", VolumeSource: apiv1.VolumeSource{EmptyDir: &apiv1.EmptyDirVolumeSource{}}},
						{Name: "context", VolumeSource: apiv1.VolumeSource{
							ConfigMap: &apiv1.ConfigMapVolumeSource{
								LocalObjectReference: apiv1.LocalObjectReference{Name: spec.ContextName},
							},
						}},
					},
				},
			},
		},
	}
}

// DeleteBuild removes the build Job and its context. Missing objects are fine.
func (c *Client) DeleteBuild(ctx context.Context, name, contextName string) error {
	ns := c.cfg.BuildNamespace
	if err := c.deleteJob(ctx, ns, name); err != nil {
		return err
	}
	err := c.clientset.CoreV1().ConfigMaps(ns).Delete(ctx, contextName, metav1.DeleteOptions{})
	if err != nil && !errors.IsNotFound(err) {
		return fmt.Errorf("delete build context %s: %w", contextName, err)
	}
	return nil
}

func (c *Client) BuildStatus(ctx context.Context, name string) (*task.Status, error) {
	return c.status(ctx, c.cfg.BuildNamespace, name, "")
}

func (c *Client) BuildLogs(ctx context.Context, name string, tailBytes int) (string, error) {
	logs, err := c.logs(ctx, c.cfg.BuildNamespace, name, buildContainer, logTailLines)
	if err != nil {
		return "", err
	}
	return builder.Tail(logs, tailBytes), nil
}
