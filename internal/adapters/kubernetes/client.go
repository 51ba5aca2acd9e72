package kubernetes

import (
	"context"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/rs/zerolog"
	batchv1 "k8s.io/api/batch/v1"
	apiv1 "k8s.io/api/core/v1"
	"k8s.io/apimachinery/pkg/api/errors"
	metav1 "k8s.io/apimachinery/pkg/apis/meta/v1"
	"k8s.io/apimachinery/pkg/util/wait"
	"k8s.io/client-go/kubernetes"
	"k8s.io/client-go/rest"
	"k8s.io/client-go/tools/clientcmd"

	"service-sopm/internal/config"
	"service-sopm/internal/core/task"
)

const (
	deletePollInterval = 500 * time.Millisecond
	deleteTimeout      = 30 * time.Second
	logTailLines       = 200
	maxLogBytes        = 1 << 20
)

// Client runs build and sandbox tasks as batch/v1 Jobs.
type Client struct {
	clientset kubernetes.Interface
	lg        zerolog.Logger
	cfg       config.Config
}

func New(cfg config.Config, lg zerolog.Logger) (*Client, error) {
	restCfg, err := rest.InClusterConfig()
	if err != nil {
		kubeconfig := cfg.Kubeconfig
		if kubeconfig == "" {
			kubeconfig = filepath.Join(os.Getenv("HOME"), ".kube", "config")
		}
		restCfg, err = clientcmd.BuildConfigFromFlags("", kubeconfig)
		if err != nil {
			return nil, fmt.Errorf("failed to load kubernetes config: %w", err)
		}
	}
	clientset, err := kubernetes.NewForConfig(restCfg)
	if err != nil {
		return nil, fmt.Errorf("failed to create clientset: %w", err)
	}
	return NewWithClientset(clientset, cfg, lg), nil
}

func NewWithClientset(clientset kubernetes.Interface, cfg config.Config, lg zerolog.Logger) *Client {
	return &Client{
		clientset: clientset,
		lg:        lg.With().Str("adapter", "kubernetes").Logger(),
		cfg:       cfg,
	}
}

// Ping checks that the API server answers.
func (c *Client) Ping(context.Context) error {
	_, err := c.clientset.Discovery().ServerVersion()
	return err
}

func ptr[T any](v T) *T { return &v }

// jobStatus maps a Job onto a task phase. A Job is failed once the failed
// condition is set or its pods have used up the backoff limit.
func jobStatus(job *batchv1.Job) task.Status {
	for _, cond := range job.Status.Conditions {
		if cond.Status != apiv1.ConditionTrue {
			continue
		}
		switch cond.Type {
		case batchv1.JobComplete:
			return task.Status{Phase: task.PhaseSucceeded}
		case batchv1.JobFailed:
			return task.Status{Phase: task.PhaseFailed, Reason: cond.Reason}
		}
	}
	if job.Status.Succeeded > 0 {
		return task.Status{Phase: task.PhaseSucceeded}
	}
	limit := int32(6)
	if job.Spec.BackoffLimit != nil {
		limit = *job.Spec.BackoffLimit
	}
	if job.Status.Failed > limit {
		return task.Status{Phase: task.PhaseFailed}
	}
	if job.Status.Active > 0 {
		return task.Status{Phase: task.PhaseRunning}
	}
	return task.Status{Phase: task.PhasePending}
}

func (c *Client) status(ctx context.Context, namespace, name, container string) (*task.Status, error) {
	job, err := c.clientset.BatchV1().Jobs(namespace).Get(ctx, name, metav1.GetOptions{})
	if err != nil {
		return nil, fmt.Errorf("get job %s/%s: %w", namespace, name, err)
	}
	st := jobStatus(job)
	if st.Phase == task.PhaseFailed {
		// the container's own termination reason beats the Job condition
		if reason := c.terminationReason(ctx, namespace, name, container); reason != "" {
			st.Reason = reason
		}
	}
	return &st, nil
}

func (c *Client) latestPod(ctx context.Context, namespace, jobName string) (*apiv1.Pod, error) {
	pods, err := c.clientset.CoreV1().Pods(namespace).List(ctx, metav1.ListOptions{
		LabelSelector: "job-name=" + jobName,
	})
	if err != nil {
		return nil, fmt.Errorf("list pods of job %s: %w", jobName, err)
	}
	if len(pods.Items) == 0 {
		return nil, fmt.Errorf("no pods for job %s", jobName)
	}
	sort.Slice(pods.Items, func(i, j int) bool {
		return pods.Items[j].CreationTimestamp.Before(&pods.Items[i].CreationTimestamp)
	})
	return &pods.Items[0], nil
}

func (c *Client) terminationReason(ctx context.Context, namespace, jobName, container string) string {
	pod, err := c.latestPod(ctx, namespace, jobName)
	if err != nil {
		c.lg.Debug().Err(err).Str("job", jobName).Msg("no pod to read termination reason from")
		return ""
	}
	statuses := append(append([]apiv1.ContainerStatus{}, pod.Status.InitContainerStatuses...), pod.Status.ContainerStatuses...)
	for _, cs := range statuses {
		if cs.Name != container && container != "" {
			continue
		}
		if t := cs.State.Terminated; t != nil && t.ExitCode != 0 {
			reason := t.Reason
			if t.Message != "" {
				reason = strings.TrimSpace(reason + ": " + t.Message)
			}
			return reason
		}
	}
	return ""
}

// logs reads a container's log. tailLines of zero reads everything.
func (c *Client) logs(ctx context.Context, namespace, jobName, container string, tailLines int64) (string, error) {
	pod, err := c.latestPod(ctx, namespace, jobName)
	if err != nil {
		return "", err
	}
	opts := &apiv1.PodLogOptions{Container: container}
	if tailLines > 0 {
		opts.TailLines = ptr(tailLines)
	}
	stream, err := c.clientset.CoreV1().Pods(namespace).GetLogs(pod.Name, opts).Stream(ctx)
	if err != nil {
		return "", fmt.Errorf("stream logs of %s: %w", pod.Name, err)
	}
	defer stream.Close()
	data, err := io.ReadAll(io.LimitReader(stream, maxLogBytes))
	if err != nil {
		return "", fmt.Errorf("read logs of %s: %w", pod.Name, err)
	}
	return string(data), nil
}

// deleteJob removes a Job and its pods and waits until the name is free.
func (c *Client) deleteJob(ctx context.Context, namespace, name string) error {
	err := c.clientset.BatchV1().Jobs(namespace).Delete(ctx, name, metav1.DeleteOptions{
		PropagationPolicy: ptr(metav1.DeletePropagationBackground),
	})
	if errors.IsNotFound(err) {
		return nil
	}
	if err != nil {
		return fmt.Errorf("delete job %s/%s: %w", namespace, name, err)
	}
	return wait.PollUntilContextTimeout(ctx, deletePollInterval, deleteTimeout, true, func(ctx context.Context) (bool, error) {
		_, err := c.clientset.BatchV1().Jobs(namespace).Get(ctx, name, metav1.GetOptions{})
		if errors.IsNotFound(err) {
			return true, nil
		}
		return false, err
	})
}
