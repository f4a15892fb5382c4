package argo

import (
	"context"
	"fmt"
	"math"
	"strings"
	"time"

	"github.com/cuemby/sdpcontroller/pkg/engine"
	"github.com/cuemby/sdpcontroller/pkg/log"
	"github.com/cuemby/sdpcontroller/pkg/types"
	"github.com/cuemby/sdpcontroller/pkg/workflow"
	"github.com/rs/zerolog"
	corev1 "k8s.io/api/core/v1"
	apierrors "k8s.io/apimachinery/pkg/api/errors"
	metav1 "k8s.io/apimachinery/pkg/apis/meta/v1"
	"k8s.io/apimachinery/pkg/apis/meta/v1/unstructured"
	"k8s.io/apimachinery/pkg/runtime/schema"
	k8stypes "k8s.io/apimachinery/pkg/types"
	"k8s.io/apimachinery/pkg/util/wait"
	"k8s.io/apimachinery/pkg/watch"
	"k8s.io/client-go/dynamic"
	"k8s.io/client-go/kubernetes"
	"k8s.io/client-go/rest"
	"k8s.io/client-go/tools/clientcmd"
)

// WorkflowGVR identifies Argo Workflow objects
var WorkflowGVR = schema.GroupVersionResource{
	Group:    "argoproj.io",
	Version:  "v1alpha1",
	Resource: "workflows",
}

// terminatePatch is what `argo terminate` does to a running workflow
var terminatePatch = []byte(`{"spec":{"shutdown":"Terminate"}}`)

// Config holds Argo client settings
type Config struct {
	// DryRun sends every create with dryRun=All; nothing is persisted by the API server
	DryRun bool
	// NamespaceLabels are added to namespaces created for subarrays
	NamespaceLabels map[string]string
	// WatchBackoff is the initial delay before re-establishing a dropped watch
	WatchBackoff time.Duration
}

// Client talks to Argo Workflows through the Kubernetes API
type Client struct {
	dynamic dynamic.Interface
	kube    kubernetes.Interface
	cfg     Config
	logger  zerolog.Logger
}

var (
	_ engine.Client  = (*Client)(nil)
	_ engine.Watcher = (*Client)(nil)
)

// NewClient creates a client from existing Kubernetes clients
func NewClient(dyn dynamic.Interface, kube kubernetes.Interface, cfg Config) *Client {
	if cfg.WatchBackoff <= 0 {
		cfg.WatchBackoff = time.Second
	}
	return &Client{
		dynamic: dyn,
		kube:    kube,
		cfg:     cfg,
		logger:  log.WithComponent("argo"),
	}
}

// NewForConfig creates a client from a REST config
func NewForConfig(restCfg *rest.Config, cfg Config) (*Client, error) {
	dyn, err := dynamic.NewForConfig(restCfg)
	if err != nil {
		return nil, fmt.Errorf("failed to create dynamic client: %w", err)
	}
	kube, err := kubernetes.NewForConfig(restCfg)
	if err != nil {
		return nil, fmt.Errorf("failed to create kubernetes client: %w", err)
	}
	return NewClient(dyn, kube, cfg), nil
}

// Ping checks that the API server is reachable and serves Argo workflows
func (c *Client) Ping(ctx context.Context) error {
	_, err := c.dynamic.Resource(WorkflowGVR).Namespace(metav1.NamespaceAll).List(ctx, metav1.ListOptions{
		LabelSelector: workflow.LabelManagedBy + "=" + workflow.ManagedByValue,
		Limit:         1,
	})
	if err != nil {
		return fmt.Errorf("workflow API unavailable: %w", err)
	}
	return nil
}

// RESTConfig loads cluster credentials from kubeconfig, or from the in-cluster
// service account when kubeconfig is empty
func RESTConfig(kubeconfig string) (*rest.Config, error) {
	if kubeconfig != "" {
		return clientcmd.BuildConfigFromFlags("", kubeconfig)
	}
	if cfg, err := rest.InClusterConfig(); err == nil {
		return cfg, nil
	}
	rules := clientcmd.NewDefaultClientConfigLoadingRules()
	return clientcmd.NewNonInteractiveDeferredLoadingClientConfig(rules, &clientcmd.ConfigOverrides{}).ClientConfig()
}

// Submit creates the workflow, creating the subarray namespace first if needed
func (c *Client) Submit(ctx context.Context, sub *types.WorkflowSubmission) (string, error) {
	if err := c.ensureNamespace(ctx, sub.Namespace); err != nil {
		return "", err
	}

	obj := &unstructured.Unstructured{}
	if err := obj.UnmarshalJSON(sub.Manifest); err != nil {
		return "", fmt.Errorf("failed to decode workflow %s: %w", sub.Handle(), err)
	}

	_, err := c.dynamic.Resource(WorkflowGVR).Namespace(sub.Namespace).Create(ctx, obj, c.createOptions())
	if apierrors.IsAlreadyExists(err) {
		// A retry after a lost response; the workflow name is deterministic
		c.logger.Debug().Str("workflow", sub.Handle()).Msg("workflow already submitted")
		err = nil
	}
	if err != nil {
		return "", fmt.Errorf("failed to create workflow %s: %w", sub.Handle(), err)
	}

	c.logger.Info().
		Str("workflow", sub.Handle()).
		Str("subarray", sub.Subarray).
		Bool("dry_run", c.cfg.DryRun).
		Msg("workflow submitted")
	return sub.Handle(), nil
}

// Cancel terminates the workflow. It returns engine.ErrGone when there is
// nothing left to stop.
func (c *Client) Cancel(ctx context.Context, handle string) error {
	namespace, name, ok := strings.Cut(handle, "/")
	if !ok || namespace == "" || name == "" {
		return fmt.Errorf("malformed workflow handle %q", handle)
	}
	workflows := c.dynamic.Resource(WorkflowGVR).Namespace(namespace)

	obj, err := workflows.Get(ctx, name, metav1.GetOptions{})
	if apierrors.IsNotFound(err) {
		return engine.ErrGone
	}
	if err != nil {
		return fmt.Errorf("failed to get workflow %s: %w", handle, err)
	}
	if phase, _, _ := unstructured.NestedString(obj.Object, "status", "phase"); finished(phase) {
		return engine.ErrGone
	}

	_, err = workflows.Patch(ctx, name, k8stypes.MergePatchType, terminatePatch, metav1.PatchOptions{})
	if apierrors.IsNotFound(err) {
		return engine.ErrGone
	}
	if err != nil {
		return fmt.Errorf("failed to terminate workflow %s: %w", handle, err)
	}

	c.logger.Info().Str("workflow", handle).Msg("workflow terminate requested")
	return nil
}

// Watch streams status updates for managed workflows until ctx is cancelled,
// re-establishing the watch with backoff whenever it drops
func (c *Client) Watch(ctx context.Context, updates chan<- types.StatusUpdate) error {
	backoff := wait.Backoff{
		Duration: c.cfg.WatchBackoff,
		Factor:   2.0,
		Jitter:   0.1,
		Steps:    math.MaxInt32,
		Cap:      time.Minute,
	}

	for {
		err := c.watchOnce(ctx, updates)
		if ctx.Err() != nil {
			return nil
		}
		if err != nil {
			c.logger.Warn().Err(err).Msg("workflow watch interrupted")
		} else {
			backoff.Duration = c.cfg.WatchBackoff
		}

		select {
		case <-ctx.Done():
			return nil
		case <-time.After(backoff.Step()):
		}
	}
}

func (c *Client) watchOnce(ctx context.Context, updates chan<- types.StatusUpdate) error {
	w, err := c.dynamic.Resource(WorkflowGVR).Namespace(metav1.NamespaceAll).Watch(ctx, metav1.ListOptions{
		LabelSelector: workflow.LabelManagedBy + "=" + workflow.ManagedByValue,
	})
	if err != nil {
		return fmt.Errorf("failed to watch workflows: %w", err)
	}
	defer w.Stop()

	for {
		select {
		case <-ctx.Done():
			return nil
		case ev, ok := <-w.ResultChan():
			if !ok {
				return nil
			}
			if ev.Type == watch.Error {
				return apierrors.FromObject(ev.Object)
			}
			update, ok := StatusFromEvent(ev)
			if !ok {
				continue
			}
			update.Timestamp = time.Now()
			select {
			case updates <- update:
			case <-ctx.Done():
				return nil
			}
		}
	}
}

// StatusFromEvent maps a workflow watch event onto a status update. The
// second result is false for events that carry no lifecycle information.
func StatusFromEvent(ev watch.Event) (types.StatusUpdate, bool) {
	obj, ok := ev.Object.(*unstructured.Unstructured)
	if !ok {
		return types.StatusUpdate{}, false
	}
	id := obj.GetLabels()[workflow.LabelInstanceID]
	if id == "" {
		return types.StatusUpdate{}, false
	}

	update := types.StatusUpdate{
		InstanceID: id,
		Handle:     types.WorkflowHandle(obj.GetNamespace(), obj.GetName()),
	}
	update.Message, _, _ = unstructured.NestedString(obj.Object, "status", "message")

	switch ev.Type {
	case watch.Deleted:
		update.Phase = types.WorkflowPhaseEnded
		return update, true
	case watch.Added, watch.Modified:
	default:
		return types.StatusUpdate{}, false
	}

	phase, _, _ := unstructured.NestedString(obj.Object, "status", "phase")
	switch phase {
	case "", "Pending", "Running":
		update.Phase = types.WorkflowPhaseRunning
	case "Succeeded":
		update.Phase = types.WorkflowPhaseEnded
	case "Failed", "Error":
		shutdown, _, _ := unstructured.NestedString(obj.Object, "spec", "shutdown")
		started, _, _ := unstructured.NestedString(obj.Object, "status", "startedAt")
		switch {
		case shutdown != "":
			update.Phase = types.WorkflowPhaseEnded
		case started == "":
			update.Phase = types.WorkflowPhaseRejected
		default:
			update.Phase = types.WorkflowPhaseFailed
		}
	default:
		return types.StatusUpdate{}, false
	}
	return update, true
}

func finished(phase string) bool {
	switch phase {
	case "Succeeded", "Failed", "Error":
		return true
	}
	return false
}

func (c *Client) createOptions() metav1.CreateOptions {
	if c.cfg.DryRun {
		return metav1.CreateOptions{DryRun: []string{metav1.DryRunAll}}
	}
	return metav1.CreateOptions{}
}

func (c *Client) ensureNamespace(ctx context.Context, name string) error {
	_, err := c.kube.CoreV1().Namespaces().Get(ctx, name, metav1.GetOptions{})
	if err == nil {
		return nil
	}
	if !apierrors.IsNotFound(err) {
		return fmt.Errorf("failed to get namespace %s: %w", name, err)
	}

	labels := map[string]string{workflow.LabelManagedBy: workflow.ManagedByValue}
	for k, v := range c.cfg.NamespaceLabels {
		labels[k] = v
	}
	ns := &corev1.Namespace{
		ObjectMeta: metav1.ObjectMeta{Name: name, Labels: labels},
	}
	_, err = c.kube.CoreV1().Namespaces().Create(ctx, ns, c.createOptions())
	if err != nil && !apierrors.IsAlreadyExists(err) {
		return fmt.Errorf("failed to create namespace %s: %w", name, err)
	}

	c.logger.Info().Str("namespace", name).Msg("namespace created")
	return nil
}
