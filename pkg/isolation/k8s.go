package isolation

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	corev1 "k8s.io/api/core/v1"
	policyv1 "k8s.io/api/policy/v1"
	apierrors "k8s.io/apimachinery/pkg/api/errors"
	metav1 "k8s.io/apimachinery/pkg/apis/meta/v1"
	"k8s.io/apimachinery/pkg/types"
	"k8s.io/client-go/kubernetes"
	"k8s.io/client-go/rest"
	"k8s.io/client-go/tools/clientcmd"

	"github.com/gdnd-project/gdnd/pkg/health"
	"github.com/gdnd-project/gdnd/pkg/notify"
	"github.com/gdnd-project/gdnd/pkg/retry"
)

// nodePatchRetryConfig governs retries of the node-patch read-modify-write
// sequence: the node may have been updated concurrently (by the scheduler,
// another controller, or this agent's own recovery path) between the Get
// and the Patch, and the apiserver rejects such patches as a conflict.
// Matches client-go's own conflict-retry convention of a short, fast
// backoff rather than the multi-second delay used for genuine network
// retries, since a resourceVersion conflict resolves itself immediately.
func nodePatchRetryConfig() retry.Config {
	return retry.Config{
		MaxAttempts:   5,
		InitialDelay:  10 * time.Millisecond,
		MaxDelay:      200 * time.Millisecond,
		Multiplier:    2.0,
		Jitter:        0.1,
		RetryableFunc: retry.Combine(apierrors.IsConflict, apierrors.IsServerTimeout, apierrors.IsTooManyRequests),
	}
}

// KubeClientConfig configures how to reach the apiserver: in-cluster when
// Kubeconfig is empty (the normal deployment: this agent runs as a
// DaemonSet pod), otherwise loaded from the given kubeconfig file for
// local development.
type KubeClientConfig struct {
	Kubeconfig string
	QPS        float32
	Burst      int
}

// NewClientset builds a Kubernetes clientset from cfg, preferring
// in-cluster configuration.
func NewClientset(cfg KubeClientConfig) (kubernetes.Interface, error) {
	var restCfg *rest.Config
	var err error

	if cfg.Kubeconfig == "" {
		restCfg, err = rest.InClusterConfig()
		if err != nil {
			return nil, fmt.Errorf("in-cluster client configuration: %w", err)
		}
	} else {
		restCfg, err = clientcmd.BuildConfigFromFlags("", cfg.Kubeconfig)
		if err != nil {
			return nil, fmt.Errorf("out-of-cluster client configuration: %w", err)
		}
	}

	if cfg.QPS > 0 {
		restCfg.QPS = cfg.QPS
	}
	if cfg.Burst > 0 {
		restCfg.Burst = cfg.Burst
	}

	cs, err := kubernetes.NewForConfig(restCfg)
	if err != nil {
		return nil, fmt.Errorf("create clientset: %w", err)
	}
	return cs, nil
}

// K8sExecutor drives node isolation via the real Kubernetes API: cordon
// and taint mutate node.Spec through a JSON merge patch (idempotent —
// re-applying an existing cordon or taint is a no-op), and pod eviction
// uses the standard policy/v1 Eviction subresource.
type K8sExecutor struct {
	client    kubernetes.Interface
	nodeName  string
	evictPods bool
	notifier  notify.Notifier
	logger    *slog.Logger
}

// NewK8sExecutor creates an Executor bound to one node.
func NewK8sExecutor(client kubernetes.Interface, nodeName string, evictPods bool, notifier notify.Notifier, logger *slog.Logger) *K8sExecutor {
	if logger == nil {
		logger = slog.Default()
	}
	if notifier == nil {
		notifier = notify.NewLogNotifier(logger)
	}
	return &K8sExecutor{client: client, nodeName: nodeName, evictPods: evictPods, notifier: notifier, logger: logger}
}

// Execute applies every action in transition in order. It is idempotent:
// cordon/taint/uncordon/remove-taint all check current node state before
// patching, so replaying a transition after a transient failure is safe.
func (e *K8sExecutor) Execute(ctx context.Context, transition health.Transition) error {
	for _, action := range transition.Actions {
		var err error
		switch action.Kind {
		case health.ActionCordon:
			err = e.setUnschedulable(ctx, true)
		case health.ActionUncordon:
			err = e.setUnschedulable(ctx, false)
		case health.ActionTaint:
			err = e.addTaint(ctx, action.TaintKey, action.TaintVal, action.Effect)
			if err == nil && e.evictPods {
				err = e.evictPodsOnNode(ctx)
			}
		case health.ActionRemoveTaint:
			err = e.removeTaint(ctx, action.TaintKey)
		case health.ActionAlert:
			err = e.notifier.Notify(ctx, notify.Event{Severity: action.Severity, Message: action.Message})
		}
		if err != nil {
			return fmt.Errorf("execute %s action: %w", action.Kind, err)
		}
	}
	return nil
}

func (e *K8sExecutor) getNode(ctx context.Context) (*corev1.Node, error) {
	return e.client.CoreV1().Nodes().Get(ctx, e.nodeName, metav1.GetOptions{})
}

func (e *K8sExecutor) setUnschedulable(ctx context.Context, unschedulable bool) error {
	return retry.Do(ctx, nodePatchRetryConfig(), func(ctx context.Context) error {
		node, err := e.getNode(ctx)
		if err != nil {
			return fmt.Errorf("get node: %w", err)
		}
		if node.Spec.Unschedulable == unschedulable {
			return nil
		}

		type specPatch struct {
			Spec struct {
				Unschedulable bool `json:"unschedulable"`
			} `json:"spec"`
		}
		sp := specPatch{}
		sp.Spec.Unschedulable = unschedulable

		body, err := json.Marshal(sp)
		if err != nil {
			return fmt.Errorf("marshal cordon patch: %w", err)
		}
		_, err = e.client.CoreV1().Nodes().Patch(ctx, e.nodeName, types.MergePatchType, body, metav1.PatchOptions{})
		if err != nil {
			return fmt.Errorf("patch node spec: %w", err)
		}
		return nil
	})
}

func (e *K8sExecutor) addTaint(ctx context.Context, key, value, effect string) error {
	return retry.Do(ctx, nodePatchRetryConfig(), func(ctx context.Context) error {
		node, err := e.getNode(ctx)
		if err != nil {
			return fmt.Errorf("get node: %w", err)
		}

		for _, t := range node.Spec.Taints {
			if t.Key == key && t.Effect == corev1.TaintEffect(effect) {
				return nil // already present
			}
		}

		taints := append(append([]corev1.Taint{}, node.Spec.Taints...), corev1.Taint{
			Key:    key,
			Value:  value,
			Effect: corev1.TaintEffect(effect),
		})
		return e.patchTaints(ctx, taints)
	})
}

func (e *K8sExecutor) removeTaint(ctx context.Context, key string) error {
	return retry.Do(ctx, nodePatchRetryConfig(), func(ctx context.Context) error {
		node, err := e.getNode(ctx)
		if err != nil {
			return fmt.Errorf("get node: %w", err)
		}

		filtered := make([]corev1.Taint, 0, len(node.Spec.Taints))
		found := false
		for _, t := range node.Spec.Taints {
			if t.Key == key {
				found = true
				continue
			}
			filtered = append(filtered, t)
		}
		if !found {
			return nil
		}
		return e.patchTaints(ctx, filtered)
	})
}

func (e *K8sExecutor) patchTaints(ctx context.Context, taints []corev1.Taint) error {
	type specPatch struct {
		Spec struct {
			Taints []corev1.Taint `json:"taints"`
		} `json:"spec"`
	}
	sp := specPatch{}
	sp.Spec.Taints = taints

	body, err := json.Marshal(sp)
	if err != nil {
		return fmt.Errorf("marshal taint patch: %w", err)
	}
	_, err = e.client.CoreV1().Nodes().Patch(ctx, e.nodeName, types.MergePatchType, body, metav1.PatchOptions{})
	if err != nil {
		return fmt.Errorf("patch node taints: %w", err)
	}
	return nil
}

func (e *K8sExecutor) evictPodsOnNode(ctx context.Context) error {
	pods, err := e.client.CoreV1().Pods("").List(ctx, metav1.ListOptions{
		FieldSelector: "spec.nodeName=" + e.nodeName,
	})
	if err != nil {
		return fmt.Errorf("list pods on node: %w", err)
	}

	for _, pod := range pods.Items {
		eviction := &policyv1.Eviction{
			ObjectMeta: metav1.ObjectMeta{Name: pod.Name, Namespace: pod.Namespace},
		}
		err := e.client.PolicyV1().Evictions(pod.Namespace).Evict(ctx, eviction)
		if err != nil && !apierrors.IsNotFound(err) {
			e.logger.WarnContext(ctx, "pod eviction failed", "pod", pod.Name, "namespace", pod.Namespace, "error", err)
		}
	}
	return nil
}
