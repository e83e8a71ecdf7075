package kubernetes

import (
	"context"
	"fmt"
	"time"

	"github.com/distribution/reference"
	corev1 "k8s.io/api/core/v1"
	metav1 "k8s.io/apimachinery/pkg/apis/meta/v1"
	clientset "k8s.io/client-go/kubernetes"
	ctrlconfig "sigs.k8s.io/controller-runtime/pkg/client/config"

	"github.com/tagwatch/tagwatch/internal/logging"
	"github.com/tagwatch/tagwatch/internal/model"
)

const defaultTag = "latest"

// Discovery reads pod annotations through the Kubernetes API.
type Discovery struct {
	client    clientset.Interface
	namespace string
	prefix    string
	now       func() time.Time
}

func NewDiscovery(client clientset.Interface, namespace, prefix string) *Discovery {
	return &Discovery{
		client:    client,
		namespace: namespace,
		prefix:    prefix,
		now:       time.Now,
	}
}

// NewFromKubeconfig uses the in-cluster config or the local kubeconfig,
// whichever is available.
func NewFromKubeconfig(namespace, prefix string) (*Discovery, error) {
	restConfig, err := ctrlconfig.GetConfig()
	if err != nil {
		return nil, fmt.Errorf("%w: unable to load kubernetes config: %w", model.ErrConfiguration, err)
	}
	client, err := clientset.NewForConfig(restConfig)
	if err != nil {
		return nil, fmt.Errorf("%w: unable to create kubernetes client: %w", model.ErrConfiguration, err)
	}
	return NewDiscovery(client, namespace, prefix), nil
}

func (d *Discovery) annotation(key string) string {
	return d.prefix + "." + key
}

// DiscoverEnabledWorkloads lists pods annotated <prefix>.enable=true. Pods
// sharing a first container name within a namespace yield one workload.
func (d *Discovery) DiscoverEnabledWorkloads(ctx context.Context) ([]model.Workload, error) {
	log := logging.GetLogger()

	pods, err := d.client.CoreV1().Pods(d.namespace).List(ctx, metav1.ListOptions{})
	if err != nil {
		return nil, fmt.Errorf("failed to list pods in namespace %q: %w", d.namespace, err)
	}
	log.Debugf("found %d pods", len(pods.Items))

	seen := make(map[string]bool)
	var workloads []model.Workload
	for i := range pods.Items {
		w, ok := d.workloadFromPod(&pods.Items[i])
		if !ok {
			continue
		}
		key := w.Namespace + "/" + w.Name
		if seen[key] {
			continue
		}
		seen[key] = true
		workloads = append(workloads, w)
	}
	log.Infof("found %d workloads", len(workloads))
	return workloads, nil
}

func (d *Discovery) FindWorkload(ctx context.Context, name, namespace string) (model.Workload, error) {
	pods, err := d.client.CoreV1().Pods(namespace).List(ctx, metav1.ListOptions{})
	if err != nil {
		return model.Workload{}, fmt.Errorf("failed to list pods in namespace %q: %w", namespace, err)
	}
	for i := range pods.Items {
		if w, ok := d.workloadFromPod(&pods.Items[i]); ok && w.Name == name {
			return w, nil
		}
	}
	return model.Workload{}, fmt.Errorf("%w: workload %s/%s", model.ErrNotFound, namespace, name)
}

func (d *Discovery) workloadFromPod(pod *corev1.Pod) (model.Workload, bool) {
	annotations := pod.GetAnnotations()
	if annotations[d.annotation("enable")] != "true" || len(pod.Spec.Containers) == 0 {
		return model.Workload{}, false
	}
	container := pod.Spec.Containers[0]

	w := model.Workload{
		Name:            container.Name,
		Namespace:       pod.Namespace,
		Image:           container.Image,
		CurrentVersion:  imageTag(container.Image),
		IncludePattern:  model.StringPtr(annotations[d.annotation("include")]),
		ExcludePattern:  model.StringPtr(annotations[d.annotation("exclude")]),
		GitOpsRepo:      model.StringPtr(annotations[d.annotation("repo")]),
		GitDirectory:    model.StringPtr(annotations[d.annotation("directory")]),
		UpdateAvailable: model.NotAvailable,
	}
	w.MarkScanned(d.now())
	return w, true
}

func imageTag(image string) string {
	ref, err := reference.Parse(image)
	if err != nil {
		return defaultTag
	}
	if tagged, ok := ref.(reference.Tagged); ok {
		return tagged.Tag()
	}
	return defaultTag
}
