package janitor

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"

	corev1 "k8s.io/api/core/v1"
	metav1 "k8s.io/apimachinery/pkg/apis/meta/v1"
	"k8s.io/apimachinery/pkg/apis/meta/v1/unstructured"
	"k8s.io/apimachinery/pkg/runtime/schema"
	"k8s.io/client-go/dynamic"
	"k8s.io/client-go/kubernetes"
	"k8s.io/client-go/rest"
	"k8s.io/client-go/tools/clientcmd"

	"github.com/dschaaff/kube-janitor/pkg/janitor/logging"
	"github.com/dschaaff/kube-janitor/pkg/janitor/metrics"
)

// Janitor drives one reconciliation engine instance against a single
// cluster: it discovers resource kinds, lists matching resources, and
// applies the TTL/expiry decision engine to each.
type Janitor struct {
	client        kubernetes.Interface
	dynamicClient dynamic.Interface
	config        *Config
	debug         bool
	counterMutex  sync.Mutex
}

// New creates a Janitor wired to the current kubeconfig or in-cluster
// credentials.
func New(config *Config) (*Janitor, error) {
	client, err := getKubeClient()
	if err != nil {
		return nil, fmt.Errorf("failed to create Kubernetes client: %v", err)
	}

	dynamicClient, err := getDynamicClient()
	if err != nil {
		return nil, fmt.Errorf("failed to create dynamic client: %v", err)
	}

	return &Janitor{
		client:        client,
		dynamicClient: dynamicClient,
		config:        config,
		debug:         config.Debug,
	}, nil
}

func restConfig() (*rest.Config, error) {
	if config, err := rest.InClusterConfig(); err == nil {
		return config, nil
	}

	kubeconfigPath := os.Getenv("KUBECONFIG")
	if kubeconfigPath == "" {
		if homeDir, err := os.UserHomeDir(); err == nil {
			kubeconfigPath = filepath.Join(homeDir, ".kube", "config")
		}
	}

	config, err := clientcmd.BuildConfigFromFlags("", kubeconfigPath)
	if err != nil {
		return nil, fmt.Errorf("failed to create config: %v (try setting KUBECONFIG environment variable)", err)
	}
	return config, nil
}

func getKubeClient() (kubernetes.Interface, error) {
	config, err := restConfig()
	if err != nil {
		return nil, err
	}

	clientset, err := kubernetes.NewForConfig(config)
	if err != nil {
		return nil, fmt.Errorf("failed to create client: %v", err)
	}
	return clientset, nil
}

func getDynamicClient() (dynamic.Interface, error) {
	config, err := restConfig()
	if err != nil {
		return nil, err
	}

	dynamicClient, err := dynamic.NewForConfig(config)
	if err != nil {
		return nil, fmt.Errorf("failed to create dynamic client: %v", err)
	}
	return dynamicClient, nil
}

// debugLog logs a message if debug mode is enabled.
func (j *Janitor) debugLog(format string, args ...interface{}) {
	if j.debug {
		logging.New().V(1).Infof(format, args...)
	}
}

// infoLog logs a message unless quiet mode is enabled.
func (j *Janitor) infoLog(format string, args ...interface{}) {
	if !j.config.Quiet {
		logging.New().Infof(format, args...)
	}
}

// CleanUp performs one reconciliation pass: fresh discovery, namespaces
// first, then every other discovered resource kind. The resource-context
// cache and the (kind, namespace, name) seen-set are both local to this one
// call — neither ever leaks state across cycles.
func (j *Janitor) CleanUp(ctx context.Context) error {
	start := Now()
	j.debugLog("Starting cleanup run")

	resourceTypes, err := GetResourceTypes(j.client)
	if err != nil {
		return &CycleError{Stage: "discovery", Err: err}
	}
	j.debugLog("Found %d resource types", len(resourceTypes))
	metrics.RecordResourceKindsDiscovered(len(resourceTypes))

	counter := make(map[string]int)
	cache := make(map[string]interface{})
	alreadySeen := make(map[string]bool)

	j.debugLog("Processing namespaces")
	if err := j.cleanupNamespaces(ctx, counter, cache, alreadySeen); err != nil {
		logging.New().WithError(err).Error("failed to clean up namespaces")
		metrics.RecordCycleError("namespaces")
	}

	for _, resourceType := range resourceTypes {
		j.debugLog("Processing resource type: %s", resourceType.Kind)
		if err := j.cleanupResourceType(ctx, resourceType, counter, cache, alreadySeen); err != nil {
			logging.New().WithError(err).Errorf("error cleaning up resource type %s", resourceType.Kind)
			metrics.RecordCycleError(resourceType.Plural)
		}
	}

	j.logCleanupSummary(counter)
	metrics.RecordCycleDuration(Now().Sub(start).Seconds())
	j.debugLog("Cleanup run completed")
	return nil
}

// cleanupResourceType lists and processes every resource of resourceType
// across every included namespace. Namespace itself is the one
// non-namespaced kind the janitor reconciles, and is handled separately by
// cleanupNamespaces before this is ever called; every other non-namespaced
// resourceType is a no-op here.
func (j *Janitor) cleanupResourceType(ctx context.Context, resourceType ResourceType, counter map[string]int, cache map[string]interface{}, alreadySeen map[string]bool) error {
	if !j.shouldProcessResourceType(resourceType) {
		j.debugLog("Skipping excluded resource type: %s", resourceType.Kind)
		return nil
	}

	if !resourceType.Namespaced {
		return nil
	}

	namespaces, err := j.client.CoreV1().Namespaces().List(ctx, metav1.ListOptions{})
	if err != nil {
		return &ListKindError{Kind: "namespaces", Err: err}
	}

	var allResources []metav1.Object
	var resourcesMutex sync.Mutex

	for _, ns := range namespaces.Items {
		if !j.shouldProcessNamespace(ns.Name) {
			continue
		}

		resources, err := j.listNamespacedResources(ctx, resourceType, ns.Name)
		if err != nil {
			logging.New().WithError(err).Errorf("error listing %s in namespace %s", resourceType.Kind, ns.Name)
			continue
		}

		resourcesMutex.Lock()
		allResources = append(allResources, resources...)
		resourcesMutex.Unlock()
	}

	j.processResourcesInParallel(ctx, allResources, resourceType.Plural, counter, cache, alreadySeen)

	return nil
}

func (j *Janitor) shouldProcessResourceType(resourceType ResourceType) bool {
	for _, excluded := range j.config.ExcludeResources {
		if excluded == resourceType.Plural {
			return false
		}
	}

	for _, included := range j.config.IncludeResources {
		if included == "all" || included == resourceType.Plural {
			return true
		}
	}

	return false
}

func (j *Janitor) shouldProcessNamespace(namespace string) bool {
	for _, excluded := range j.config.ExcludeNamespaces {
		if excluded == namespace {
			return false
		}
	}

	for _, included := range j.config.IncludeNamespaces {
		if included == "all" || included == namespace {
			return true
		}
	}

	return false
}

func (j *Janitor) listNamespacedResources(ctx context.Context, resourceType ResourceType, namespace string) ([]metav1.Object, error) {
	gvr := schema.GroupVersionResource{
		Group:    resourceType.Group,
		Version:  resourceType.Version,
		Resource: resourceType.Plural,
	}

	list, err := j.dynamicClient.Resource(gvr).Namespace(namespace).List(ctx, metav1.ListOptions{})
	if err != nil {
		return nil, &ListKindError{Kind: resourceType.Kind, Namespace: namespace, Err: err}
	}

	resources := make([]metav1.Object, 0, len(list.Items))
	for _, item := range list.Items {
		obj := item.DeepCopy()
		obj.SetKind(resourceType.Kind)
		obj.SetAPIVersion(apiVersionFor(resourceType))
		resources = append(resources, obj)
	}

	return resources, nil
}

func apiVersionFor(rt ResourceType) string {
	if rt.Group == "" {
		return rt.Version
	}
	return rt.Group + "/" + rt.Version
}

// objectToMap converts a Kubernetes object to a plain map for JMESPath
// evaluation.
func (j *Janitor) objectToMap(obj metav1.Object) (map[string]interface{}, error) {
	if u, ok := obj.(*unstructured.Unstructured); ok {
		return u.Object, nil
	}

	data, err := json.Marshal(obj)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal object: %v", err)
	}

	var result map[string]interface{}
	if err := json.Unmarshal(data, &result); err != nil {
		return nil, fmt.Errorf("failed to unmarshal object: %v", err)
	}

	return result, nil
}

// handleResource runs the full decision engine against a single resource:
// filter check, TTL/rule evaluation, then explicit expiry. An error from the
// TTL/rule path is logged and returned only after the expiry path has run.
func (j *Janitor) handleResource(ctx context.Context, resource metav1.Object, endpoint string, counter map[string]int, cache map[string]interface{}) error {
	kind := objectKind(resource)

	if !j.matchesResourceFilter(resource, endpoint) {
		return nil
	}

	j.counterMutex.Lock()
	counter["resources-processed"]++
	j.counterMutex.Unlock()
	metrics.RecordResourceProcessed()

	ttlErr := j.handleTTL(ctx, resource, endpoint, counter, cache)
	if ttlErr != nil {
		logging.New().WithResource(kind, resource.GetNamespace(), resource.GetName()).WithError(ttlErr).Error("failed to handle TTL")
	}

	if err := j.handleExpiry(ctx, resource, endpoint, counter); err != nil {
		logging.New().WithResource(kind, resource.GetNamespace(), resource.GetName()).WithError(err).Error("failed to handle expiry")
		return err
	}

	return ttlErr
}

func (j *Janitor) cleanupNamespaces(ctx context.Context, counter map[string]int, cache map[string]interface{}, alreadySeen map[string]bool) error {
	if !stringInSlice("namespaces", j.config.IncludeResources) && !stringInSlice("all", j.config.IncludeResources) {
		return nil
	}

	namespaces, err := j.client.CoreV1().Namespaces().List(ctx, metav1.ListOptions{})
	if err != nil {
		return &ListKindError{Kind: "namespaces", Err: err}
	}

	var filtered []metav1.Object
	for i := range namespaces.Items {
		ns := &namespaces.Items[i]
		if j.matchesResourceFilter(ns, "namespaces") {
			filtered = append(filtered, ns)
		}
	}

	j.processResourcesInParallel(ctx, filtered, "namespaces", counter, cache, alreadySeen)
	return nil
}

// processResourcesInParallel fans resources out across a worker pool sized
// by config.Parallelism (minimum 1), deduping by (kind, namespace, name)
// against the cycle-wide alreadySeen set.
func (j *Janitor) processResourcesInParallel(ctx context.Context, resources []metav1.Object, endpoint string, counter map[string]int, cache map[string]interface{}, alreadySeen map[string]bool) {
	if len(resources) == 0 {
		return
	}

	var alreadySeenMutex sync.Mutex
	var wg sync.WaitGroup

	resourceCh := make(chan metav1.Object, len(resources))

	numWorkers := j.config.Parallelism
	if numWorkers <= 0 {
		numWorkers = 1
	}

	for i := 0; i < numWorkers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()

			for resource := range resourceCh {
				alreadySeenMutex.Lock()
				key := fmt.Sprintf("%s/%s/%s", objectKind(resource), resource.GetNamespace(), resource.GetName())
				seen := alreadySeen[key]
				if !seen {
					alreadySeen[key] = true
				}
				alreadySeenMutex.Unlock()

				if seen {
					continue
				}

				if err := j.handleResource(ctx, resource, endpoint, counter, cache); err != nil {
					logging.New().WithError(err).Errorf("error handling %s %s/%s",
						objectKind(resource), resource.GetNamespace(), resource.GetName())
				}
			}
		}()
	}

	for _, resource := range resources {
		resourceCh <- resource
	}

	close(resourceCh)
	wg.Wait()
}

func (j *Janitor) logCleanupSummary(counter map[string]int) {
	if j.config.Quiet {
		return
	}

	j.counterMutex.Lock()
	defer j.counterMutex.Unlock()

	var stats []string
	for k, v := range counter {
		stats = append(stats, fmt.Sprintf("%s=%d", k, v))
	}

	logging.New().Infof("Clean up run completed: %s", strings.Join(stats, ", "))
}

// matchesResourceFilter reports whether obj passes the configured
// include/exclude resource and namespace filters. endpoint is the resource's
// real discovered plural name; it is never re-derived from the kind, so
// operators configuring include-resources/exclude-resources by endpoint name
// (e.g. "ingresses") get the behaviour they asked for regardless of
// pluralization quirks.
func (j *Janitor) matchesResourceFilter(obj metav1.Object, endpoint string) bool {
	kind := objectKind(obj)
	if _, ok := obj.(*corev1.Namespace); ok {
		kind = "Namespace"
	}

	namespace := obj.GetNamespace()
	name := obj.GetName()

	if kind == "Namespace" {
		namespace = name
	}

	for _, excluded := range j.config.ExcludeResources {
		if excluded == endpoint {
			return false
		}
	}

	resourceIncluded := false
	for _, included := range j.config.IncludeResources {
		if included == "all" || included == endpoint {
			resourceIncluded = true
			break
		}
	}
	if !resourceIncluded {
		return false
	}

	if kind == "Namespace" {
		for _, excluded := range j.config.ExcludeNamespaces {
			if excluded == name {
				return false
			}
		}
		for _, included := range j.config.IncludeNamespaces {
			if included == "all" || included == name {
				return true
			}
		}
		return false
	}

	if namespace == "" {
		// Non-namespaced resources other than Namespace itself are never
		// reconciled.
		return false
	}

	for _, excluded := range j.config.ExcludeNamespaces {
		if excluded == namespace {
			return false
		}
	}
	for _, included := range j.config.IncludeNamespaces {
		if included == "all" || included == namespace {
			return true
		}
	}

	return false
}
