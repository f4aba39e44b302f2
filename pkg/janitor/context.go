package janitor

import (
	"context"
	"fmt"
	"regexp"
	"strings"

	appsv1 "k8s.io/api/apps/v1"
	batchv1 "k8s.io/api/batch/v1"
	corev1 "k8s.io/api/core/v1"
	metav1 "k8s.io/apimachinery/pkg/apis/meta/v1"
	"k8s.io/apimachinery/pkg/apis/meta/v1/unstructured"

	"github.com/dschaaff/kube-janitor/pkg/janitor/logging"
)

// ResourceContextHook is a function that can extend the context with custom
// information. The cache passed to it is the cycle-local cache, shared with
// the PVC mount/reference lookups below, so a hook that rolls a random value
// (or otherwise wants "once per cycle" semantics) can memoize through it.
type ResourceContextHook func(resource interface{}, cache map[string]interface{}) map[string]interface{}

// getResourceContext returns additional context information for a resource,
// using cache to memoize any per-namespace listing across resources handled
// within the same cleanup cycle.
func (j *Janitor) getResourceContext(ctx context.Context, resource metav1.Object, cache map[string]interface{}) (map[string]interface{}, error) {
	contextData := make(map[string]interface{})

	kind := "Unknown"
	if u, ok := resource.(*unstructured.Unstructured); ok {
		kind = u.GetKind()
	}

	if strings.ToLower(kind) == "persistentvolumeclaim" {
		pvcContext, err := j.getPVCContext(ctx, resource, cache)
		if err != nil {
			return nil, fmt.Errorf("failed to get PVC context: %v", err)
		}
		contextData["pvc_is_not_mounted"] = pvcContext.PVCIsNotMounted
		contextData["pvc_is_not_referenced"] = pvcContext.PVCIsNotReferenced
	}

	if j.config.ResourceContextHook != nil {
		hookData := j.config.ResourceContextHook(resource, cache)
		for k, v := range hookData {
			contextData[k] = v
		}
	}

	return contextData, nil
}

// cacheKey builds the "<namespace>/<endpoint>" memoization key used to avoid
// re-listing the same namespace/kind pair more than once per cycle.
func cacheKey(namespace, endpoint string) string {
	return namespace + "/" + endpoint
}

func (j *Janitor) cachedPods(ctx context.Context, namespace string, cache map[string]interface{}) ([]corev1.Pod, error) {
	key := cacheKey(namespace, "pods")
	if v, ok := cache[key]; ok {
		return v.([]corev1.Pod), nil
	}
	list, err := j.client.CoreV1().Pods(namespace).List(ctx, metav1.ListOptions{})
	if err != nil {
		return nil, err
	}
	cache[key] = list.Items
	return list.Items, nil
}

func (j *Janitor) cachedStatefulSets(ctx context.Context, namespace string, cache map[string]interface{}) ([]appsv1.StatefulSet, error) {
	key := cacheKey(namespace, "statefulsets")
	if v, ok := cache[key]; ok {
		return v.([]appsv1.StatefulSet), nil
	}
	list, err := j.client.AppsV1().StatefulSets(namespace).List(ctx, metav1.ListOptions{})
	if err != nil {
		return nil, err
	}
	cache[key] = list.Items
	return list.Items, nil
}

func (j *Janitor) cachedDeployments(ctx context.Context, namespace string, cache map[string]interface{}) ([]appsv1.Deployment, error) {
	key := cacheKey(namespace, "deployments")
	if v, ok := cache[key]; ok {
		return v.([]appsv1.Deployment), nil
	}
	list, err := j.client.AppsV1().Deployments(namespace).List(ctx, metav1.ListOptions{})
	if err != nil {
		return nil, err
	}
	cache[key] = list.Items
	return list.Items, nil
}

func (j *Janitor) cachedJobs(ctx context.Context, namespace string, cache map[string]interface{}) ([]batchv1.Job, error) {
	key := cacheKey(namespace, "jobs")
	if v, ok := cache[key]; ok {
		return v.([]batchv1.Job), nil
	}
	list, err := j.client.BatchV1().Jobs(namespace).List(ctx, metav1.ListOptions{})
	if err != nil {
		return nil, err
	}
	cache[key] = list.Items
	return list.Items, nil
}

func (j *Janitor) cachedCronJobs(ctx context.Context, namespace string, cache map[string]interface{}) ([]batchv1.CronJob, error) {
	key := cacheKey(namespace, "cronjobs")
	if v, ok := cache[key]; ok {
		return v.([]batchv1.CronJob), nil
	}
	list, err := j.client.BatchV1().CronJobs(namespace).List(ctx, metav1.ListOptions{})
	if err != nil {
		return nil, err
	}
	cache[key] = list.Items
	return list.Items, nil
}

// getPVCContext checks whether a PVC is mounted by any pod, or referenced by
// a pod or by any workload that could mount it in the future, memoizing the underlying
// per-namespace listings in cache.
func (j *Janitor) getPVCContext(ctx context.Context, pvc metav1.Object, cache map[string]interface{}) (*ResourceContext, error) {
	log := logging.New().WithResource("PersistentVolumeClaim", pvc.GetNamespace(), pvc.GetName())
	pvcName := pvc.GetName()
	namespace := pvc.GetNamespace()

	isMounted := false
	isReferenced := false

	pods, err := j.cachedPods(ctx, namespace, cache)
	if err != nil {
		return nil, fmt.Errorf("failed to list pods: %v", err)
	}

	for _, pod := range pods {
		for _, volume := range pod.Spec.Volumes {
			if volume.PersistentVolumeClaim != nil && volume.PersistentVolumeClaim.ClaimName == pvcName {
				isMounted = true
				isReferenced = true
				log.V(1).Infof("mounted by pod %s", pod.Name)
				break
			}
		}
		if isMounted {
			break
		}
	}

	statefulsets, err := j.cachedStatefulSets(ctx, namespace, cache)
	if err != nil {
		return nil, fmt.Errorf("failed to list statefulsets: %v", err)
	}

	for _, sts := range statefulsets {
		for _, template := range sts.Spec.VolumeClaimTemplates {
			claimPrefix := template.Name
			pattern := fmt.Sprintf("^%s-%s-[0-9]+$", regexp.QuoteMeta(claimPrefix), regexp.QuoteMeta(sts.Name))
			matched, err := regexp.MatchString(pattern, pvcName)
			if err != nil {
				log.WithError(err).Error("error matching PVC name pattern")
				continue
			}
			if matched {
				isReferenced = true
				log.V(1).Infof("referenced by StatefulSet %s", sts.Name)
				break
			}
		}
		if isReferenced {
			break
		}
	}

	if !isReferenced {
		if referenced, err := j.isPVCReferencedByDeployments(ctx, namespace, pvcName, cache); err != nil {
			log.WithError(err).Error("error checking deployments")
		} else if referenced {
			isReferenced = true
		}

		if !isReferenced {
			if referenced, err := j.isPVCReferencedByJobs(ctx, namespace, pvcName, cache); err != nil {
				log.WithError(err).Error("error checking jobs")
			} else if referenced {
				isReferenced = true
			}
		}

		if !isReferenced {
			if referenced, err := j.isPVCReferencedByCronJobs(ctx, namespace, pvcName, cache); err != nil {
				log.WithError(err).Error("error checking cronjobs")
			} else if referenced {
				isReferenced = true
			}
		}
	}

	return &ResourceContext{
		PVCIsNotMounted:    !isMounted,
		PVCIsNotReferenced: !isReferenced,
		Cache:              cache,
	}, nil
}

func (j *Janitor) isPVCReferencedByDeployments(ctx context.Context, namespace, pvcName string, cache map[string]interface{}) (bool, error) {
	deployments, err := j.cachedDeployments(ctx, namespace, cache)
	if err != nil {
		return false, err
	}

	for _, deploy := range deployments {
		for _, volume := range deploy.Spec.Template.Spec.Volumes {
			if volume.PersistentVolumeClaim != nil && volume.PersistentVolumeClaim.ClaimName == pvcName {
				return true, nil
			}
		}
	}
	return false, nil
}

func (j *Janitor) isPVCReferencedByJobs(ctx context.Context, namespace, pvcName string, cache map[string]interface{}) (bool, error) {
	jobs, err := j.cachedJobs(ctx, namespace, cache)
	if err != nil {
		return false, err
	}

	for _, job := range jobs {
		for _, volume := range job.Spec.Template.Spec.Volumes {
			if volume.PersistentVolumeClaim != nil && volume.PersistentVolumeClaim.ClaimName == pvcName {
				return true, nil
			}
		}
	}
	return false, nil
}

func (j *Janitor) isPVCReferencedByCronJobs(ctx context.Context, namespace, pvcName string, cache map[string]interface{}) (bool, error) {
	cronJobs, err := j.cachedCronJobs(ctx, namespace, cache)
	if err != nil {
		return false, err
	}

	for _, cronJob := range cronJobs {
		for _, volume := range cronJob.Spec.JobTemplate.Spec.Template.Spec.Volumes {
			if volume.PersistentVolumeClaim != nil && volume.PersistentVolumeClaim.ClaimName == pvcName {
				return true, nil
			}
		}
	}
	return false, nil
}
