package janitor

import (
	"context"
	"fmt"
	"os"
	"time"

	corev1 "k8s.io/api/core/v1"
	metav1 "k8s.io/apimachinery/pkg/apis/meta/v1"
	"k8s.io/apimachinery/pkg/apis/meta/v1/unstructured"
	"k8s.io/apimachinery/pkg/runtime/schema"

	"github.com/dschaaff/kube-janitor/pkg/janitor/logging"
	"github.com/dschaaff/kube-janitor/pkg/janitor/metrics"
)

// createEvent creates a Kubernetes event describing a pending or completed
// action against resource. In dry-run mode no event is created; the message
// is only logged.
func (j *Janitor) createEvent(ctx context.Context, resource metav1.Object, message string, reason string) error {
	log := logging.New().WithResource(objectKind(resource), resource.GetNamespace(), resource.GetName())

	if j.config.DryRun {
		log.Infof("**DRY-RUN**: would create event %s: %s", reason, message)
		return nil
	}

	kind := "Unknown"
	apiVersion := "v1"
	if u, ok := resource.(*unstructured.Unstructured); ok {
		kind = u.GetKind()
		apiVersion = u.GetAPIVersion()
	}

	now := Now()
	event := &corev1.Event{
		ObjectMeta: metav1.ObjectMeta{
			GenerateName: "kube-janitor-",
			Namespace:    resource.GetNamespace(),
		},
		InvolvedObject: corev1.ObjectReference{
			APIVersion: apiVersion,
			Kind:       kind,
			Name:       resource.GetName(),
			Namespace:  resource.GetNamespace(),
			UID:        resource.GetUID(),
		},
		Reason:         reason,
		Message:        message,
		FirstTimestamp: metav1.NewTime(now),
		LastTimestamp:  metav1.NewTime(now),
		Count:          1,
		Type:           "Normal",
		Source: corev1.EventSource{
			Component: "kube-janitor",
		},
	}

	if _, err := j.client.CoreV1().Events(resource.GetNamespace()).Create(ctx, event, metav1.CreateOptions{}); err != nil {
		return &EventError{Reason: reason, Err: err}
	}

	return nil
}

// sendDeleteNotification emits a DeleteNotification event and optional
// webhook call warning that resource will be deleted at expiryTime, then
// marks the resource as notified so the same warning is not repeated every
// cycle. endpoint is the resource's real discovered plural name, used to
// persist the notified annotation back to the API server.
func (j *Janitor) sendDeleteNotification(ctx context.Context, resource metav1.Object, endpoint string, reason string, expiryTime time.Time) error {
	log := logging.New().WithResource(objectKind(resource), resource.GetNamespace(), resource.GetName())

	if j.config.DryRun {
		log.Infof("**DRY-RUN**: would send delete notification, reason=%s expiry=%s", reason, expiryTime)
		return nil
	}

	annotations := resource.GetAnnotations()
	if annotations != nil {
		if _, notified := annotations[NotifiedAnnotation]; notified {
			return nil
		}
	}

	contextName := os.Getenv("CONTEXT_NAME")
	prefix := ""
	if contextName != "" {
		prefix = "[" + contextName + "] "
	}

	message := fmt.Sprintf("%s%s %s/%s will be deleted at %s (%s)",
		prefix, objectKind(resource), resource.GetNamespace(), resource.GetName(),
		expiryTime.Format(time.RFC3339), reason)

	if err := j.createEvent(ctx, resource, message, "DeleteNotification"); err != nil {
		return err
	}

	if err := SendWebhookNotification(message); err != nil {
		log.WithError(err).Error("failed to send webhook notification")
	}

	if annotations == nil {
		annotations = make(map[string]string)
	}
	annotations[NotifiedAnnotation] = "yes"
	resource.SetAnnotations(annotations)

	if err := j.persistAnnotations(ctx, resource, endpoint); err != nil {
		log.WithError(err).Error("failed to persist notified annotation")
	}

	metrics.RecordNotificationSent(objectKind(resource))
	return nil
}

// persistAnnotations writes resource's current annotations back to the API
// server, so that NotifiedAnnotation set in-memory survives into the next
// cycle and a resource is never re-notified for the same TTL/expiry window.
func (j *Janitor) persistAnnotations(ctx context.Context, resource metav1.Object, endpoint string) error {
	if u, ok := resource.(*unstructured.Unstructured); ok {
		group, version := u.GroupVersionKind().Group, u.GroupVersionKind().Version
		gvr := schema.GroupVersionResource{Group: group, Version: version, Resource: endpoint}

		var err error
		if u.GetNamespace() != "" {
			_, err = j.dynamicClient.Resource(gvr).Namespace(u.GetNamespace()).Update(ctx, u, metav1.UpdateOptions{})
		} else {
			_, err = j.dynamicClient.Resource(gvr).Update(ctx, u, metav1.UpdateOptions{})
		}
		return err
	}

	if ns, ok := resource.(*corev1.Namespace); ok {
		_, err := j.client.CoreV1().Namespaces().Update(ctx, ns, metav1.UpdateOptions{})
		return err
	}

	return nil
}

// wasNotified reports whether a delete notification was already recorded on
// resource via NotifiedAnnotation.
func (j *Janitor) wasNotified(obj metav1.Object) bool {
	annotations := obj.GetAnnotations()
	if annotations == nil {
		return false
	}
	_, notified := annotations[NotifiedAnnotation]
	return notified
}

// deleteResource deletes obj with background cascading propagation. endpoint
// is the resource's real discovered plural name (e.g.
// "persistentvolumeclaims"), never guessed from the kind, so the
// GroupVersionResource always matches what discovery actually returned.
func (j *Janitor) deleteResource(ctx context.Context, obj metav1.Object, endpoint string) error {
	kind := objectKind(obj)
	log := logging.New().WithResource(kind, obj.GetNamespace(), obj.GetName())

	if j.config.DryRun {
		log.Infof("**DRY-RUN**: would delete with propagation policy Background")
		return nil
	}

	group, version := "", "v1"
	if u, ok := obj.(*unstructured.Unstructured); ok {
		gvk := u.GroupVersionKind()
		group, version = gvk.Group, gvk.Version
	}
	gvr := schema.GroupVersionResource{Group: group, Version: version, Resource: endpoint}

	propagation := metav1.DeletePropagationBackground
	deleteOptions := metav1.DeleteOptions{PropagationPolicy: &propagation}

	var err error
	if obj.GetNamespace() != "" {
		log.Info("deleting namespaced resource")
		err = j.dynamicClient.Resource(gvr).Namespace(obj.GetNamespace()).Delete(ctx, obj.GetName(), deleteOptions)
	} else {
		log.Info("deleting cluster-scoped resource")
		err = j.dynamicClient.Resource(gvr).Delete(ctx, obj.GetName(), deleteOptions)
	}
	if err != nil {
		return &DeleteError{Kind: kind, Namespace: obj.GetNamespace(), Name: obj.GetName(), Err: err}
	}

	if j.config.WaitAfterDelete > 0 {
		log.Infof("waiting %d seconds after delete", j.config.WaitAfterDelete)
		time.Sleep(durationFromSeconds(j.config.WaitAfterDelete))
	}

	return nil
}

// SendWebhookNotification posts message as a JSON payload to the URL named
// by the WEBHOOK_URL environment variable, via DefaultWebhookClient. An unset
// WEBHOOK_URL disables the sink entirely; this is an optional, additive side
// channel alongside the mandatory event+annotation protocol and never blocks
// or fails the cleanup cycle.
func SendWebhookNotification(message string) error {
	client := &DefaultWebhookClient{URL: os.Getenv("WEBHOOK_URL")}
	return client.Send(WebhookMessage{Message: message})
}
