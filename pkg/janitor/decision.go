package janitor

import (
	"context"
	"fmt"
	"time"

	metav1 "k8s.io/apimachinery/pkg/apis/meta/v1"
	"k8s.io/apimachinery/pkg/apis/meta/v1/unstructured"

	"github.com/dschaaff/kube-janitor/pkg/janitor/logging"
	"github.com/dschaaff/kube-janitor/pkg/janitor/metrics"
)

// TimeToLiveExpiredReason and ExpiryTimeReachedReason are the Kubernetes
// event reasons emitted when a resource is deleted on TTL/rule expiry or on
// an explicit expiry timestamp, respectively. Both the TTL-annotation and
// rule-matched paths share TimeToLiveExpiredReason; only the message's
// parenthetical differs between them.
const (
	TimeToLiveExpiredReason = "TimeToLiveExpired"
	ExpiryTimeReachedReason = "ExpiryTimeReached"
)

func objectKind(obj metav1.Object) string {
	if u, ok := obj.(*unstructured.Unstructured); ok {
		return u.GetKind()
	}
	return "Unknown"
}

func durationFromSeconds(seconds int) time.Duration {
	return time.Duration(seconds) * time.Second
}

// deploymentTime computes the effective age reference for a resource: the
// later of its creation timestamp and a valid deployment-time annotation, if
// one is configured and present. An unparsable annotation value is logged
// and ignored — age falls back to the creation timestamp alone.
func (j *Janitor) deploymentTime(obj metav1.Object) time.Time {
	creation := obj.GetCreationTimestamp().Time
	if j.config.DeploymentTimeAnnotation == "" {
		return creation
	}

	annotations := obj.GetAnnotations()
	if annotations == nil {
		return creation
	}

	raw, ok := annotations[j.config.DeploymentTimeAnnotation]
	if !ok {
		return creation
	}

	annotationTime, err := ParseExpiry(raw)
	if err != nil {
		logging.New().WithResource(objectKind(obj), obj.GetNamespace(), obj.GetName()).
			WithError(&InvalidDeploymentTimeError{Annotation: j.config.DeploymentTimeAnnotation, Value: raw, Err: err}).
			Error("ignoring unparsable deployment time annotation")
		return creation
	}

	if annotationTime.After(creation) {
		return annotationTime
	}
	return creation
}

// handleExpiry processes a resource's explicit expiry annotation. endpoint
// is the resource's real discovered plural name, used both for the delete
// call's GroupVersionResource and for the cycle counter label.
func (j *Janitor) handleExpiry(ctx context.Context, obj metav1.Object, endpoint string, counter map[string]int) error {
	annotations := obj.GetAnnotations()
	if annotations == nil {
		return nil
	}

	expiry, ok := annotations[ExpiryAnnotation]
	if !ok {
		return nil
	}

	expiryTime, err := ParseExpiry(expiry)
	if err != nil {
		return &InvalidExpiryError{Value: expiry, Err: err}
	}

	kind := objectKind(obj)

	j.counterMutex.Lock()
	counter[endpoint+"-with-expiry"]++
	j.counterMutex.Unlock()

	if Now().After(expiryTime) {
		message := fmt.Sprintf("%s %s/%s expired on %s and will be deleted (annotation %s is set)",
			kind, obj.GetNamespace(), obj.GetName(), expiry, ExpiryAnnotation)

		if err := j.createEvent(ctx, obj, message, ExpiryTimeReachedReason); err != nil {
			logging.New().WithResource(kind, obj.GetNamespace(), obj.GetName()).WithError(err).
				Error("failed to create event, proceeding with delete")
		}

		if err := j.deleteResource(ctx, obj, endpoint); err != nil {
			return err
		}

		j.counterMutex.Lock()
		counter[endpoint+"-deleted"]++
		j.counterMutex.Unlock()
		metrics.RecordResourceDeleted(kind, ExpiryTimeReachedReason)
	} else if j.config.DeleteNotification > 0 {
		notificationTime := expiryTime.Add(-durationFromSeconds(j.config.DeleteNotification))
		if Now().After(notificationTime) && !j.wasNotified(obj) {
			if err := j.sendDeleteNotification(ctx, obj, endpoint, fmt.Sprintf("annotation %s is set", ExpiryAnnotation), expiryTime); err != nil {
				return err
			}
		}
	}

	return nil
}

// handleTTL processes a resource's TTL annotation, falling back to rule
// evaluation when no TTL annotation is present. endpoint is the resource's
// real discovered plural name.
func (j *Janitor) handleTTL(ctx context.Context, obj metav1.Object, endpoint string, counter map[string]int, cache map[string]interface{}) error {
	annotations := obj.GetAnnotations()
	if annotations == nil {
		return j.handleRules(ctx, obj, endpoint, counter, cache)
	}

	ttl, hasTTL := annotations[TTLAnnotation]
	if !hasTTL {
		return j.handleRules(ctx, obj, endpoint, counter, cache)
	}

	ttlDuration, err := ParseTTL(ttl)
	if err != nil {
		return &InvalidTTLError{Value: ttl, Err: err}
	}

	if ttlDuration < 0 {
		// "forever"
		return nil
	}

	j.counterMutex.Lock()
	counter[endpoint+"-with-ttl"]++
	j.counterMutex.Unlock()

	deployTime := j.deploymentTime(obj)
	expiryTime := deployTime.Add(ttlDuration)
	reason := fmt.Sprintf("annotation %s is set", TTLAnnotation)

	return j.applyExpiry(ctx, obj, endpoint, ttl, deployTime, expiryTime, reason, counter)
}

// handleRules checks whether any configured rule matches the resource and,
// for the first one that does, applies its TTL. Only the first matching
// rule is honored per resource.
func (j *Janitor) handleRules(ctx context.Context, obj metav1.Object, endpoint string, counter map[string]int, cache map[string]interface{}) error {
	if len(j.config.Rules) == 0 {
		return nil
	}

	resourceMap, err := j.objectToMap(obj)
	if err != nil {
		return fmt.Errorf("failed to convert resource to map: %v", err)
	}

	resourceContext, err := j.getResourceContext(ctx, obj, cache)
	if err != nil {
		logging.New().WithResource(objectKind(obj), obj.GetNamespace(), obj.GetName()).
			WithError(err).Error("failed to build resource context, evaluating rules without it")
		resourceContext = make(map[string]interface{})
	}

	for _, rule := range j.config.Rules {
		if !rule.Matches(endpoint, resourceMap, resourceContext) {
			continue
		}

		j.counterMutex.Lock()
		counter["rule-"+rule.ID+"-matches"]++
		j.counterMutex.Unlock()

		ttlDuration, err := ParseTTL(rule.TTL)
		if err != nil {
			return &InvalidTTLError{Value: rule.TTL, Err: err}
		}

		if ttlDuration < 0 {
			// "forever" — no further rules are evaluated once one matches.
			return nil
		}

		j.counterMutex.Lock()
		counter[endpoint+"-with-ttl"]++
		j.counterMutex.Unlock()

		deployTime := j.deploymentTime(obj)
		expiryTime := deployTime.Add(ttlDuration)
		reason := fmt.Sprintf("rule %s matches", rule.ID)

		return j.applyExpiry(ctx, obj, endpoint, rule.TTL, deployTime, expiryTime, reason, counter)
	}

	return nil
}

// applyExpiry is shared by the TTL-annotation and rule-matched paths: if
// expiryTime has passed, the resource is deleted; otherwise a delete
// notification may be sent. ttl is the matching TTL string (e.g. "1h") and
// deployTime its effective age reference, used together to render the
// delete event's age message. reason must be a non-empty description used
// in the event message and notification — an empty reason reaching here is
// a programmer error and is logged without emitting a malformed event.
func (j *Janitor) applyExpiry(ctx context.Context, obj metav1.Object, endpoint string, ttl string, deployTime time.Time, expiryTime time.Time, reason string, counter map[string]int) error {
	if reason == "" {
		logging.New().WithResource(objectKind(obj), obj.GetNamespace(), obj.GetName()).
			Error("applyExpiry called with empty reason, refusing to emit event")
		return nil
	}

	kind := objectKind(obj)

	if Now().After(expiryTime) {
		age := Now().Sub(deployTime)
		message := fmt.Sprintf("%s %s with %s TTL is %s old and will be deleted (%s)",
			kind, obj.GetName(), ttl, FormatDuration(age), reason)

		if err := j.createEvent(ctx, obj, message, TimeToLiveExpiredReason); err != nil {
			logging.New().WithResource(kind, obj.GetNamespace(), obj.GetName()).WithError(err).
				Error("failed to create event, proceeding with delete")
		}

		if err := j.deleteResource(ctx, obj, endpoint); err != nil {
			return err
		}

		j.counterMutex.Lock()
		counter[endpoint+"-deleted"]++
		j.counterMutex.Unlock()
		metrics.RecordResourceDeleted(kind, TimeToLiveExpiredReason)
		return nil
	}

	if j.config.DeleteNotification > 0 {
		notificationTime := expiryTime.Add(-durationFromSeconds(j.config.DeleteNotification))
		if Now().After(notificationTime) && !j.wasNotified(obj) {
			if err := j.sendDeleteNotification(ctx, obj, endpoint, reason, expiryTime); err != nil {
				return err
			}
		}
	}

	return nil
}
