package janitor

import (
	"fmt"
	"testing"

	metav1 "k8s.io/apimachinery/pkg/apis/meta/v1"
	"k8s.io/client-go/discovery"
	discoveryfake "k8s.io/client-go/discovery/fake"
	"k8s.io/client-go/kubernetes"
	fakekubernetes "k8s.io/client-go/kubernetes/fake"
)

// erroringDiscovery wraps a discovery.DiscoveryInterface and fails a single
// named group version, so discovery's per-group fault tolerance can be
// exercised without a real cluster.
type erroringDiscovery struct {
	discovery.DiscoveryInterface
	failGroupVersion string
}

func (d *erroringDiscovery) ServerResourcesForGroupVersion(groupVersion string) (*metav1.APIResourceList, error) {
	if groupVersion == d.failGroupVersion {
		return nil, fmt.Errorf("simulated discovery failure for %s", groupVersion)
	}
	return d.DiscoveryInterface.ServerResourcesForGroupVersion(groupVersion)
}

// clientWithDiscovery substitutes the wrapped discovery client onto an
// otherwise ordinary kubernetes.Interface.
type clientWithDiscovery struct {
	kubernetes.Interface
	disc discovery.DiscoveryInterface
}

func (c *clientWithDiscovery) Discovery() discovery.DiscoveryInterface {
	return c.disc
}

func TestGetResourceTypes(t *testing.T) {
	base := fakekubernetes.NewSimpleClientset()
	fakeDisc, ok := base.Discovery().(*discoveryfake.FakeDiscovery)
	if !ok {
		t.Fatalf("expected *discoveryfake.FakeDiscovery, got %T", base.Discovery())
	}

	fakeDisc.Fake.Resources = []*metav1.APIResourceList{
		{
			GroupVersion: "v1",
			APIResources: []metav1.APIResource{
				{
					Name:       "pods",
					Kind:       "Pod",
					Namespaced: true,
					Verbs:      []string{"get", "list", "delete"},
				},
				{
					// subresources (containing "/") must never be yielded
					Name:       "pods/status",
					Kind:       "Pod",
					Namespaced: true,
					Verbs:      []string{"get", "update", "delete"},
				},
				{
					// no delete verb: must never be yielded
					Name:       "componentstatuses",
					Kind:       "ComponentStatus",
					Namespaced: false,
					Verbs:      []string{"get", "list"},
				},
			},
		},
		{
			// apps/v1 becomes the preferred version for the "apps" group,
			// since it's the first entry FakeDiscovery.ServerGroups() sees
			// for that group.
			GroupVersion: "apps/v1",
			APIResources: []metav1.APIResource{
				{
					Name:       "deployments",
					Kind:       "Deployment",
					Namespaced: true,
					Verbs:      []string{"get", "list", "delete"},
				},
			},
		},
		{
			// A non-preferred version of the same group: "deployments" is
			// already seen under the preferred version and must not be
			// re-emitted, but "widgets" is new here and must be picked up.
			GroupVersion: "apps/v1beta1",
			APIResources: []metav1.APIResource{
				{
					Name:       "deployments",
					Kind:       "Deployment",
					Namespaced: true,
					Verbs:      []string{"get", "list", "delete"},
				},
				{
					Name:       "widgets",
					Kind:       "Widget",
					Namespaced: true,
					Verbs:      []string{"get", "list", "delete"},
				},
			},
		},
		{
			// This group's only version is made to fail below; its
			// resources must be absent from the result without aborting
			// discovery of the rest.
			GroupVersion: "batch/v1",
			APIResources: []metav1.APIResource{
				{
					Name:       "jobs",
					Kind:       "Job",
					Namespaced: true,
					Verbs:      []string{"get", "list", "delete"},
				},
			},
		},
	}

	client := &clientWithDiscovery{
		Interface: base,
		disc:      &erroringDiscovery{DiscoveryInterface: fakeDisc, failGroupVersion: "batch/v1"},
	}

	resourceTypes, err := GetResourceTypes(client)
	if err != nil {
		t.Fatalf("GetResourceTypes() error = %v", err)
	}

	byPlural := make(map[string]ResourceType)
	for _, rt := range resourceTypes {
		if _, dup := byPlural[rt.Plural]; dup {
			t.Errorf("resource %q yielded more than once", rt.Plural)
		}
		byPlural[rt.Plural] = rt
	}

	for _, excluded := range []string{"pods/status", "componentstatuses", "jobs"} {
		if _, present := byPlural[excluded]; present {
			t.Errorf("unexpected resource %q in discovery result", excluded)
		}
	}

	for _, expected := range []string{"pods", "deployments", "widgets"} {
		if _, present := byPlural[expected]; !present {
			t.Errorf("expected resource %q in discovery result, got %v", expected, byPlural)
		}
	}

	if deployments := byPlural["deployments"]; deployments.Version != "v1" {
		t.Errorf("deployments resolved from version %q, want the preferred version v1", deployments.Version)
	}

	// Core v1 must be processed before any API group.
	podsIdx, deploymentsIdx := -1, -1
	for i, rt := range resourceTypes {
		if rt.Plural == "pods" {
			podsIdx = i
		}
		if rt.Plural == "deployments" {
			deploymentsIdx = i
		}
	}
	if podsIdx == -1 || deploymentsIdx == -1 {
		t.Fatalf("expected both pods and deployments in result, got %v", resourceTypes)
	}
	if podsIdx > deploymentsIdx {
		t.Errorf("expected core v1 resources (pods) before group resources (deployments), got order %v", resourceTypes)
	}
}

func TestFilterDeprecatedAPIs(t *testing.T) {
	tests := []struct {
		name           string
		resourceTypes  map[string]ResourceType
		expectedKeys   []string
		unexpectedKeys []string
	}{
		{
			name: "removes endpoints when endpointslices exist",
			resourceTypes: map[string]ResourceType{
				"v1/endpoints": {
					Group:      "",
					Version:    "v1",
					Kind:       "Endpoints",
					Plural:     "endpoints",
					Namespaced: true,
				},
				"discovery.k8s.io/v1/endpointslices": {
					Group:      "discovery.k8s.io",
					Version:    "v1",
					Kind:       "EndpointSlice",
					Plural:     "endpointslices",
					Namespaced: true,
				},
				"v1/pods": {
					Group:      "",
					Version:    "v1",
					Kind:       "Pod",
					Plural:     "pods",
					Namespaced: true,
				},
			},
			expectedKeys:   []string{"discovery.k8s.io/v1/endpointslices", "v1/pods"},
			unexpectedKeys: []string{"v1/endpoints"},
		},
		{
			name: "keeps endpoints when endpointslices do not exist",
			resourceTypes: map[string]ResourceType{
				"v1/endpoints": {
					Group:      "",
					Version:    "v1",
					Kind:       "Endpoints",
					Plural:     "endpoints",
					Namespaced: true,
				},
				"v1/pods": {
					Group:      "",
					Version:    "v1",
					Kind:       "Pod",
					Plural:     "pods",
					Namespaced: true,
				},
			},
			expectedKeys:   []string{"v1/endpoints", "v1/pods"},
			unexpectedKeys: []string{},
		},
		{
			name: "no changes when neither endpoints nor endpointslices exist",
			resourceTypes: map[string]ResourceType{
				"v1/pods": {
					Group:      "",
					Version:    "v1",
					Kind:       "Pod",
					Plural:     "pods",
					Namespaced: true,
				},
				"v1/services": {
					Group:      "",
					Version:    "v1",
					Kind:       "Service",
					Plural:     "services",
					Namespaced: true,
				},
			},
			expectedKeys:   []string{"v1/pods", "v1/services"},
			unexpectedKeys: []string{},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			// Create a copy of the map to avoid modifying the test data
			resourceTypesMap := make(map[string]ResourceType)
			for k, v := range tt.resourceTypes {
				resourceTypesMap[k] = v
			}

			filterDeprecatedAPIs(resourceTypesMap)

			// Check that expected keys are present
			for _, key := range tt.expectedKeys {
				if _, exists := resourceTypesMap[key]; !exists {
					t.Errorf("Expected key %s to exist in resourceTypesMap", key)
				}
			}

			// Check that unexpected keys are not present
			for _, key := range tt.unexpectedKeys {
				if _, exists := resourceTypesMap[key]; exists {
					t.Errorf("Expected key %s to not exist in resourceTypesMap", key)
				}
			}
		})
	}
}
