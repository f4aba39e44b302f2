package janitor

import (
	"fmt"
	"sort"
	"strings"

	"k8s.io/client-go/kubernetes"

	"github.com/dschaaff/kube-janitor/pkg/janitor/logging"
)

// ResourceType represents a discovered Kubernetes API resource kind.
type ResourceType struct {
	Group      string
	Version    string
	Kind       string
	Plural     string
	Namespaced bool
}

// groupVersion returns the "group/version" (or bare "version" for the core
// group) string used both as a discovery key and for deterministic sorting.
func (rt ResourceType) groupVersion() string {
	if rt.Group == "" {
		return rt.Version
	}
	return rt.Group + "/" + rt.Version
}

// GetResourceTypes discovers every deletable resource kind the cluster
// exposes. The core v1 group is queried first, then every other API group.
// Within a group, the preferred version is queried first; any other listed
// version is queried only to pick up endpoints not already seen under the
// preferred version, so a kind is never emitted twice. Discovery failures
// for a single group are wrapped in DiscoveryGroupError, logged, and
// skipped — they do not abort the whole discovery pass. The result lists
// core v1 kinds first, then the rest sorted by (groupVersion, plural), so
// repeated cleanup cycles process kinds in a stable, reproducible order.
func GetResourceTypes(client kubernetes.Interface) ([]ResourceType, error) {
	log := logging.New()
	seen := make(map[string]bool) // "<groupVersion>/<plural>"
	var resourceTypes []ResourceType

	addGroupVersion := func(group, groupVersion, version string) {
		resources, err := client.Discovery().ServerResourcesForGroupVersion(groupVersion)
		if err != nil {
			log.WithError(&DiscoveryGroupError{GroupVersion: groupVersion, Err: err}).
				Error("failed to list resources for API group version")
			return
		}

		for _, r := range resources.APIResources {
			if strings.Contains(r.Name, "/") || !stringInSlice("delete", r.Verbs) {
				continue
			}
			// Keyed by (group, endpoint) rather than (groupVersion, endpoint):
			// the same logical kind can appear in several served versions of a
			// group, and once it has been yielded under the preferred version
			// it must not be yielded again under a fallback one.
			key := fmt.Sprintf("%s/%s", group, r.Name)
			if seen[key] {
				continue
			}
			seen[key] = true
			resourceTypes = append(resourceTypes, ResourceType{
				Group:      group,
				Version:    version,
				Kind:       r.Kind,
				Plural:     r.Name,
				Namespaced: r.Namespaced,
			})
		}
	}

	// Core v1 group first.
	addGroupVersion("", "v1", "v1")

	groups, err := client.Discovery().ServerGroups()
	if err != nil {
		return nil, fmt.Errorf("failed to get API groups: %v", err)
	}

	// Sort groups by name so group processing order is deterministic.
	sortedGroups := make([]string, 0, len(groups.Groups))
	groupByName := make(map[string]int)
	for i, g := range groups.Groups {
		sortedGroups = append(sortedGroups, g.Name)
		groupByName[g.Name] = i
	}
	sort.Strings(sortedGroups)

	for _, name := range sortedGroups {
		group := groups.Groups[groupByName[name]]

		// Preferred version first.
		addGroupVersion(group.Name, group.PreferredVersion.GroupVersion, group.PreferredVersion.Version)

		// Then every other listed version, sorted for determinism, only
		// contributing endpoints not already seen under the preferred one.
		var others []string
		for _, v := range group.Versions {
			if v.GroupVersion != group.PreferredVersion.GroupVersion {
				others = append(others, v.GroupVersion)
			}
		}
		sort.Strings(others)
		for _, gv := range others {
			version := gv
			if idx := strings.LastIndex(gv, "/"); idx >= 0 {
				version = gv[idx+1:]
			}
			addGroupVersion(group.Name, gv, version)
		}
	}

	byKey := make(map[string]ResourceType, len(resourceTypes))
	for _, rt := range resourceTypes {
		byKey[rt.groupVersion()+"/"+rt.Plural] = rt
	}
	filterDeprecatedAPIs(byKey)

	resourceTypes = resourceTypes[:0]
	for _, rt := range byKey {
		resourceTypes = append(resourceTypes, rt)
	}

	sort.Slice(resourceTypes, func(i, j int) bool {
		ci, cj := resourceTypes[i].Group == "", resourceTypes[j].Group == ""
		if ci != cj {
			return ci
		}
		gi, gj := resourceTypes[i].groupVersion(), resourceTypes[j].groupVersion()
		if gi != gj {
			return gi < gj
		}
		return resourceTypes[i].Plural < resourceTypes[j].Plural
	})

	return resourceTypes, nil
}

// filterDeprecatedAPIs drops resourceTypes entries for kinds superseded by a
// newer API that is also present, so the janitor does not process the same
// underlying objects twice under two different endpoints. Currently this
// only concerns "endpoints", superseded by "endpointslices".
func filterDeprecatedAPIs(resourceTypes map[string]ResourceType) {
	hasEndpointSlices := false
	for _, rt := range resourceTypes {
		if rt.Plural == "endpointslices" {
			hasEndpointSlices = true
			break
		}
	}
	if !hasEndpointSlices {
		return
	}
	for key, rt := range resourceTypes {
		if rt.Plural == "endpoints" {
			delete(resourceTypes, key)
		}
	}
}

func stringInSlice(str string, slice []string) bool {
	for _, s := range slice {
		if s == str {
			return true
		}
	}
	return false
}
