// Package scope enforces the facility boundary on proxied internal API
// calls: a request originating from one facility's gateway must never act
// on another facility's data.
package scope

import (
	"encoding/json"
	"fmt"
	"strings"

	"github.com/storfleet/gatelink/internal/domain"
)

// Guard checks that a proxied request stays within a connection's bound
// facility. The zero value is ready to use.
type Guard struct{}

// EnsureWithinScope inspects path and body for facility identifiers and
// rejects any that differ from facilityID. Global roles pass unchecked.
// Returns [domain.ErrScopeViolation] wrapped with the offending id.
func (Guard) EnsureWithinScope(role, facilityID, path string, body []byte) error {
	if domain.IsGlobalRole(role) {
		return nil
	}

	if id := facilityIDFromPath(path); id != "" && id != facilityID {
		return fmt.Errorf("%w: path targets %s", domain.ErrScopeViolation, id)
	}
	for _, id := range facilityIDsFromBody(body) {
		if id != facilityID {
			return fmt.Errorf("%w: body targets %s", domain.ErrScopeViolation, id)
		}
	}
	return nil
}

// facilityIDFromPath extracts the id following a "facilities" path segment,
// e.g. /v1/facilities/fac-1/units -> fac-1.
func facilityIDFromPath(path string) string {
	segments := strings.Split(strings.Trim(path, "/"), "/")
	for i, seg := range segments {
		if seg == "facilities" && i+1 < len(segments) {
			return segments[i+1]
		}
	}
	return ""
}

// facilityIDsFromBody collects every facilityId field value found in a JSON
// body, walking nested objects and arrays. Non-JSON bodies carry no
// facility identifier this layer can see and yield nothing.
func facilityIDsFromBody(body []byte) []string {
	if len(body) == 0 {
		return nil
	}
	var parsed any
	if err := json.Unmarshal(body, &parsed); err != nil {
		return nil
	}
	var ids []string
	collectFacilityIDs(parsed, &ids)
	return ids
}

func collectFacilityIDs(v any, ids *[]string) {
	switch val := v.(type) {
	case map[string]any:
		for k, child := range val {
			if k == "facilityId" {
				if s, ok := child.(string); ok && s != "" {
					*ids = append(*ids, s)
				}
				continue
			}
			collectFacilityIDs(child, ids)
		}
	case []any:
		for _, child := range val {
			collectFacilityIDs(child, ids)
		}
	}
}
