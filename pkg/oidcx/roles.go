package oidcx

import (
	"encoding/json"
	"slices"

	"github.com/aussiebroadwan/litcal/pkg/jwtx"
)

// ExtractRoles flattens the provider's namespaced role claim into sorted role
// names. The claim is normally an object of role -> grant, where a grant
// counts when it is true, a non-empty object, or any other non-false value.
// A plain array of names is accepted too. With no namespaced claim we fall
// back to the plain "roles" claim; with neither the result is empty, never
// nil.
func ExtractRoles(claims jwtx.Claims, claimName string) []string {
	var raw json.RawMessage
	found, err := claims.Claim(claimName, &raw)
	if err != nil || !found {
		out := slices.Clone(claims.Roles)
		if out == nil {
			out = []string{}
		}
		slices.Sort(out)
		return slices.Compact(out)
	}
	return rolesFromRaw(raw)
}

func rolesFromRaw(raw json.RawMessage) []string {
	out := []string{}

	var grants map[string]json.RawMessage
	if err := json.Unmarshal(raw, &grants); err == nil {
		for role, grant := range grants {
			if role != "" && granted(grant) {
				out = append(out, role)
			}
		}
		slices.Sort(out)
		return out
	}

	var names []string
	if err := json.Unmarshal(raw, &names); err == nil {
		for _, n := range names {
			if n != "" {
				out = append(out, n)
			}
		}
		slices.Sort(out)
		return slices.Compact(out)
	}

	return out
}

func granted(v json.RawMessage) bool {
	switch string(v) {
	case "false", "null", "{}", "[]", `""`, "0":
		return false
	default:
		return len(v) > 0
	}
}
