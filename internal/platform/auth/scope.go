package auth

import (
	"fmt"
	"strings"
)

// ParsedSMARTScope is a SMART v2 resource scope broken into its components.
// Interactions holds the expanded interaction set (read → read+search,
// write → create+update+delete, cruds/* → all five); access checks operate
// on the expanded set only.
type ParsedSMARTScope struct {
	Context      string   // "patient", "user", or "system"
	ResourceType string   // e.g. "Patient", "Observation", "*"
	Interactions []string // expanded interaction set
	Raw          string
}

// specialScopes are SMART scopes with no resource grammar. ParseScope
// returns (nil, nil) for these; they are valid but carry no access rights
// over FHIR resources.
var specialScopes = map[string]bool{
	"launch":           true,
	"launch/patient":   true,
	"launch/encounter": true,
	"openid":           true,
	"fhirUser":         true,
	"profile":          true,
	"offline_access":   true,
	"online_access":    true,
}

// fhirResourceTypes is the allow-list of resource types accepted in scopes.
var fhirResourceTypes = map[string]bool{
	"Patient":              true,
	"Practitioner":         true,
	"PractitionerRole":     true,
	"Encounter":            true,
	"Observation":          true,
	"Condition":            true,
	"Procedure":            true,
	"MedicationRequest":    true,
	"MedicationStatement":  true,
	"Medication":           true,
	"AllergyIntolerance":   true,
	"Immunization":         true,
	"DiagnosticReport":     true,
	"DocumentReference":    true,
	"CarePlan":             true,
	"CareTeam":             true,
	"Goal":                 true,
	"ServiceRequest":       true,
	"Appointment":          true,
	"Schedule":             true,
	"Slot":                 true,
	"Coverage":             true,
	"Claim":                true,
	"Organization":         true,
	"Location":             true,
	"Device":               true,
	"Specimen":             true,
	"FamilyMemberHistory":  true,
	"RelatedPerson":        true,
	"Consent":              true,
	"Provenance":           true,
	"AuditEvent":           true,
	"Binary":               true,
	"Bundle":               true,
	"Communication":        true,
	"Task":                 true,
	"QuestionnaireResponse": true,
}

// scopeInteractions is the set of interaction tokens the grammar accepts.
var scopeInteractions = map[string]bool{
	"read":   true,
	"write":  true,
	"create": true,
	"update": true,
	"delete": true,
	"search": true,
	"cruds":  true,
	"*":      true,
}

// expandInteraction maps an interaction token to the set of concrete
// interactions it grants. This expansion is the basis for all access checks.
func expandInteraction(interaction string) []string {
	switch interaction {
	case "cruds", "*":
		return []string{"create", "read", "update", "delete", "search"}
	case "read":
		return []string{"read", "search"}
	case "write":
		return []string{"create", "update", "delete"}
	default:
		return []string{interaction}
	}
}

// ParseScope parses a SMART scope string. Special scopes (launch, openid,
// offline_access, ...) return (nil, nil). Resource scopes must match
// context/ResourceType.interaction with context in {patient,user,system},
// a known resource type or "*", and a known interaction.
func ParseScope(scope string) (*ParsedSMARTScope, error) {
	if specialScopes[scope] {
		return nil, nil
	}

	slash := strings.Index(scope, "/")
	dot := strings.LastIndex(scope, ".")
	if slash <= 0 || dot <= slash+1 || dot == len(scope)-1 {
		return nil, fmt.Errorf("invalid scope format %q: expected context/ResourceType.interaction", scope)
	}

	ctx := scope[:slash]
	resourceType := scope[slash+1 : dot]
	interaction := scope[dot+1:]

	if ctx != "patient" && ctx != "user" && ctx != "system" {
		return nil, fmt.Errorf("invalid scope format %q: context must be patient, user, or system", scope)
	}
	if resourceType != "*" && !fhirResourceTypes[resourceType] {
		return nil, fmt.Errorf("unknown resource type %q in scope %q", resourceType, scope)
	}
	if !scopeInteractions[interaction] {
		return nil, fmt.Errorf("invalid interaction %q in scope %q", interaction, scope)
	}

	return &ParsedSMARTScope{
		Context:      ctx,
		ResourceType: resourceType,
		Interactions: expandInteraction(interaction),
		Raw:          scope,
	}, nil
}

// IsValidScope reports whether a scope string is syntactically and
// semantically valid (special scopes included).
func IsValidScope(scope string) bool {
	if specialScopes[scope] {
		return true
	}
	_, err := ParseScope(scope)
	return err == nil
}

// ValidateScopeAccess reports whether any of the granted scopes permits the
// given action on the given resource type. Scopes that fail to parse (or
// are special scopes) are skipped, never treated as errors: a malformed
// grant entry cannot widen or block access through an error path.
func ValidateScopeAccess(scopes []string, resourceType, action string) bool {
	for _, raw := range scopes {
		parsed, err := ParseScope(raw)
		if err != nil || parsed == nil {
			continue
		}
		if parsed.ResourceType != "*" && parsed.ResourceType != resourceType {
			continue
		}
		for _, i := range parsed.Interactions {
			if i == action {
				return true
			}
		}
	}
	return false
}

// ValidateScopeString validates every space-separated token of a scope
// string independently and aggregates all errors rather than stopping at
// the first bad token.
func ValidateScopeString(scopeStr string) (bool, []string) {
	tokens := strings.Fields(scopeStr)
	if len(tokens) == 0 {
		return false, []string{"scope string is empty"}
	}

	var errs []string
	for _, tok := range tokens {
		if specialScopes[tok] {
			continue
		}
		if _, err := ParseScope(tok); err != nil {
			errs = append(errs, err.Error())
		}
	}
	return len(errs) == 0, errs
}
