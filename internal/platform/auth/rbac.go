package auth

import (
	"context"
	"time"
)

// Role identifies a clinical staff role in the permission matrix.
type Role string

const (
	RoleAdmin        Role = "admin"
	RolePhysician    Role = "physician"
	RoleNurse        Role = "nurse"
	RolePharmacist   Role = "pharmacist"
	RoleLabTech      Role = "lab_tech"
	RoleReceptionist Role = "receptionist"
	RoleBilling      Role = "billing"
	RolePatient      Role = "patient"
)

// Permission grants a set of actions on a resource type. Conditions are
// advisory metadata (e.g. "own_data") returned to callers for row-level
// filtering; they are not enforced by the engine.
type Permission struct {
	Resource   string
	Actions    []string
	Conditions []string
}

// rolePermissions is the static role → permission matrix, built once at
// process start and never mutated. Resource "*" is the super-wildcard
// reserved for the admin role.
var rolePermissions = map[Role][]Permission{
	RoleAdmin: {
		{Resource: "*", Actions: []string{"create", "read", "update", "delete", "search"}},
	},
	RolePhysician: {
		{Resource: "Patient", Actions: []string{"create", "read", "update", "search"}},
		{Resource: "Encounter", Actions: []string{"create", "read", "update", "search"}},
		{Resource: "Observation", Actions: []string{"create", "read", "update", "search"}},
		{Resource: "Condition", Actions: []string{"create", "read", "update", "search"}},
		{Resource: "Procedure", Actions: []string{"create", "read", "update", "search"}},
		{Resource: "MedicationRequest", Actions: []string{"create", "read", "update", "delete", "search"}},
		{Resource: "AllergyIntolerance", Actions: []string{"create", "read", "update", "search"}},
		{Resource: "DiagnosticReport", Actions: []string{"create", "read", "update", "search"}},
		{Resource: "CarePlan", Actions: []string{"create", "read", "update", "search"}},
		{Resource: "DocumentReference", Actions: []string{"create", "read", "search"}},
	},
	RoleNurse: {
		{Resource: "Patient", Actions: []string{"read", "update", "search"}},
		{Resource: "Encounter", Actions: []string{"read", "update", "search"}},
		{Resource: "Observation", Actions: []string{"create", "read", "update", "search"}},
		{Resource: "Condition", Actions: []string{"read", "search"}},
		{Resource: "MedicationRequest", Actions: []string{"read", "search"}},
		{Resource: "AllergyIntolerance", Actions: []string{"create", "read", "search"}},
		{Resource: "CarePlan", Actions: []string{"read", "search"}},
	},
	RolePharmacist: {
		{Resource: "Patient", Actions: []string{"read", "search"}},
		{Resource: "MedicationRequest", Actions: []string{"read", "update", "search"}},
		{Resource: "Medication", Actions: []string{"create", "read", "update", "search"}},
		{Resource: "AllergyIntolerance", Actions: []string{"read", "search"}},
	},
	RoleLabTech: {
		{Resource: "Patient", Actions: []string{"read", "search"}},
		{Resource: "ServiceRequest", Actions: []string{"read", "update", "search"}},
		{Resource: "Observation", Actions: []string{"create", "read", "update", "search"}},
		{Resource: "DiagnosticReport", Actions: []string{"create", "read", "update", "search"}},
		{Resource: "Specimen", Actions: []string{"create", "read", "update", "search"}},
	},
	RoleReceptionist: {
		{Resource: "Patient", Actions: []string{"create", "read", "update", "search"}},
		{Resource: "Appointment", Actions: []string{"create", "read", "update", "delete", "search"}},
		{Resource: "Schedule", Actions: []string{"read", "search"}},
		{Resource: "Slot", Actions: []string{"read", "search"}},
		{Resource: "Coverage", Actions: []string{"create", "read", "update", "search"}},
	},
	RoleBilling: {
		{Resource: "Patient", Actions: []string{"read", "search"}, Conditions: []string{"billing_fields_only"}},
		{Resource: "Claim", Actions: []string{"create", "read", "update", "search"}},
		{Resource: "Coverage", Actions: []string{"read", "search"}},
		{Resource: "Encounter", Actions: []string{"read", "search"}},
	},
	RolePatient: {
		{Resource: "Patient", Actions: []string{"read"}, Conditions: []string{"own_data"}},
		{Resource: "Observation", Actions: []string{"read", "search"}, Conditions: []string{"own_data"}},
		{Resource: "Condition", Actions: []string{"read", "search"}, Conditions: []string{"own_data"}},
		{Resource: "MedicationRequest", Actions: []string{"read", "search"}, Conditions: []string{"own_data"}},
		{Resource: "Immunization", Actions: []string{"read", "search"}, Conditions: []string{"own_data"}},
		{Resource: "AllergyIntolerance", Actions: []string{"read", "search"}, Conditions: []string{"own_data"}},
		{Resource: "Appointment", Actions: []string{"create", "read", "search"}, Conditions: []string{"own_data"}},
		{Resource: "DocumentReference", Actions: []string{"read", "search"}, Conditions: []string{"own_data"}},
	},
}

// PermissionEngine evaluates RBAC permissions and break-the-glass
// overrides. It holds no mutable state of its own; grants live in the
// injected store and every decision goes to the audit logger.
type PermissionEngine struct {
	grants EmergencyAccessStore
	audit  AuditLogger
	nowFn  func() time.Time
}

// NewPermissionEngine creates an engine. A nil audit logger defaults to
// NopAuditLogger.
func NewPermissionEngine(grants EmergencyAccessStore, audit AuditLogger) *PermissionEngine {
	if audit == nil {
		audit = NopAuditLogger{}
	}
	return &PermissionEngine{grants: grants, audit: audit, nowFn: time.Now}
}

// CheckPermission reports whether the role may perform action on resource.
// Unknown roles degrade to deny, never to an error.
func (e *PermissionEngine) CheckPermission(role Role, resource, action string) bool {
	for _, perm := range rolePermissions[role] {
		if perm.Resource != "*" && perm.Resource != resource {
			continue
		}
		for _, a := range perm.Actions {
			if a == action {
				return true
			}
		}
	}
	return false
}

// GetConditions returns the conditions of the first permission entry that
// matches resource and action, or nil when none matches. Callers apply
// these as row-level filters.
func (e *PermissionEngine) GetConditions(role Role, resource, action string) []string {
	for _, perm := range rolePermissions[role] {
		if perm.Resource != "*" && perm.Resource != resource {
			continue
		}
		for _, a := range perm.Actions {
			if a == action {
				return perm.Conditions
			}
		}
	}
	return nil
}

// CheckAccess is the composed entry point used by request middleware.
// Standard RBAC is evaluated first; a denial may be rescued by an active
// emergency grant, but only for read/search on the specific patient the
// grant names. Every outcome is audit-logged exactly once.
func (e *PermissionEngine) CheckAccess(ctx context.Context, userID string, role Role, resource, action, patientID string) (bool, error) {
	allowed := e.CheckPermission(role, resource, action)

	if !allowed && patientID != "" && (action == "read" || action == "search") {
		rescued, err := e.hasActiveGrantFor(ctx, userID, patientID)
		if err != nil {
			return false, err
		}
		allowed = rescued
	}

	if err := e.audit.LogPermissionCheck(ctx, userID, role, resource, action, allowed); err != nil {
		return false, err
	}
	return allowed, nil
}
