package auth

import (
	"reflect"
	"testing"
)

func TestParseScope(t *testing.T) {
	tests := []struct {
		name     string
		scope    string
		wantCtx  string
		wantType string
		wantInts []string
		wantErr  bool
		wantNil  bool
	}{
		{
			name:     "patient read expands to read and search",
			scope:    "patient/Observation.read",
			wantCtx:  "patient",
			wantType: "Observation",
			wantInts: []string{"read", "search"},
		},
		{
			name:     "user write expands to create update delete",
			scope:    "user/Patient.write",
			wantCtx:  "user",
			wantType: "Patient",
			wantInts: []string{"create", "update", "delete"},
		},
		{
			name:     "cruds expands to all five",
			scope:    "system/Encounter.cruds",
			wantCtx:  "system",
			wantType: "Encounter",
			wantInts: []string{"create", "read", "update", "delete", "search"},
		},
		{
			name:     "star interaction equals cruds",
			scope:    "patient/Condition.*",
			wantCtx:  "patient",
			wantType: "Condition",
			wantInts: []string{"create", "read", "update", "delete", "search"},
		},
		{
			name:     "wildcard resource type",
			scope:    "user/*.read",
			wantCtx:  "user",
			wantType: "*",
			wantInts: []string{"read", "search"},
		},
		{
			name:     "single concrete interaction",
			scope:    "system/Observation.create",
			wantCtx:  "system",
			wantType: "Observation",
			wantInts: []string{"create"},
		},
		{name: "launch is special", scope: "launch", wantNil: true},
		{name: "launch patient is special", scope: "launch/patient", wantNil: true},
		{name: "openid is special", scope: "openid", wantNil: true},
		{name: "offline_access is special", scope: "offline_access", wantNil: true},
		{name: "missing interaction", scope: "patient/Observation", wantErr: true},
		{name: "missing context", scope: "Observation.read", wantErr: true},
		{name: "bad context", scope: "clinic/Observation.read", wantErr: true},
		{name: "unknown resource type", scope: "patient/Widget.read", wantErr: true},
		{name: "unknown interaction", scope: "patient/Observation.browse", wantErr: true},
		{name: "trailing dot", scope: "patient/Observation.", wantErr: true},
		{name: "empty string", scope: "", wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			parsed, err := ParseScope(tt.scope)
			if tt.wantErr {
				if err == nil {
					t.Fatalf("ParseScope(%q) expected error, got %+v", tt.scope, parsed)
				}
				return
			}
			if err != nil {
				t.Fatalf("ParseScope(%q) unexpected error: %v", tt.scope, err)
			}
			if tt.wantNil {
				if parsed != nil {
					t.Fatalf("ParseScope(%q) expected nil for special scope, got %+v", tt.scope, parsed)
				}
				return
			}
			if parsed.Context != tt.wantCtx {
				t.Errorf("context = %q, want %q", parsed.Context, tt.wantCtx)
			}
			if parsed.ResourceType != tt.wantType {
				t.Errorf("resource type = %q, want %q", parsed.ResourceType, tt.wantType)
			}
			if !reflect.DeepEqual(parsed.Interactions, tt.wantInts) {
				t.Errorf("interactions = %v, want %v", parsed.Interactions, tt.wantInts)
			}
			if parsed.Raw != tt.scope {
				t.Errorf("raw = %q, want %q", parsed.Raw, tt.scope)
			}
		})
	}
}

func TestValidateScopeAccess(t *testing.T) {
	tests := []struct {
		name     string
		scopes   []string
		resource string
		action   string
		want     bool
	}{
		{
			name:     "read scope grants search",
			scopes:   []string{"patient/Observation.read"},
			resource: "Observation",
			action:   "search",
			want:     true,
		},
		{
			name:     "read scope does not grant create",
			scopes:   []string{"patient/Observation.read"},
			resource: "Observation",
			action:   "create",
			want:     false,
		},
		{
			name:     "write scope does not grant read",
			scopes:   []string{"user/Patient.write"},
			resource: "Patient",
			action:   "read",
			want:     false,
		},
		{
			name:     "wildcard resource covers any type",
			scopes:   []string{"user/*.read"},
			resource: "DiagnosticReport",
			action:   "read",
			want:     true,
		},
		{
			name:     "wrong resource type",
			scopes:   []string{"patient/Observation.read"},
			resource: "Condition",
			action:   "read",
			want:     false,
		},
		{
			name:     "any matching scope suffices",
			scopes:   []string{"patient/Condition.read", "patient/Observation.write", "patient/Observation.read"},
			resource: "Observation",
			action:   "read",
			want:     true,
		},
		{
			name:     "special scopes grant nothing",
			scopes:   []string{"openid", "launch", "offline_access"},
			resource: "Patient",
			action:   "read",
			want:     false,
		},
		{
			name:     "malformed entries are skipped",
			scopes:   []string{"garbage", "patient/Observation.read"},
			resource: "Observation",
			action:   "read",
			want:     true,
		},
		{
			name:     "empty grant denies",
			scopes:   nil,
			resource: "Patient",
			action:   "read",
			want:     false,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := ValidateScopeAccess(tt.scopes, tt.resource, tt.action); got != tt.want {
				t.Errorf("ValidateScopeAccess(%v, %q, %q) = %v, want %v",
					tt.scopes, tt.resource, tt.action, got, tt.want)
			}
		})
	}
}

func TestValidateScopeString(t *testing.T) {
	ok, errs := ValidateScopeString("openid fhirUser launch/patient patient/Observation.read offline_access")
	if !ok || len(errs) != 0 {
		t.Fatalf("expected valid scope string, got errors: %v", errs)
	}

	ok, errs = ValidateScopeString("patient/Widget.read patient/Observation.browse openid")
	if ok {
		t.Fatal("expected invalid scope string")
	}
	if len(errs) != 2 {
		t.Fatalf("expected 2 errors, got %d: %v", len(errs), errs)
	}

	ok, errs = ValidateScopeString("   ")
	if ok || len(errs) != 1 {
		t.Fatalf("expected single error for empty string, got ok=%v errs=%v", ok, errs)
	}
}

func TestIsValidScope(t *testing.T) {
	valid := []string{"openid", "launch", "patient/Patient.read", "system/*.cruds", "user/Specimen.*"}
	for _, s := range valid {
		if !IsValidScope(s) {
			t.Errorf("IsValidScope(%q) = false, want true", s)
		}
	}
	invalid := []string{"", "patient/", "patient/Patient", "admin/Patient.read", "patient/patient.read"}
	for _, s := range invalid {
		if IsValidScope(s) {
			t.Errorf("IsValidScope(%q) = true, want false", s)
		}
	}
}
