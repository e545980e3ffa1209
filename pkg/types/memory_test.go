package types

import "testing"

func TestClampImportance(t *testing.T) {
	cases := []struct {
		name string
		in   float64
		want float64
	}{
		{"below range", -0.5, 0.0},
		{"at floor", 0.0, 0.0},
		{"in range", 0.42, 0.42},
		{"at ceiling", 1.0, 1.0},
		{"above range", 3.7, 1.0},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			if got := ClampImportance(tc.in); got != tc.want {
				t.Errorf("ClampImportance(%v) = %v, want %v", tc.in, got, tc.want)
			}
		})
	}
}

func TestValidType(t *testing.T) {
	for _, mt := range []MemoryType{TypeInsight, TypeGotcha, TypePreference, TypePattern, TypeCapability, TypeStatus} {
		if !ValidType(mt) {
			t.Errorf("ValidType(%q) = false, want true", mt)
		}
	}
	if ValidType("hunch") {
		t.Error(`ValidType("hunch") = true, want false`)
	}
	if ValidType("") {
		t.Error(`ValidType("") = true, want false`)
	}
}

func TestValidRelationType(t *testing.T) {
	for _, rt := range []RelationType{RelationSupersedes, RelationRelatesTo, RelationCausedBy, RelationFixedBy, RelationImplements} {
		if !ValidRelationType(rt) {
			t.Errorf("ValidRelationType(%q) = false, want true", rt)
		}
	}
	if ValidRelationType("replaces") {
		t.Error(`ValidRelationType("replaces") = true, want false`)
	}
}

func TestDefaultScopePolicy(t *testing.T) {
	policy := DefaultScopePolicy()

	if got := policy.Resolve(TypePreference); got != ScopeGlobal {
		t.Errorf("preference scope: got %q, want %q", got, ScopeGlobal)
	}
	if got := policy.Resolve(TypeCapability); got != ScopeGlobal {
		t.Errorf("capability scope: got %q, want %q", got, ScopeGlobal)
	}
	if got := policy.Resolve(TypeGotcha); got != ScopeProject {
		t.Errorf("gotcha scope: got %q, want %q", got, ScopeProject)
	}

	// Unknown types fall back to project scope.
	if got := policy.Resolve("unknown"); got != ScopeProject {
		t.Errorf("unknown type scope: got %q, want %q", got, ScopeProject)
	}
}

func TestValidationError(t *testing.T) {
	err := NewValidationError("importance", "must be between %v and %v", 0.0, 1.0)
	want := "invalid importance: must be between 0 and 1"
	if err.Error() != want {
		t.Errorf("Error() = %q, want %q", err.Error(), want)
	}
	if err.Field != "importance" {
		t.Errorf("Field = %q, want %q", err.Field, "importance")
	}
}
