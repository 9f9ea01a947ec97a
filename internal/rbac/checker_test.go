package rbac

import "testing"

func TestCheckerHas(t *testing.T) {
	c := NewChecker(nil)

	tests := []struct {
		role, perm string
		want       bool
	}{
		{"student", "attempt:create", true},
		{"student", "test:view", true},
		{"student", "test:view_key", false},
		{"student", "test:create", false},
		{"teacher", "test:view_key", true},
		{"teacher", "attempt:view-all", true},
		{"teacher", "payments:create", false},
		{"admin", "anything:at_all", true},
		{"unknown", "test:view", false},
		{"", "test:view", false},
	}
	for _, tc := range tests {
		if got := c.Has(tc.role, tc.perm); got != tc.want {
			t.Errorf("Has(%q, %q) = %v, want %v", tc.role, tc.perm, got, tc.want)
		}
	}
}

func TestCheckerAnyAll(t *testing.T) {
	c := NewChecker(nil)
	if !c.Any("student", "test:create", "attempt:view-own") {
		t.Error("expected Any to match attempt:view-own")
	}
	if c.All("student", "attempt:create", "test:create") {
		t.Error("expected All to fail on test:create")
	}
	if !c.All("admin", "a:b", "c:d") {
		t.Error("wildcard role should satisfy All")
	}
}

func TestMatchPermWildcard(t *testing.T) {
	c := NewChecker(map[string][]string{"ops": {"attempt:*"}})
	if !c.Has("ops", "attempt:save") {
		t.Error("prefix wildcard should match attempt:save")
	}
	if c.Has("ops", "test:view") {
		t.Error("prefix wildcard must not match other prefixes")
	}
}
