package rbac

import "testing"

func TestCan(t *testing.T) {
	cases := []struct {
		name   string
		role   Role
		action Action
		allow  bool
	}{
		{name: "owner manages", role: RoleOwner, action: ActionManageMilestone, allow: true},
		{name: "owner cannot track", role: RoleOwner, action: ActionTrack, allow: false},
		{name: "owner cannot reset", role: RoleOwner, action: ActionResetQuota, allow: false},
		{name: "tracker tracks", role: RoleTracker, action: ActionTrack, allow: true},
		{name: "tracker resets", role: RoleTracker, action: ActionResetQuota, allow: true},
		{name: "tracker cannot manage", role: RoleTracker, action: ActionManageMilestone, allow: false},
		{name: "both read own", role: RoleTracker, action: ActionReadOwn, allow: true},
		{name: "unknown denied", role: Role("admin"), action: ActionReadOwn, allow: false},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			if got := Can(tc.role, tc.action); got != tc.allow {
				t.Fatalf("Can(%q, %q) = %v, want %v", tc.role, tc.action, got, tc.allow)
			}
		})
	}
}

func TestNormalize(t *testing.T) {
	cases := map[string]Role{
		"owner":   RoleOwner,
		"pm1":     RoleOwner,
		"tracker": RoleTracker,
		"pm2":     RoleTracker,
		"editor":  "",
		"":        "",
	}
	for in, want := range cases {
		if got := Normalize(in); got != want {
			t.Fatalf("Normalize(%q) = %q, want %q", in, got, want)
		}
	}
}
