package app

import (
	"net/http"
	"testing"
)

func TestTrackMilestoneFlow(t *testing.T) {
	env := newTestEnv(t)
	ownerToken, _ := env.register("pm1user", "pm1")
	trackerToken, trackerID := env.register("pm2user", "pm2")
	milestoneID := env.createMilestone(ownerToken, "System Design")

	available := decodeList(t, env.do(http.MethodGet, "/api/milestones/available", trackerToken, ""))
	if len(available) != 1 || available[0]["id"] != milestoneID || available[0]["ownerName"] != "pm1user" {
		t.Fatalf("unexpected available milestones: %v", available)
	}

	rr := env.do(http.MethodPost, "/api/tracking/"+milestoneID, trackerToken, "")
	if rr.Code != http.StatusCreated {
		t.Fatalf("track: status %d body=%s", rr.Code, rr.Body.String())
	}
	payload := decodeObject(t, rr)
	if payload["message"] != "Milestone tracked successfully" || payload["queuePosition"] != float64(2) {
		t.Fatalf("unexpected track response: %v", payload)
	}

	dup := assertErrorCode(t, env.do(http.MethodPost, "/api/tracking/"+milestoneID, trackerToken, ""), http.StatusConflict, "ALREADY_TRACKING")
	if dup["error"] != "Already tracking this milestone" {
		t.Fatalf("unexpected duplicate message: %v", dup["error"])
	}

	if left := decodeList(t, env.do(http.MethodGet, "/api/milestones/available", trackerToken, "")); len(left) != 0 {
		t.Fatalf("tracked milestone still available: %v", left)
	}

	tracked := decodeList(t, env.do(http.MethodGet, "/api/tracking/my-tracked", trackerToken, ""))
	if len(tracked) != 1 || tracked[0]["name"] != "System Design" || tracked[0]["trackingCount"] != float64(1) {
		t.Fatalf("unexpected tracked list: %v", tracked)
	}

	trackers := decodeList(t, env.do(http.MethodGet, "/api/tracking/trackers/"+milestoneID, ownerToken, ""))
	if len(trackers) != 1 || trackers[0]["trackerId"] != trackerID || trackers[0]["username"] != "pm2user" {
		t.Fatalf("unexpected trackers: %v", trackers)
	}
	total := decodeObject(t, env.do(http.MethodGet, "/api/tracking/total-trackers", ownerToken, ""))
	if total["totalTrackers"] != float64(1) {
		t.Fatalf("unexpected total trackers: %v", total)
	}

	inbox := decodeObject(t, env.do(http.MethodGet, "/api/notifications?unread=true", ownerToken, ""))
	notes, _ := inbox["notifications"].([]any)
	if len(notes) != 1 || inbox["unreadCount"] != float64(1) {
		t.Fatalf("unexpected owner inbox: %v", inbox)
	}
	note, _ := notes[0].(map[string]any)
	if note["type"] != "new_tracker" || note["message"] != `pm2user is now tracking your "System Design" milestone.` {
		t.Fatalf("unexpected notification: %v", note)
	}

	noteID, _ := note["id"].(string)
	if rr := env.do(http.MethodPost, "/api/notifications/"+noteID+"/read", trackerToken, ""); rr.Code != http.StatusNotFound {
		t.Fatalf("tracker marked owner notification: status %d", rr.Code)
	}
	if rr := env.do(http.MethodPost, "/api/notifications/"+noteID+"/read", ownerToken, ""); rr.Code != http.StatusOK {
		t.Fatalf("mark read: status %d body=%s", rr.Code, rr.Body.String())
	}
	inbox = decodeObject(t, env.do(http.MethodGet, "/api/notifications?unread=true", ownerToken, ""))
	if inbox["unreadCount"] != float64(0) {
		t.Fatalf("expected no unread notifications, got %v", inbox)
	}
}

func TestUpdateProgressNotifiesTrackersOnce(t *testing.T) {
	env := newTestEnv(t)
	ownerToken, _ := env.register("pm1user", "owner")
	trackerT, _ := env.register("pm2user", "tracker")
	trackerU, _ := env.register("pm2user2", "tracker")
	milestoneID := env.createMilestone(ownerToken, "Testing")

	for _, token := range []string{trackerT, trackerU} {
		if rr := env.do(http.MethodPost, "/api/tracking/"+milestoneID, token, ""); rr.Code != http.StatusCreated {
			t.Fatalf("track: status %d body=%s", rr.Code, rr.Body.String())
		}
	}

	steps := []struct {
		progress  string
		completed bool
		notified  float64
	}{
		{"80", false, 0},
		{"100", true, 2},
		{"100", false, 0},
	}
	for _, step := range steps {
		rr := env.do(http.MethodPatch, "/api/milestones/"+milestoneID+"/progress", ownerToken, `{"progress":`+step.progress+`}`)
		if rr.Code != http.StatusOK {
			t.Fatalf("progress %s: status %d body=%s", step.progress, rr.Code, rr.Body.String())
		}
		payload := decodeObject(t, rr)
		if payload["completed"] != step.completed || payload["notifiedTrackers"] != step.notified {
			t.Fatalf("progress %s: unexpected response %v", step.progress, payload)
		}
	}

	for _, token := range []string{trackerT, trackerU} {
		inbox := decodeObject(t, env.do(http.MethodGet, "/api/notifications", token, ""))
		notes, _ := inbox["notifications"].([]any)
		if len(notes) != 1 {
			t.Fatalf("expected one completion notification, got %v", inbox)
		}
		note, _ := notes[0].(map[string]any)
		if note["type"] != "milestone_completed" || note["message"] != "Testing has been marked as complete." {
			t.Fatalf("unexpected notification: %v", note)
		}
		if readAll := decodeObject(t, env.do(http.MethodPost, "/api/notifications/read-all", token, "")); readAll["updated"] != float64(1) {
			t.Fatalf("unexpected read-all response: %v", readAll)
		}
	}
}

func TestQuotaExhaustionAndReset(t *testing.T) {
	env := newTestEnv(t)
	ownerToken, _ := env.register("pm1user", "owner")
	trackerToken, _ := env.register("pm2user", "tracker")

	var ids []string
	for _, name := range []string{"One", "Two", "Three", "Four"} {
		ids = append(ids, env.createMilestone(ownerToken, name))
	}
	for _, id := range ids[:3] {
		if rr := env.do(http.MethodPost, "/api/tracking/"+id, trackerToken, ""); rr.Code != http.StatusCreated {
			t.Fatalf("track %s: status %d body=%s", id, rr.Code, rr.Body.String())
		}
	}

	exhausted := assertErrorCode(t, env.do(http.MethodPost, "/api/tracking/"+ids[3], trackerToken, ""), http.StatusTooManyRequests, "QUOTA_EXHAUSTED")
	if exhausted["error"] != "Daily tracking limit reached" {
		t.Fatalf("unexpected message: %v", exhausted["error"])
	}

	for i := 0; i < 2; i++ {
		rr := env.do(http.MethodPost, "/api/users/reset-queue", trackerToken, "")
		if rr.Code != http.StatusOK {
			t.Fatalf("reset: status %d body=%s", rr.Code, rr.Body.String())
		}
		payload := decodeObject(t, rr)
		if payload["message"] != "Queue position reset" || payload["queuePosition"] != float64(3) {
			t.Fatalf("unexpected reset response: %v", payload)
		}
	}

	profile := decodeObject(t, env.do(http.MethodGet, "/api/users/profile", trackerToken, ""))
	if profile["queuePosition"] != float64(3) || profile["dailyTrackingLimit"] != float64(3) {
		t.Fatalf("unexpected profile: %v", profile)
	}
	if _, ok := profile["passwordHash"]; ok {
		t.Fatal("profile leaked password hash")
	}

	if rr := env.do(http.MethodPost, "/api/tracking/"+ids[3], trackerToken, ""); rr.Code != http.StatusCreated {
		t.Fatalf("track after reset: status %d body=%s", rr.Code, rr.Body.String())
	}
}

func TestRoleChecks(t *testing.T) {
	env := newTestEnv(t)
	ownerToken, _ := env.register("pm1user", "owner")
	otherOwner, _ := env.register("pm1user2", "owner")
	trackerToken, _ := env.register("pm2user", "tracker")
	milestoneID := env.createMilestone(ownerToken, "Design")

	tests := []struct {
		name   string
		method string
		path   string
		token  string
		body   string
	}{
		{"tracker creates milestone", http.MethodPost, "/api/milestones", trackerToken, `{"name":"X"}`},
		{"tracker updates progress", http.MethodPatch, "/api/milestones/" + milestoneID + "/progress", trackerToken, `{"progress":50}`},
		{"other owner updates progress", http.MethodPatch, "/api/milestones/" + milestoneID + "/progress", otherOwner, `{"progress":50}`},
		{"other owner renames", http.MethodPatch, "/api/milestones/" + milestoneID, otherOwner, `{"name":"Mine"}`},
		{"other owner lists trackers", http.MethodGet, "/api/tracking/trackers/" + milestoneID, otherOwner, ""},
		{"owner tracks", http.MethodPost, "/api/tracking/" + milestoneID, ownerToken, ""},
		{"owner resets quota", http.MethodPost, "/api/users/reset-queue", ownerToken, ""},
		{"owner sets categories", http.MethodPatch, "/api/users/interest-categories", ownerToken, `{"categories":["Testing"]}`},
		{"owner lists available", http.MethodGet, "/api/milestones/available", ownerToken, ""},
		{"tracker lists own milestones", http.MethodGet, "/api/milestones/my-milestones", trackerToken, ""},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			assertErrorCode(t, env.do(tc.method, tc.path, tc.token, tc.body), http.StatusForbidden, "FORBIDDEN")
		})
	}

	milestone, err := env.store.GetMilestone(t.Context(), milestoneID)
	if err != nil {
		t.Fatalf("get milestone: %v", err)
	}
	if milestone.Progress != 0 || milestone.Name != "Design" || milestone.TrackingCount != 0 {
		t.Fatalf("forbidden calls changed the milestone: %+v", milestone)
	}
}

func TestMilestoneValidation(t *testing.T) {
	env := newTestEnv(t)
	ownerToken, _ := env.register("pm1user", "owner")
	trackerToken, _ := env.register("pm2user", "tracker")
	milestoneID := env.createMilestone(ownerToken, "Design")

	assertErrorCode(t, env.do(http.MethodPatch, "/api/milestones/"+milestoneID+"/progress", ownerToken, `{"progress":101}`), http.StatusUnprocessableEntity, "VALIDATION_ERROR")
	assertErrorCode(t, env.do(http.MethodPatch, "/api/milestones/"+milestoneID+"/progress", ownerToken, `{"progress":-5}`), http.StatusUnprocessableEntity, "VALIDATION_ERROR")
	assertErrorCode(t, env.do(http.MethodPatch, "/api/milestones/"+milestoneID+"/progress", ownerToken, `{}`), http.StatusUnprocessableEntity, "VALIDATION_ERROR")
	assertErrorCode(t, env.do(http.MethodPatch, "/api/milestones/missing/progress", ownerToken, `{"progress":10}`), http.StatusNotFound, "NOT_FOUND")
	assertErrorCode(t, env.do(http.MethodPost, "/api/tracking/missing", trackerToken, ""), http.StatusNotFound, "NOT_FOUND")
	assertErrorCode(t, env.do(http.MethodPost, "/api/milestones", ownerToken, `{"name":"   "}`), http.StatusUnprocessableEntity, "VALIDATION_ERROR")
	assertErrorCode(t, env.do(http.MethodPost, "/api/milestones", ownerToken, `{"name":`), http.StatusBadRequest, "INVALID_BODY")

	rr := env.do(http.MethodPatch, "/api/milestones/"+milestoneID, ownerToken, `{"description":"Architecture review"}`)
	if rr.Code != http.StatusOK {
		t.Fatalf("update: status %d body=%s", rr.Code, rr.Body.String())
	}
	updated := decodeObject(t, rr)
	if updated["name"] != "Design" || updated["description"] != "Architecture review" {
		t.Fatalf("unexpected update response: %v", updated)
	}

	results := decodeObject(t, env.do(http.MethodGet, "/api/milestones/search?q=architecture", trackerToken, ""))
	hits, _ := results["results"].([]any)
	if len(hits) != 1 || results["total"] != float64(1) {
		t.Fatalf("unexpected search response: %v", results)
	}
}

func TestUserSettings(t *testing.T) {
	env := newTestEnv(t)
	trackerToken, _ := env.register("pm2user", "tracker")

	profile := decodeObject(t, env.do(http.MethodGet, "/api/users/profile", trackerToken, ""))
	categories, _ := profile["interestCategories"].([]any)
	if len(categories) != 3 {
		t.Fatalf("expected default categories, got %v", profile["interestCategories"])
	}

	rr := env.do(http.MethodPatch, "/api/users/notification-settings", trackerToken, `{"push":true}`)
	if rr.Code != http.StatusOK {
		t.Fatalf("settings: status %d body=%s", rr.Code, rr.Body.String())
	}
	settings, _ := decodeObject(t, rr)["notificationSettings"].(map[string]any)
	if settings["push"] != true || settings["email"] != true || settings["dailySummary"] != true {
		t.Fatalf("partial update lost flags: %v", settings)
	}

	rr = env.do(http.MethodPatch, "/api/users/interest-categories", trackerToken, `{"categories":["Testing"," Deployment "]}`)
	if rr.Code != http.StatusOK {
		t.Fatalf("categories: status %d body=%s", rr.Code, rr.Body.String())
	}
	got, _ := decodeObject(t, rr)["interestCategories"].([]any)
	if len(got) != 2 || got[1] != "Deployment" {
		t.Fatalf("unexpected categories: %v", got)
	}
}
