package http

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"schoolboard/internal/accounts"
	"schoolboard/internal/announcements"
	"schoolboard/internal/auth"
	"schoolboard/internal/classes"
	"schoolboard/internal/config"
	"schoolboard/internal/events"
	"schoolboard/internal/identity"
	"schoolboard/internal/lessons"
	"schoolboard/internal/live"
	"schoolboard/internal/metrics"
	"schoolboard/internal/model"
	"schoolboard/internal/parliament"
	"schoolboard/internal/resolver"
	"schoolboard/internal/roster"
	"schoolboard/internal/slots"
	"schoolboard/internal/store/memory"
	"schoolboard/internal/timetable"
)

const (
	adminID   = "admin-1"
	teacherID = "teacher-1"
	studentID = "student-1"
)

type testApp struct {
	url     string
	mem     *memory.Store
	admin   string
	teacher string
	student string
}

func newTestApp(t *testing.T) *testApp {
	t.Helper()
	ctx := context.Background()
	mem := memory.New()
	for _, user := range []model.User{
		{ID: adminID, Username: "root", UsernameLower: "root", Role: model.RoleAdmin},
		{ID: teacherID, Username: "cohen", UsernameLower: "cohen", FirstName: "Dana", LastName: "Cohen", Role: model.RoleTeacher},
		{ID: studentID, Username: "noa", UsernameLower: "noa", FirstName: "Noa", Role: model.RoleStudent},
	} {
		if _, err := mem.CreateUser(ctx, user); err != nil {
			t.Fatalf("seed user: %v", err)
		}
	}

	cfg := config.Config{
		JWTSecret:      "test-secret",
		JWTIssuer:      "test-issuer",
		SchoolTimezone: "UTC",
		RequestTimeout: 5 * time.Second,
	}
	res := resolver.New(mem, 0)
	broker := events.NewMemoryBroker()
	m := metrics.New()
	agg := live.NewAggregator(mem, res)
	override := live.NewMemoryOverride()
	rosterSvc := roster.NewService(mem, res, m, broker, nil)
	clock := &live.OverrideClock{Base: live.FixedClock{Day: 1, Minute: 500}, Source: override}
	svc := Services{
		Accounts:      accounts.NewService(mem, identity.NopProvider{}, res, "school.local", broker, nil),
		Classes:       classes.NewService(mem, res, broker, nil),
		Lessons:       lessons.NewService(mem, rosterSvc, broker, nil),
		Roster:        rosterSvc,
		Timetable:     timetable.NewService(mem, timetable.NewMemoryDrafts(time.Hour), res, slots.Default(), m, broker, nil),
		Aggregator:    agg,
		Clock:         clock,
		ClockOverride: override,
		Hub:           live.NewHub(agg, clock, broker, m, nil, live.HubConfig{}),
		Announcements: announcements.NewService(mem, m, broker, nil),
		Parliament:    parliament.NewService(mem, broker, nil),
	}
	server := NewServer(cfg, mem, svc, broker, m, nil)
	app := httptest.NewServer(server.Router())
	t.Cleanup(app.Close)

	return &testApp{
		url:     app.URL,
		mem:     mem,
		admin:   mustToken(t, cfg, adminID, "root", model.RoleAdmin),
		teacher: mustToken(t, cfg, teacherID, "cohen", model.RoleTeacher),
		student: mustToken(t, cfg, studentID, "noa", model.RoleStudent),
	}
}

func TestHealthAndAuth(t *testing.T) {
	app := newTestApp(t)

	resp := doReq(t, http.MethodGet, app.url+"/health", "", nil)
	expectStatus(t, resp, http.StatusOK)

	resp = doReq(t, http.MethodGet, app.url+"/me", "", nil)
	expectError(t, resp, http.StatusUnauthorized, "missing_token")

	resp = doReq(t, http.MethodGet, app.url+"/me", "not-a-token", nil)
	expectError(t, resp, http.StatusUnauthorized, "invalid_token")

	resp = doReq(t, http.MethodGet, app.url+"/me", app.admin, nil)
	var me meResponse
	decodeBody(t, resp, http.StatusOK, &me)
	if me.Role != model.RoleAdmin || me.Profile == nil || me.Profile.Username != "root" {
		t.Fatalf("unexpected /me payload: %+v", me)
	}

	resp = doReq(t, http.MethodGet, app.url+"/metrics", "", nil)
	expectStatus(t, resp, http.StatusOK)
}

func TestRoleGating(t *testing.T) {
	app := newTestApp(t)

	resp := doReq(t, http.MethodPost, app.url+"/classes", app.student, map[string]string{"name": "10A"})
	expectError(t, resp, http.StatusForbidden, "forbidden")

	resp = doReq(t, http.MethodPost, app.url+"/classes", app.teacher, map[string]string{"name": "10A"})
	expectError(t, resp, http.StatusForbidden, "forbidden")

	resp = doReq(t, http.MethodGet, app.url+"/users/"+teacherID, app.student, nil)
	expectError(t, resp, http.StatusForbidden, "forbidden")

	resp = doReq(t, http.MethodGet, app.url+"/users/"+studentID, app.student, nil)
	expectStatus(t, resp, http.StatusOK)

	resp = doReq(t, http.MethodGet, app.url+"/users?role=student", app.teacher, nil)
	var users []model.User
	decodeBody(t, resp, http.StatusOK, &users)
	if len(users) != 1 || users[0].ID != studentID {
		t.Fatalf("expected only the student, got %+v", users)
	}
}

func TestAccountsEndpoints(t *testing.T) {
	app := newTestApp(t)

	resp := doReq(t, http.MethodPost, app.url+"/accounts", app.admin, map[string]string{"username": "a", "role": "janitor"})
	var failure errorResponse
	decodeBody(t, resp, http.StatusUnprocessableEntity, &failure)
	if failure.Error != "validation_failed" || failure.Fields["username"] == "" || failure.Fields["role"] == "" {
		t.Fatalf("unexpected validation payload: %+v", failure)
	}

	resp = doReq(t, http.MethodPost, app.url+"/accounts", app.admin, map[string]string{"username": "alice", "nickname": "x"})
	expectError(t, resp, http.StatusBadRequest, "invalid_request")

	create := map[string]string{"username": "Alice", "firstName": "Alice", "role": "student"}
	resp = doReq(t, http.MethodPost, app.url+"/accounts", app.admin, create)
	var created model.User
	decodeBody(t, resp, http.StatusCreated, &created)
	if created.Email != "alice@school.local" {
		t.Fatalf("unexpected email %q", created.Email)
	}

	create["username"] = "alice"
	resp = doReq(t, http.MethodPost, app.url+"/accounts", app.admin, create)
	expectError(t, resp, http.StatusConflict, "username_taken")

	resp = doReq(t, http.MethodGet, app.url+"/accounts/username-available?username=ALICE", app.admin, nil)
	var available map[string]bool
	decodeBody(t, resp, http.StatusOK, &available)
	if available["available"] {
		t.Fatalf("expected ALICE to be taken")
	}

	resp = doReq(t, http.MethodDelete, app.url+"/accounts/"+adminID, app.admin, nil)
	expectError(t, resp, http.StatusBadRequest, "cannot_delete_self")

	resp = doReq(t, http.MethodDelete, app.url+"/accounts/"+created.ID, app.admin, nil)
	expectStatus(t, resp, http.StatusOK)
}

type draftPayload struct {
	Draft struct {
		ID string `json:"id"`
	} `json:"draft"`
	Pending int              `json:"pending"`
	Action  timetable.Action `json:"action"`
}

func TestTimetableDraftFlow(t *testing.T) {
	app := newTestApp(t)

	resp := doReq(t, http.MethodPost, app.url+"/classes", app.admin, map[string]string{"classId": "AB12CD", "name": "10A"})
	var class model.Class
	decodeBody(t, resp, http.StatusCreated, &class)

	resp = doReq(t, http.MethodPost, app.url+"/lessons", app.teacher, map[string]string{"name": "Math", "teacherUserId": teacherID})
	var lesson model.Lesson
	decodeBody(t, resp, http.StatusCreated, &lesson)
	if lesson.TeacherLastName != "Cohen" {
		t.Fatalf("teacher name not denormalised: %+v", lesson)
	}

	open := map[string]string{"classId": "ab12cd", "lessonId": lesson.ID}
	resp = doReq(t, http.MethodPost, app.url+"/timetable/drafts", app.teacher, open)
	var draft draftPayload
	decodeBody(t, resp, http.StatusCreated, &draft)
	draftURL := app.url + "/timetable/drafts/" + draft.Draft.ID

	resp = doReq(t, http.MethodPost, draftURL+"/cells", app.teacher, timetable.CellKey{Day: 0, StartMinutes: 481, EndMinutes: 525})
	expectError(t, resp, http.StatusBadRequest, "cell_outside_schedule")

	first := timetable.CellKey{Day: 0, StartMinutes: 480, EndMinutes: 525}
	resp = doReq(t, http.MethodPost, draftURL+"/cells", app.teacher, first)
	var clicked draftPayload
	decodeBody(t, resp, http.StatusOK, &clicked)
	if clicked.Action != timetable.ActionStagedAdd || clicked.Pending != 1 {
		t.Fatalf("unexpected click result: %+v", clicked)
	}

	resp = doReq(t, http.MethodGet, draftURL, app.admin, nil)
	expectError(t, resp, http.StatusForbidden, "draft_forbidden")

	resp = doReq(t, http.MethodPost, draftURL+"/save", app.teacher, nil)
	var saved saveResponse
	decodeBody(t, resp, http.StatusOK, &saved)
	if saved.Result.Created != 1 {
		t.Fatalf("expected one created entry, got %+v", saved.Result)
	}

	resp = doReq(t, http.MethodGet, app.url+"/timetable?classId=AB12CD", app.student, nil)
	var entries []model.TimetableEntry
	decodeBody(t, resp, http.StatusOK, &entries)
	if len(entries) != 1 || entries[0].LessonID != lesson.ID || entries[0].ClassID != class.ID {
		t.Fatalf("unexpected entries: %+v", entries)
	}

	// Two drafts stage the same free cell; the second save must be refused.
	second := timetable.CellKey{Day: 0, StartMinutes: 525, EndMinutes: 570}
	var a, b draftPayload
	decodeBody(t, doReq(t, http.MethodPost, app.url+"/timetable/drafts", app.teacher, open), http.StatusCreated, &a)
	decodeBody(t, doReq(t, http.MethodPost, app.url+"/timetable/drafts", app.teacher, open), http.StatusCreated, &b)
	expectStatus(t, doReq(t, http.MethodPost, app.url+"/timetable/drafts/"+a.Draft.ID+"/cells", app.teacher, second), http.StatusOK)
	expectStatus(t, doReq(t, http.MethodPost, app.url+"/timetable/drafts/"+b.Draft.ID+"/cells", app.teacher, second), http.StatusOK)
	expectStatus(t, doReq(t, http.MethodPost, app.url+"/timetable/drafts/"+a.Draft.ID+"/save", app.teacher, nil), http.StatusOK)

	resp = doReq(t, http.MethodPost, app.url+"/timetable/drafts/"+b.Draft.ID+"/save", app.teacher, nil)
	var conflict errorResponse
	decodeBody(t, resp, http.StatusConflict, &conflict)
	if conflict.Error != "timetable_conflict" || len(conflict.Cells) != 1 || conflict.Cells[0] != second {
		t.Fatalf("unexpected conflict payload: %+v", conflict)
	}

	resp = doReq(t, http.MethodDelete, app.url+"/timetable/drafts/"+b.Draft.ID, app.teacher, nil)
	expectStatus(t, resp, http.StatusNoContent)
	resp = doReq(t, http.MethodGet, app.url+"/timetable/drafts/"+b.Draft.ID, app.teacher, nil)
	expectError(t, resp, http.StatusNotFound, "draft_not_found")
}

func TestLessonRosterSkips(t *testing.T) {
	app := newTestApp(t)
	resp := doReq(t, http.MethodPost, app.url+"/lessons", app.teacher, map[string]string{"name": "Art", "teacherUserId": teacherID})
	var lesson model.Lesson
	decodeBody(t, resp, http.StatusCreated, &lesson)

	body := map[string]interface{}{"studentIds": []string{studentID, "ghost", teacherID}}
	resp = doReq(t, http.MethodPost, app.url+"/lessons/"+lesson.ID+"/students", app.teacher, body)
	var result roster.Result
	decodeBody(t, resp, http.StatusOK, &result)
	if len(result.Added) != 1 || result.Added[0] != studentID {
		t.Fatalf("unexpected added list: %+v", result)
	}
	reasons := map[string]string{}
	for _, skip := range result.Skipped {
		reasons[skip.StudentID] = skip.Reason
	}
	if reasons["ghost"] != roster.SkipUnknownStudent || reasons[teacherID] != roster.SkipNotAStudent {
		t.Fatalf("unexpected skips: %+v", result.Skipped)
	}
}

func TestDisplayNowAndClock(t *testing.T) {
	app := newTestApp(t)
	ctx := context.Background()
	if _, err := app.mem.CreateClass(ctx, model.Class{ID: "c9", ClassID: "XY98ZW", ClassIDLower: "xy98zw", Name: "9A"}); err != nil {
		t.Fatalf("seed class: %v", err)
	}
	if _, err := app.mem.CreateLesson(ctx, model.Lesson{ID: "bio", Name: "Biology", TeacherFirstName: "Ruth"}); err != nil {
		t.Fatalf("seed lesson: %v", err)
	}
	err := app.mem.ApplyTimetableBatch(ctx, []string{"c9"}, model.TimetableBatch{Creates: []model.TimetableEntry{
		{ID: "e1", ClassID: "XY98ZW", LessonID: "bio", Day: 2, StartMinutes: 530, EndMinutes: 570},
	}})
	if err != nil {
		t.Fatalf("seed entry: %v", err)
	}

	resp := doReq(t, http.MethodGet, app.url+"/display/now?day=2&time=09:15", app.student, nil)
	var snap live.Snapshot
	decodeBody(t, resp, http.StatusOK, &snap)
	if !snap.Simulated || len(snap.Lessons) != 1 || snap.Lessons[0].ClassLabel != "9A" {
		t.Fatalf("unexpected snapshot: %+v", snap)
	}

	resp = doReq(t, http.MethodGet, app.url+"/display/now?day=9&time=09:15", app.student, nil)
	expectError(t, resp, http.StatusBadRequest, "invalid_moment")

	resp = doReq(t, http.MethodGet, app.url+"/display/now", app.student, nil)
	decodeBody(t, resp, http.StatusOK, &snap)
	if len(snap.Lessons) != 0 {
		t.Fatalf("expected nothing live at the base clock, got %+v", snap.Lessons)
	}

	clock := map[string]string{"day": "2", "time": "09:00"}
	resp = doReq(t, http.MethodPut, app.url+"/display/clock", app.teacher, clock)
	expectError(t, resp, http.StatusForbidden, "forbidden")
	resp = doReq(t, http.MethodPut, app.url+"/display/clock", app.admin, map[string]string{"day": "2", "time": "9am"})
	var invalid errorResponse
	decodeBody(t, resp, http.StatusUnprocessableEntity, &invalid)
	if _, ok := invalid.Fields["time"]; !ok || invalid.Error != "validation_failed" {
		t.Fatalf("expected a time field error, got %+v", invalid)
	}
	resp = doReq(t, http.MethodPut, app.url+"/display/clock", app.admin, clock)
	expectStatus(t, resp, http.StatusOK)

	resp = doReq(t, http.MethodGet, app.url+"/display/now", app.student, nil)
	decodeBody(t, resp, http.StatusOK, &snap)
	if snap.Minute != 540 || len(snap.Lessons) != 1 {
		t.Fatalf("expected override to apply, got minute %d with %d lessons", snap.Minute, len(snap.Lessons))
	}

	resp = doReq(t, http.MethodDelete, app.url+"/display/clock", app.admin, nil)
	expectStatus(t, resp, http.StatusNoContent)
}

func TestParliamentEndpoints(t *testing.T) {
	app := newTestApp(t)

	resp := doReq(t, http.MethodPost, app.url+"/parliament/dates", app.teacher, map[string]string{"date": "2026-03-10"})
	var date model.ParliamentDate
	decodeBody(t, resp, http.StatusCreated, &date)

	resp = doReq(t, http.MethodPost, app.url+"/parliament/dates/"+date.ID+"/subjects", app.student, map[string]string{"title": "Longer breaks"})
	var subject model.ParliamentSubject
	decodeBody(t, resp, http.StatusCreated, &subject)

	resp = doReq(t, http.MethodPost, app.url+"/parliament/subjects/"+subject.ID+"/approve", app.student, nil)
	expectError(t, resp, http.StatusForbidden, "forbidden")

	resp = doReq(t, http.MethodPost, app.url+"/parliament/subjects/"+subject.ID+"/reject", app.teacher, map[string]string{"reason": ""})
	expectError(t, resp, http.StatusBadRequest, "reject_reason_required")

	resp = doReq(t, http.MethodPost, app.url+"/parliament/subjects/"+subject.ID+"/approve", app.teacher, nil)
	expectStatus(t, resp, http.StatusOK)

	resp = doReq(t, http.MethodPost, app.url+"/parliament/subjects/"+subject.ID+"/notes", app.student, map[string]string{"text": "Agree"})
	expectStatus(t, resp, http.StatusCreated)

	resp = doReq(t, http.MethodPatch, app.url+"/parliament/dates/"+date.ID, app.teacher, map[string]string{"status": "closed"})
	expectStatus(t, resp, http.StatusOK)
	resp = doReq(t, http.MethodPost, app.url+"/parliament/dates/"+date.ID+"/subjects", app.student, map[string]string{"title": "Late"})
	expectError(t, resp, http.StatusConflict, "date_closed")
}

func mustToken(t *testing.T, cfg config.Config, userID, username, role string) string {
	t.Helper()
	token, err := auth.NewAccessToken(cfg.JWTSecret, cfg.JWTIssuer, 10*time.Minute, auth.Claims{
		UserID:   userID,
		Username: username,
		Role:     role,
	})
	if err != nil {
		t.Fatalf("token error: %v", err)
	}
	return token
}

func doReq(t *testing.T, method, url, token string, body interface{}) *http.Response {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		if err := json.NewEncoder(&buf).Encode(body); err != nil {
			t.Fatalf("encode error: %v", err)
		}
	}
	req, err := http.NewRequest(method, url, &buf)
	if err != nil {
		t.Fatalf("request error: %v", err)
	}
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatalf("http error: %v", err)
	}
	return resp
}

func expectStatus(t *testing.T, resp *http.Response, status int) {
	t.Helper()
	defer resp.Body.Close()
	if resp.StatusCode != status {
		var payload map[string]interface{}
		_ = json.NewDecoder(resp.Body).Decode(&payload)
		t.Fatalf("expected %d, got %d (%v)", status, resp.StatusCode, payload)
	}
}

func expectError(t *testing.T, resp *http.Response, status int, code string) {
	t.Helper()
	var payload errorResponse
	decodeBody(t, resp, status, &payload)
	if payload.Error != code {
		t.Fatalf("expected error %q, got %q", code, payload.Error)
	}
}

func decodeBody(t *testing.T, resp *http.Response, status int, out interface{}) {
	t.Helper()
	defer resp.Body.Close()
	if resp.StatusCode != status {
		t.Fatalf("expected %d, got %d", status, resp.StatusCode)
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		t.Fatalf("decode error: %v", err)
	}
}
