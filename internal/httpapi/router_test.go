package httpapi

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strconv"
	"strings"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"

	"cmmsd/internal/maintenance"
	"cmmsd/internal/recurrence"
	"cmmsd/internal/storage"
)

func init() { gin.SetMode(gin.TestMode) }

type fixture struct {
	store  *storage.Memory
	engine *recurrence.Engine
	router *gin.Engine
}

func newFixture(t *testing.T, cfg Config) fixture {
	t.Helper()
	st := storage.NewMemory()
	clock := func() time.Time { return time.Date(2024, 1, 8, 9, 0, 0, 0, time.UTC) }
	eng := recurrence.New(st, nil, recurrence.Config{Location: time.UTC}, recurrence.WithClock(clock))

	start, _ := maintenance.ParseDate("2024-01-08")
	_, _, err := st.CreateSchedule(context.Background(),
		maintenance.Schedule{Frequency: 1, Unit: maintenance.UnitWeeks, StartDate: start},
		maintenance.Template{Title: "Inspect boiler", Priority: maintenance.PriorityHigh},
	)
	if err != nil {
		t.Fatalf("CreateSchedule: %v", err)
	}
	return fixture{
		store:  st,
		engine: eng,
		router: NewRouter(cfg, Deps{Engine: eng, Store: st, Gatherer: prometheus.NewRegistry()}),
	}
}

func (f fixture) do(method, path, body string, hdr ...string) *httptest.ResponseRecorder {
	var req *http.Request
	if body != "" {
		req = httptest.NewRequest(method, path, strings.NewReader(body))
		req.Header.Set("Content-Type", "application/json")
	} else {
		req = httptest.NewRequest(method, path, nil)
	}
	for i := 0; i+1 < len(hdr); i += 2 {
		req.Header.Set(hdr[i], hdr[i+1])
	}
	w := httptest.NewRecorder()
	f.router.ServeHTTP(w, req)
	return w
}

func TestHealthz(t *testing.T) {
	t.Parallel()
	f := newFixture(t, Config{Token: "secret"})
	if w := f.do(http.MethodGet, "/healthz", ""); w.Code != http.StatusOK {
		t.Fatalf("healthz = %d %s", w.Code, w.Body)
	}
}

func TestAuth(t *testing.T) {
	t.Parallel()
	f := newFixture(t, Config{Token: "secret"})

	cases := []struct {
		name string
		path string
		hdr  []string
		want int
	}{
		{"missing", "/api/v1/workorders", nil, http.StatusUnauthorized},
		{"wrong", "/api/v1/workorders", []string{"Authorization", "Bearer nope"}, http.StatusUnauthorized},
		{"bearer", "/api/v1/workorders", []string{"Authorization", "Bearer secret"}, http.StatusOK},
		{"query", "/api/v1/workorders?token=secret", nil, http.StatusOK},
		{"metrics", "/metrics", []string{"Authorization", "Bearer secret"}, http.StatusOK},
	}
	for _, tc := range cases {
		if w := f.do(http.MethodGet, tc.path, "", tc.hdr...); w.Code != tc.want {
			t.Fatalf("%s: status = %d, want %d", tc.name, w.Code, tc.want)
		}
	}
}

func TestRunCycleAndList(t *testing.T) {
	t.Parallel()
	f := newFixture(t, Config{})

	if w := f.do(http.MethodGet, "/api/v1/cycles/last", ""); w.Code != http.StatusNotFound {
		t.Fatalf("last before any cycle = %d", w.Code)
	}

	w := f.do(http.MethodPost, "/api/v1/cycles", "")
	if w.Code != http.StatusOK {
		t.Fatalf("run cycle = %d %s", w.Code, w.Body)
	}
	var rep recurrence.Report
	if err := json.Unmarshal(w.Body.Bytes(), &rep); err != nil {
		t.Fatalf("decode report: %v", err)
	}
	if rep.Generated != 1 || rep.Trigger != recurrence.TriggerHTTP || rep.RefDate.String() != "2024-01-08" {
		t.Fatalf("report = %+v", rep)
	}

	w = f.do(http.MethodGet, "/api/v1/cycles/last", "")
	if w.Code != http.StatusOK || !strings.Contains(w.Body.String(), rep.RunID) {
		t.Fatalf("last = %d %s", w.Code, w.Body)
	}

	w = f.do(http.MethodGet, "/api/v1/workorders?status=open", "")
	var list struct {
		WorkOrders []maintenance.WorkOrder `json:"work_orders"`
		Count      int                     `json:"count"`
	}
	if err := json.Unmarshal(w.Body.Bytes(), &list); err != nil {
		t.Fatalf("decode list: %v", err)
	}
	if list.Count != 1 || list.WorkOrders[0].Title != "Inspect boiler" || list.WorkOrders[0].DueDate.String() != "2024-01-08" {
		t.Fatalf("list = %+v", list)
	}
}

func TestListValidation(t *testing.T) {
	t.Parallel()
	f := newFixture(t, Config{})
	for _, q := range []string{"status=bogus", "schedule_id=x", "due_before=2024-13-01", "limit=0"} {
		if w := f.do(http.MethodGet, "/api/v1/workorders?"+q, ""); w.Code != http.StatusBadRequest {
			t.Fatalf("%s: status = %d", q, w.Code)
		}
	}
}

func TestSetStatus(t *testing.T) {
	t.Parallel()
	f := newFixture(t, Config{})
	if _, err := f.engine.Run(context.Background(), recurrence.TriggerManual); err != nil {
		t.Fatalf("Run: %v", err)
	}
	wos, _ := f.store.ListWorkOrders(context.Background(), storage.WorkOrderFilter{})
	if len(wos) != 1 {
		t.Fatalf("work orders = %d", len(wos))
	}
	path := "/api/v1/workorders/" + strconv.FormatInt(wos[0].ID, 10) + "/status"

	if w := f.do(http.MethodPut, path, `{"status":"completed"}`); w.Code != http.StatusOK {
		t.Fatalf("set status = %d %s", w.Code, w.Body)
	}
	wos, _ = f.store.ListWorkOrders(context.Background(), storage.WorkOrderFilter{})
	if wos[0].Status != maintenance.StatusCompleted || wos[0].CompletedDate == nil {
		t.Fatalf("work order = %+v", wos[0])
	}

	if w := f.do(http.MethodPut, "/api/v1/workorders/999/status", `{"status":"open"}`); w.Code != http.StatusNotFound {
		t.Fatalf("missing order = %d", w.Code)
	}
	if w := f.do(http.MethodPut, path, `{"status":"paused"}`); w.Code != http.StatusBadRequest {
		t.Fatalf("bad status = %d", w.Code)
	}
	if w := f.do(http.MethodPut, path, `{}`); w.Code != http.StatusBadRequest {
		t.Fatalf("empty body = %d", w.Code)
	}
}

func TestPprofOnlyWhenEnabled(t *testing.T) {
	t.Parallel()
	off := newFixture(t, Config{})
	if w := off.do(http.MethodGet, "/debug/pprof/", ""); w.Code != http.StatusNotFound {
		t.Fatalf("pprof disabled = %d", w.Code)
	}
	on := newFixture(t, Config{Pprof: true})
	if w := on.do(http.MethodGet, "/debug/pprof/", ""); w.Code != http.StatusOK {
		t.Fatalf("pprof index = %d", w.Code)
	}
}
