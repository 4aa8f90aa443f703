package http_test

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/go-chi/chi/v5"

	adapterhttp "github.com/Strob0t/RunForge/internal/adapter/http"
	"github.com/Strob0t/RunForge/internal/adapter/memarchive"
	"github.com/Strob0t/RunForge/internal/adapter/memkv"
	"github.com/Strob0t/RunForge/internal/adapter/stubprovider"
	"github.com/Strob0t/RunForge/internal/domain/conversation"
	"github.com/Strob0t/RunForge/internal/service"
)

func newAPI(t *testing.T) (*chi.Mux, *memarchive.Store) {
	t.Helper()
	store := memarchive.New(memarchive.WithExportDir(t.TempDir()))
	incidents := service.NewIncidentLog(t.TempDir())
	coordinator := service.NewCoordinator(service.CoordinatorConfig{
		Archive:       store,
		Provider:      stubprovider.New(),
		ConvManager:   service.NewConvManager(memkv.New(), 0),
		Planner:       service.NewHistoryPlanner(128000, 0),
		Tools:         service.NewToolRegistry(),
		Rates:         service.NewRateTracker(),
		Incidents:     incidents,
		DefaultPolicy: conversation.Policy{Strategy: conversation.StrategyStateless},
	})
	ops, err := service.NewOpsService(service.OpsConfig{
		Archive:     store,
		Coordinator: coordinator,
		Incidents:   incidents,
	})
	if err != nil {
		t.Fatalf("NewOpsService: %v", err)
	}
	t.Cleanup(ops.Close)

	h := &adapterhttp.Handlers{
		Coordinator: coordinator,
		Ops:         ops,
		Archive:     store,
		Health:      adapterhttp.HealthInfo{Service: "responsesd", Version: "test", ArchiveBackend: "memory", ProviderMode: "stub"},
	}
	router := chi.NewRouter()
	adapterhttp.MountRoutes(router, h, nil)
	return router, store
}

func do(t *testing.T, router http.Handler, method, path, body string) *httptest.ResponseRecorder {
	t.Helper()
	var req *http.Request
	if body == "" {
		req = httptest.NewRequest(method, path, nil)
	} else {
		req = httptest.NewRequest(method, path, strings.NewReader(body))
		req.Header.Set("Content-Type", "application/json")
	}
	rr := httptest.NewRecorder()
	router.ServeHTTP(rr, req)
	return rr
}

func decode(t *testing.T, rr *httptest.ResponseRecorder, v any) {
	t.Helper()
	if err := json.Unmarshal(rr.Body.Bytes(), v); err != nil {
		t.Fatalf("decode response %q: %v", rr.Body.String(), err)
	}
}

const startBody = `{"run_id":"r1","tenant_id":"acme","request":{"model":"gpt-4o-mini","input":"hi"}}`

func TestHealthEndpoint(t *testing.T) {
	router, _ := newAPI(t)
	rr := do(t, router, http.MethodGet, "/health", "")
	if rr.Code != http.StatusOK {
		t.Fatalf("status = %d", rr.Code)
	}
	var health adapterhttp.HealthInfo
	decode(t, rr, &health)
	if health.Service != "responsesd" || health.ArchiveBackend != "memory" {
		t.Errorf("health = %+v", health)
	}
}

func TestStartAndListRuns(t *testing.T) {
	router, _ := newAPI(t)

	rr := do(t, router, http.MethodPost, "/responses/runs", startBody)
	if rr.Code != http.StatusCreated {
		t.Fatalf("start status = %d body = %s", rr.Code, rr.Body.String())
	}

	// A second start with the same id conflicts.
	rr = do(t, router, http.MethodPost, "/responses/runs", startBody)
	if rr.Code != http.StatusConflict {
		t.Errorf("duplicate start status = %d", rr.Code)
	}

	rr = do(t, router, http.MethodGet, "/responses/runs", "")
	if rr.Code != http.StatusOK {
		t.Fatalf("list status = %d", rr.Code)
	}
	var list struct {
		Runs []map[string]any `json:"runs"`
	}
	decode(t, rr, &list)
	if len(list.Runs) != 1 {
		t.Fatalf("runs = %+v", list.Runs)
	}
	row := list.Runs[0]
	if row["runId"] != "r1" || row["status"] != "completed" || row["tenantId"] != "acme" {
		t.Errorf("summary = %v", row)
	}
	if row["totalTokens"] != float64(30) {
		t.Errorf("totalTokens = %v", row["totalTokens"])
	}
}

func TestStartRunValidation(t *testing.T) {
	router, _ := newAPI(t)

	rr := do(t, router, http.MethodPost, "/responses/runs", `{"run_id":"r1","request":{"model":"gpt-4o-mini"}}`)
	if rr.Code != http.StatusBadRequest {
		t.Errorf("missing input status = %d", rr.Code)
	}
	rr = do(t, router, http.MethodPost, "/responses/runs", `{not json`)
	if rr.Code != http.StatusBadRequest {
		t.Errorf("malformed body status = %d", rr.Code)
	}
}

func TestGetRunDetail(t *testing.T) {
	router, _ := newAPI(t)
	do(t, router, http.MethodPost, "/responses/runs", startBody)

	rr := do(t, router, http.MethodGet, "/responses/runs/r1", "")
	if rr.Code != http.StatusOK {
		t.Fatalf("status = %d", rr.Code)
	}
	var detail struct {
		Run              map[string]any   `json:"run"`
		Events           []map[string]any `json:"events"`
		BufferedMessages []map[string]any `json:"bufferedMessages"`
		RateLimits       []map[string]any `json:"rateLimits"`
	}
	decode(t, rr, &detail)
	if detail.Run == nil || len(detail.Events) != 1 {
		t.Errorf("detail = %+v", detail)
	}
	if len(detail.BufferedMessages) != 1 {
		t.Errorf("bufferedMessages = %+v", detail.BufferedMessages)
	}
	if len(detail.RateLimits) != 1 {
		t.Errorf("rateLimits = %+v", detail.RateLimits)
	}

	rr = do(t, router, http.MethodGet, "/responses/runs/ghost", "")
	if rr.Code != http.StatusNotFound {
		t.Errorf("unknown run status = %d", rr.Code)
	}
}

func TestGetTimeline(t *testing.T) {
	router, _ := newAPI(t)
	do(t, router, http.MethodPost, "/responses/runs", startBody)

	rr := do(t, router, http.MethodGet, "/responses/runs/r1/timeline", "")
	if rr.Code != http.StatusOK {
		t.Fatalf("status = %d", rr.Code)
	}

	rr = do(t, router, http.MethodGet, "/responses/runs/r1/timeline?until=0", "")
	if rr.Code != http.StatusOK {
		t.Fatalf("until=0 status = %d", rr.Code)
	}
	var snap struct {
		Events []map[string]any `json:"events"`
	}
	decode(t, rr, &snap)
	if len(snap.Events) != 0 {
		t.Errorf("events at sequence 0 = %+v", snap.Events)
	}

	rr = do(t, router, http.MethodGet, "/responses/runs/r1/timeline?until=abc", "")
	if rr.Code != http.StatusBadRequest {
		t.Errorf("bad until status = %d", rr.Code)
	}
	rr = do(t, router, http.MethodGet, "/responses/runs/r1/timeline?until=-1", "")
	if rr.Code != http.StatusBadRequest {
		t.Errorf("negative until status = %d", rr.Code)
	}
}

func TestRetryRun(t *testing.T) {
	router, _ := newAPI(t)
	do(t, router, http.MethodPost, "/responses/runs", startBody)

	rr := do(t, router, http.MethodPost, "/responses/runs/r1/retry", "")
	if rr.Code != http.StatusCreated {
		t.Fatalf("retry status = %d body = %s", rr.Code, rr.Body.String())
	}
	var summary map[string]any
	decode(t, rr, &summary)
	newID, _ := summary["runId"].(string)
	if !strings.HasPrefix(newID, "run_") || summary["status"] != "completed" {
		t.Errorf("retried summary = %v", summary)
	}

	rr = do(t, router, http.MethodPost, "/responses/runs/ghost/retry", "")
	if rr.Code != http.StatusNotFound {
		t.Errorf("unknown run status = %d", rr.Code)
	}
}

func TestRollbackRun(t *testing.T) {
	router, _ := newAPI(t)
	do(t, router, http.MethodPost, "/responses/runs", startBody)

	rr := do(t, router, http.MethodPost, "/responses/runs/r1/rollback",
		`{"sequence":1,"operator":"ops","reason":"cleanup"}`)
	if rr.Code != http.StatusOK {
		t.Fatalf("rollback status = %d body = %s", rr.Code, rr.Body.String())
	}

	rr = do(t, router, http.MethodPost, "/responses/runs/r1/rollback", `{}`)
	if rr.Code != http.StatusBadRequest {
		t.Errorf("empty target status = %d", rr.Code)
	}
}

func TestModerationNotes(t *testing.T) {
	router, _ := newAPI(t)
	do(t, router, http.MethodPost, "/responses/runs", startBody)

	rr := do(t, router, http.MethodPost, "/responses/runs/r1/moderation-notes",
		`{"reviewer":"alex","note":"looks fine","disposition":"approved"}`)
	if rr.Code != http.StatusCreated {
		t.Fatalf("note status = %d body = %s", rr.Code, rr.Body.String())
	}

	rr = do(t, router, http.MethodPost, "/responses/runs/r1/moderation-notes", `{"reviewer":"alex"}`)
	if rr.Code != http.StatusBadRequest {
		t.Errorf("empty note status = %d", rr.Code)
	}
}

func TestExportRun(t *testing.T) {
	router, _ := newAPI(t)
	do(t, router, http.MethodPost, "/responses/runs", startBody)

	rr := do(t, router, http.MethodPost, "/responses/runs/r1/export", "")
	if rr.Code != http.StatusOK {
		t.Fatalf("export status = %d body = %s", rr.Code, rr.Body.String())
	}
	var out map[string]string
	decode(t, rr, &out)
	if out["path"] == "" {
		t.Errorf("export response = %v", out)
	}
}

func TestOpsEndpoints(t *testing.T) {
	router, _ := newAPI(t)
	do(t, router, http.MethodPost, "/responses/runs", startBody)

	rr := do(t, router, http.MethodGet, "/responses/ops/summary", "")
	if rr.Code != http.StatusOK {
		t.Fatalf("summary status = %d", rr.Code)
	}
	var summary struct {
		TotalRuns int `json:"total_runs"`
	}
	decode(t, rr, &summary)
	if summary.TotalRuns != 1 {
		t.Errorf("total_runs = %d", summary.TotalRuns)
	}

	rr = do(t, router, http.MethodGet, "/responses/ops/incidents", "")
	if rr.Code != http.StatusOK {
		t.Fatalf("incidents status = %d", rr.Code)
	}
	var incidents struct {
		Incidents []map[string]any `json:"incidents"`
	}
	decode(t, rr, &incidents)
	if incidents.Incidents == nil {
		t.Errorf("incidents must be an empty array, got %s", rr.Body.String())
	}

	rr = do(t, router, http.MethodGet, "/responses/ops/incidents?status=bogus", "")
	if rr.Code != http.StatusBadRequest {
		t.Errorf("bad status filter = %d", rr.Code)
	}

	rr = do(t, router, http.MethodPost, "/responses/ops/incidents/inc_ghost/resolve", `{"resolvedBy":"ops"}`)
	if rr.Code != http.StatusNotFound {
		t.Errorf("unknown incident status = %d", rr.Code)
	}
	rr = do(t, router, http.MethodPost, "/responses/ops/incidents/inc_ghost/resolve", `{}`)
	if rr.Code != http.StatusBadRequest {
		t.Errorf("missing resolvedBy status = %d", rr.Code)
	}

	rr = do(t, router, http.MethodPost, "/responses/ops/prune", `{"days":0}`)
	if rr.Code != http.StatusBadRequest {
		t.Errorf("prune days 0 status = %d", rr.Code)
	}
	rr = do(t, router, http.MethodPost, "/responses/ops/prune", `{"days":30}`)
	if rr.Code != http.StatusOK {
		t.Errorf("prune status = %d body = %s", rr.Code, rr.Body.String())
	}
}
