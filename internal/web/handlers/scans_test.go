package handlers

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/kozaktomas/face-scan/internal/catalog"
	"github.com/kozaktomas/face-scan/internal/database/mock"
	"github.com/kozaktomas/face-scan/internal/scanner"
	"github.com/kozaktomas/face-scan/internal/worker"
)

func newScansHandlerForTest(t *testing.T, det scanner.Detector, c *catalog.Catalog, images ...[]byte) *ScansHandler {
	t.Helper()
	if _, err := c.Create(context.Background(), "album", images); err != nil {
		t.Fatalf("failed to create set: %v", err)
	}
	return NewScansHandler(c, det, scanner.DefaultConfig(), 2, NewJobManager(), nil)
}

func startScan(t *testing.T, handler *ScansHandler, body StartScanRequest) (*httptest.ResponseRecorder, *ScanJob) {
	t.Helper()
	recorder := httptest.NewRecorder()
	handler.Start(recorder, jsonRequest(t, http.MethodPost, "/api/v1/scans", body))
	if recorder.Code != http.StatusAccepted {
		return recorder, nil
	}
	var result map[string]any
	parseJSONResponse(t, recorder, &result)
	id, _ := result["job_id"].(string)
	job := handler.jobManager.GetJob(id)
	if job == nil {
		t.Fatalf("job %q not registered", id)
	}
	return recorder, job
}

func TestScansHandler_Start_ProbeImage(t *testing.T) {
	repo := mock.NewMockTemplateRepository()
	handler := newScansHandlerForTest(t, &testDetector{}, catalog.New(repo, nil),
		testImage(30), testImage(20), testImage(0), []byte("noface"), testImage(50))

	recorder, job := startScan(t, handler, StartScanRequest{Set: "album", ProbeImage: testImage(0)})
	assertStatusCode(t, recorder, http.StatusAccepted)

	view := waitForJob(t, job)
	if view.Status != JobStatusCompleted {
		t.Fatalf("expected completed, got %s (%s)", view.Status, view.Error)
	}
	if view.Matched == nil || view.Matched.Label != 2 || view.Matched.Confidence != 1 {
		t.Errorf("expected match on index 2, got %+v", view.Matched)
	}
	if view.Resolved != 5 || view.Workers != 2 || len(view.Partitions) != 2 {
		t.Errorf("unexpected job view %+v", view)
	}
	if repo.Saves() != 5 {
		t.Errorf("expected every resolved item persisted, got %d saves", repo.Saves())
	}
}

func TestScansHandler_Start_ProbeFeatureNoMatch(t *testing.T) {
	handler := newScansHandlerForTest(t, &testDetector{}, catalog.New(nil, nil), testImage(30), testImage(40))

	_, job := startScan(t, handler, StartScanRequest{Set: "album", ProbeFeature: testFeature(0).Map(), Workers: 1})

	view := waitForJob(t, job)
	if view.Status != JobStatusCompleted || view.Matched != nil {
		t.Errorf("expected completed without match, got %+v", view)
	}
	if view.Workers != 1 {
		t.Errorf("expected 1 worker, got %d", view.Workers)
	}
}

func TestScansHandler_Start_Validation(t *testing.T) {
	tests := []struct {
		name    string
		body    StartScanRequest
		status  int
		message string
	}{
		{"missing set", StartScanRequest{ProbeImage: testImage(0)}, http.StatusBadRequest, "set is required"},
		{"unknown set", StartScanRequest{Set: "nope", ProbeImage: testImage(0)}, http.StatusNotFound, "set not found"},
		{"missing probe", StartScanRequest{Set: "album"}, http.StatusBadRequest, "probe_image or probe_feature is required"},
		{"invalid feature", StartScanRequest{Set: "album", ProbeFeature: map[string][]float64{"lips": {1}}}, http.StatusBadRequest, "invalid probe_feature"},
		{"no face", StartScanRequest{Set: "album", ProbeImage: []byte("noface")}, http.StatusUnprocessableEntity, "no face found in probe image"},
		{"detector error", StartScanRequest{Set: "album", ProbeImage: []byte("garbage")}, http.StatusBadGateway, "probe detection failed"},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			handler := newScansHandlerForTest(t, &testDetector{}, catalog.New(nil, nil), testImage(0))
			recorder, _ := startScan(t, handler, tc.body)
			assertStatusCode(t, recorder, tc.status)
			assertJSONError(t, recorder, tc.message)
		})
	}
}

func TestScansHandler_StatusAndList(t *testing.T) {
	handler := newScansHandlerForTest(t, &testDetector{}, catalog.New(nil, nil), testImage(0))
	handler.jobManager.CreateJob("job-1", "album", 2, 1)

	recorder := httptest.NewRecorder()
	handler.Status(recorder, requestWithChiParams(httptest.NewRequest(http.MethodGet, "/api/v1/scans/job-1", nil), map[string]string{"jobId": "job-1"}))
	assertStatusCode(t, recorder, http.StatusOK)
	var view ScanJobView
	parseJSONResponse(t, recorder, &view)
	if view.ID != "job-1" || view.Status != JobStatusPending || view.Set != "album" {
		t.Errorf("unexpected view %+v", view)
	}

	recorder = httptest.NewRecorder()
	handler.Status(recorder, requestWithChiParams(httptest.NewRequest(http.MethodGet, "/api/v1/scans/x", nil), map[string]string{"jobId": "x"}))
	assertStatusCode(t, recorder, http.StatusNotFound)
	assertJSONError(t, recorder, "job not found")

	recorder = httptest.NewRecorder()
	handler.Status(recorder, requestWithChiParams(httptest.NewRequest(http.MethodGet, "/api/v1/scans/", nil), map[string]string{}))
	assertStatusCode(t, recorder, http.StatusBadRequest)
	assertJSONError(t, recorder, "missing job ID")

	recorder = httptest.NewRecorder()
	handler.List(recorder, httptest.NewRequest(http.MethodGet, "/api/v1/scans", nil))
	assertStatusCode(t, recorder, http.StatusOK)
	var list struct {
		Jobs []ScanJobView `json:"jobs"`
	}
	parseJSONResponse(t, recorder, &list)
	if len(list.Jobs) != 1 {
		t.Errorf("expected 1 job, got %d", len(list.Jobs))
	}
}

func TestScansHandler_Cancel(t *testing.T) {
	det := &testDetector{entered: make(chan struct{}), block: make(chan struct{})}
	handler := newScansHandlerForTest(t, det, catalog.New(nil, nil), []byte("block"), testImage(0), testImage(0), testImage(0))
	handler.workers = 1

	_, job := startScan(t, handler, StartScanRequest{Set: "album", ProbeFeature: testFeature(0).Map()})

	select {
	case <-det.entered:
	case <-time.After(5 * time.Second):
		t.Fatal("detector never reached the blocking item")
	}

	recorder := httptest.NewRecorder()
	handler.Cancel(recorder, requestWithChiParams(httptest.NewRequest(http.MethodDelete, "/api/v1/scans/"+job.ID, nil), map[string]string{"jobId": job.ID}))
	assertStatusCode(t, recorder, http.StatusOK)
	close(det.block)

	view := waitForJob(t, job)
	if view.Status != JobStatusCancelled {
		t.Errorf("expected cancelled, got %s", view.Status)
	}
	if view.Matched != nil {
		t.Errorf("expected no match after cancel, got %+v", view.Matched)
	}
	if view.Resolved != 1 {
		t.Errorf("expected only the in-flight item resolved, got %d", view.Resolved)
	}
}

func TestScansHandler_Cancel_NotFound(t *testing.T) {
	handler := NewScansHandler(catalog.New(nil, nil), nil, scanner.DefaultConfig(), 1, NewJobManager(), nil)
	recorder := httptest.NewRecorder()

	handler.Cancel(recorder, requestWithChiParams(httptest.NewRequest(http.MethodDelete, "/api/v1/scans/x", nil), map[string]string{"jobId": "x"}))

	assertStatusCode(t, recorder, http.StatusNotFound)
}

func TestScansHandler_Events(t *testing.T) {
	handler := newScansHandlerForTest(t, &testDetector{}, catalog.New(nil, nil), testImage(0), testImage(3))

	_, job := startScan(t, handler, StartScanRequest{Set: "album", ProbeFeature: testFeature(0).Map()})
	waitForJob(t, job)

	recorder := httptest.NewRecorder()
	handler.Events(recorder, requestWithChiParams(httptest.NewRequest(http.MethodGet, "/api/v1/scans/"+job.ID+"/events", nil), map[string]string{"jobId": job.ID}))

	assertContentType(t, recorder, "text/event-stream")
	body := recorder.Body.String()
	if !strings.HasPrefix(body, "event: status\n") {
		t.Errorf("expected initial status event, got %q", body)
	}
	if !strings.Contains(body, `"status":"completed"`) {
		t.Errorf("expected completed status in stream, got %q", body)
	}
}

func TestScanJob_PartitionsUseDoneWire(t *testing.T) {
	job := NewJobManager().CreateJob("j", "album", 1, 1)
	job.finish(JobStatusCompleted, worker.Outcome{
		Partitions: []worker.Event{{Type: worker.EventDone, Work: "j", Worker: "worker-0", Status: worker.StatusCompleted}},
	}, "")

	view := job.View()
	if view.CompletedAt == nil || view.Matched != nil {
		t.Errorf("unexpected view %+v", view)
	}
	if len(view.Partitions) != 1 || view.Partitions[0].Status != worker.StatusCompleted {
		t.Errorf("unexpected partitions %+v", view.Partitions)
	}
}

func TestJobManager_Prune(t *testing.T) {
	m := NewJobManager()
	old := m.CreateJob("old", "s", 1, 0)
	old.finish(JobStatusCompleted, worker.Outcome{}, "")
	m.CreateJob("running", "s", 1, 0)

	if n := m.Prune(time.Now().Add(time.Second)); n != 1 {
		t.Errorf("expected 1 pruned job, got %d", n)
	}
	if m.GetJob("old") != nil || m.GetJob("running") == nil {
		t.Error("prune removed the wrong job")
	}
}

func TestScanJob_CancelBeforeRunning(t *testing.T) {
	job := NewJobManager().CreateJob("j", "album", 1, 0)
	job.Cancel()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	job.setRunning(cancel)

	select {
	case <-ctx.Done():
	default:
		t.Error("expected a pending cancel to stop the job once it starts")
	}
}

func TestScansHandler_ReplacedSetKeepsNoTemplatesOfOldScan(t *testing.T) {
	repo := mock.NewMockTemplateRepository()
	c := catalog.New(repo, nil)
	det := &testDetector{entered: make(chan struct{}), block: make(chan struct{})}
	handler := newScansHandlerForTest(t, det, c, testImage(0), []byte("block"), testImage(3))
	handler.workers = 1

	_, job := startScan(t, handler, StartScanRequest{Set: "album", ProbeFeature: testFeature(50).Map()})

	select {
	case <-det.entered:
	case <-time.After(5 * time.Second):
		t.Fatal("detector never reached the blocking item")
	}

	if _, err := c.Create(context.Background(), "album", [][]byte{[]byte("noface"), []byte("noface"), []byte("noface")}); err != nil {
		t.Fatalf("failed to replace set: %v", err)
	}
	close(det.block)
	waitForJob(t, job)

	templates, err := repo.GetTemplates(context.Background(), "album")
	if err != nil {
		t.Fatal(err)
	}
	if len(templates) != 0 {
		t.Errorf("replaced set inherited %d templates from the old scan", len(templates))
	}

	reopened, err := c.Open(context.Background(), "album", [][]byte{[]byte("noface"), []byte("noface"), []byte("noface")})
	if err != nil {
		t.Fatal(err)
	}
	for i := 0; i < reopened.Len(); i++ {
		if kind := reopened.Slot(i).Kind; kind != scanner.SlotRaw {
			t.Errorf("slot %d preloaded as %v", i, kind)
		}
	}
}
