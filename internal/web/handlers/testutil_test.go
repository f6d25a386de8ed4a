package handlers

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strconv"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/kozaktomas/face-scan/internal/detector"
	"github.com/kozaktomas/face-scan/internal/facematch"
	"github.com/kozaktomas/face-scan/internal/landmark"
)

// requestWithChiParams creates a request with chi URL parameters
func requestWithChiParams(r *http.Request, params map[string]string) *http.Request {
	rctx := chi.NewRouteContext()
	for key, value := range params {
		rctx.URLParams.Add(key, value)
	}
	return r.WithContext(context.WithValue(r.Context(), chi.RouteCtxKey, rctx))
}

// jsonRequest creates a request with a JSON encoded body
func jsonRequest(t *testing.T, method, path string, body any) *http.Request {
	t.Helper()
	data, err := json.Marshal(body)
	if err != nil {
		t.Fatalf("failed to marshal request body: %v", err)
	}
	req := httptest.NewRequest(method, path, bytes.NewReader(data))
	req.Header.Set("Content-Type", "application/json")
	return req
}

// parseJSONResponse parses a JSON response body into the target type
func parseJSONResponse(t *testing.T, recorder *httptest.ResponseRecorder, target any) {
	t.Helper()
	if err := json.Unmarshal(recorder.Body.Bytes(), target); err != nil {
		t.Fatalf("failed to parse JSON response: %v\nBody: %s", err, recorder.Body.String())
	}
}

// assertStatusCode checks if the response has the expected status code
func assertStatusCode(t *testing.T, recorder *httptest.ResponseRecorder, expected int) {
	t.Helper()
	if recorder.Code != expected {
		t.Errorf("expected status %d, got %d\nBody: %s", expected, recorder.Code, recorder.Body.String())
	}
}

// assertContentType checks if the response has the expected content type
func assertContentType(t *testing.T, recorder *httptest.ResponseRecorder, expected string) {
	t.Helper()
	ct := recorder.Header().Get("Content-Type")
	if ct != expected {
		t.Errorf("expected Content-Type '%s', got '%s'", expected, ct)
	}
}

// assertJSONError checks if the response is a JSON error with the expected message
func assertJSONError(t *testing.T, recorder *httptest.ResponseRecorder, expectedMessage string) {
	t.Helper()
	var result map[string]string
	if err := json.Unmarshal(recorder.Body.Bytes(), &result); err != nil {
		t.Fatalf("failed to parse error response: %v\nBody: %s", err, recorder.Body.String())
	}
	if result["error"] != expectedMessage {
		t.Errorf("expected error '%s', got '%s'", expectedMessage, result["error"])
	}
}

// testLandmark builds a face whose feature distance to testLandmark(0) is shift/100.
func testLandmark(shift float64) *landmark.Landmark {
	points := []landmark.Point{
		{X: 20 + shift, Y: 30, Z: 5, Name: landmark.LeftEye},
		{X: 22 + shift, Y: 31, Z: 5, Name: landmark.LeftIris},
		{X: 50 + shift, Y: 70, Z: 6, Name: landmark.Lips},
		{X: 70 + shift, Y: 30, Z: 5, Name: landmark.RightEye},
		{X: 72 + shift, Y: 31, Z: 5, Name: landmark.RightIris},
	}
	return landmark.New(landmark.BoundingBox{Width: 100, Height: 100}, landmark.ImageShape{}, points)
}

func testFeature(shift float64) facematch.FeatureVector {
	return facematch.NewFace(testLandmark(shift), landmark.UnitScale).Feature()
}

// testImage encodes a shift as fake image bytes understood by testDetector.
func testImage(shift float64) []byte {
	return []byte(strconv.FormatFloat(shift, 'f', -1, 64))
}

// testDetector decodes images produced by testImage. "noface" has no face.
type testDetector struct {
	entered chan struct{} // closed when a "block" image is reached
	block   chan struct{} // when set, "block" images wait on it
}

func (d *testDetector) Detect(_ context.Context, image []byte) (*landmark.Landmark, error) {
	switch string(image) {
	case "noface":
		return nil, detector.ErrNoFace
	case "block":
		if d.entered != nil {
			close(d.entered)
		}
		if d.block != nil {
			<-d.block
		}
		return nil, detector.ErrNoFace
	}
	shift, err := strconv.ParseFloat(string(image), 64)
	if err != nil {
		return nil, err
	}
	return testLandmark(shift), nil
}

// waitForJob polls until the job reaches a terminal status.
func waitForJob(t *testing.T, job *ScanJob) ScanJobView {
	t.Helper()
	deadline := time.Now().Add(5 * time.Second)
	for time.Now().Before(deadline) {
		if isJobTerminal(job.GetStatus()) {
			return job.View()
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatalf("job %s did not finish, status %s", job.ID, job.GetStatus())
	return ScanJobView{}
}
