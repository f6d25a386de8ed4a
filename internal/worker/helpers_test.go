package worker

import (
	"context"
	"strconv"
	"testing"
	"time"

	"github.com/kozaktomas/face-scan/internal/detector"
	"github.com/kozaktomas/face-scan/internal/facematch"
	"github.com/kozaktomas/face-scan/internal/landmark"
	"github.com/kozaktomas/face-scan/internal/scanner"
)

// faceLandmark builds a face whose feature distance to faceLandmark(0) is shift/100.
func faceLandmark(shift float64) *landmark.Landmark {
	points := []landmark.Point{
		{X: 50, Y: 5, Z: 0, Name: landmark.FaceOval},
		{X: 50, Y: 95, Z: 10, Name: landmark.FaceOval},
		{X: 20 + shift, Y: 30, Z: 5, Name: landmark.LeftEye},
		{X: 22 + shift, Y: 31, Z: 5, Name: landmark.LeftIris},
		{X: 50 + shift, Y: 70, Z: 6, Name: landmark.Lips},
		{X: 70 + shift, Y: 30, Z: 5, Name: landmark.RightEye},
		{X: 72 + shift, Y: 31, Z: 5, Name: landmark.RightIris},
	}
	return landmark.New(landmark.BoundingBox{Width: 100, Height: 100}, landmark.ImageShape{}, points)
}

func probeFeature() facematch.FeatureVector {
	return facematch.NewFace(faceLandmark(0), landmark.UnitScale).Feature()
}

func face(shift float64) []byte {
	return []byte(strconv.FormatFloat(shift, 'f', -1, 64))
}

// shiftDetector decodes images produced by face. "noface" has no face.
func shiftDetector(_ context.Context, image []byte) (*landmark.Landmark, error) {
	if string(image) == "noface" {
		return nil, detector.ErrNoFace
	}
	shift, err := strconv.ParseFloat(string(image), 64)
	if err != nil {
		return nil, err
	}
	return faceLandmark(shift), nil
}

func rawItems(images ...[]byte) scanner.Items {
	items := make(scanner.Items, len(images))
	for i, img := range images {
		items[i] = scanner.RawSlot(img)
	}
	return items
}

// collect reads events until a done event for work arrives.
func collect(t *testing.T, w *Worker, work string) []Event {
	t.Helper()
	var events []Event
	timeout := time.After(5 * time.Second)
	for {
		select {
		case e, ok := <-w.Events():
			if !ok {
				t.Fatal("event stream closed before done")
			}
			events = append(events, e)
			if e.Type == EventDone && e.Work == work {
				return events
			}
		case <-timeout:
			t.Fatalf("timed out waiting for done of %q, got %d events", work, len(events))
		}
	}
}

func updateIndices(events []Event) []int {
	var out []int
	for _, e := range events {
		if e.Type == EventUpdate {
			out = append(out, e.Index)
		}
	}
	return out
}
