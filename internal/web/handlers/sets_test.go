package handlers

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/kozaktomas/face-scan/internal/catalog"
	"github.com/kozaktomas/face-scan/internal/database"
	"github.com/kozaktomas/face-scan/internal/database/mock"
)

func TestSetsHandler_Create(t *testing.T) {
	handler := NewSetsHandler(catalog.New(nil, nil), nil)

	req := jsonRequest(t, http.MethodPost, "/api/v1/sets", CreateSetRequest{
		Name:   "Summer Trip",
		Images: [][]byte{testImage(0), testImage(10)},
	})
	recorder := httptest.NewRecorder()

	handler.Create(recorder, req)

	assertStatusCode(t, recorder, http.StatusCreated)
	assertContentType(t, recorder, "application/json")

	var result catalog.Summary
	parseJSONResponse(t, recorder, &result)
	if result.Name != "summer-trip" || result.Items != 2 {
		t.Errorf("unexpected summary %+v", result)
	}
}

func TestSetsHandler_Create_Validation(t *testing.T) {
	tests := []struct {
		name    string
		body    any
		message string
	}{
		{"missing name", CreateSetRequest{Images: [][]byte{testImage(0)}}, "name is required"},
		{"invalid name", CreateSetRequest{Name: "???"}, `invalid set name: "???"`},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			handler := NewSetsHandler(catalog.New(nil, nil), nil)
			recorder := httptest.NewRecorder()

			handler.Create(recorder, jsonRequest(t, http.MethodPost, "/api/v1/sets", tc.body))

			assertStatusCode(t, recorder, http.StatusBadRequest)
			assertJSONError(t, recorder, tc.message)
		})
	}
}

func TestSetsHandler_Create_InvalidJSON(t *testing.T) {
	handler := NewSetsHandler(catalog.New(nil, nil), nil)
	recorder := httptest.NewRecorder()

	handler.Create(recorder, httptest.NewRequest(http.MethodPost, "/api/v1/sets", nil))

	assertStatusCode(t, recorder, http.StatusBadRequest)
	assertJSONError(t, recorder, errInvalidRequestBody)
}

func TestSetsHandler_ListGetDelete(t *testing.T) {
	c := catalog.New(nil, nil)
	if _, err := c.Create(context.Background(), "b", [][]byte{testImage(0)}); err != nil {
		t.Fatal(err)
	}
	if _, err := c.Create(context.Background(), "a", nil); err != nil {
		t.Fatal(err)
	}
	handler := NewSetsHandler(c, nil)

	recorder := httptest.NewRecorder()
	handler.List(recorder, httptest.NewRequest(http.MethodGet, "/api/v1/sets", nil))
	assertStatusCode(t, recorder, http.StatusOK)
	var list struct {
		Sets       []catalog.Summary `json:"sets"`
		Persistent bool              `json:"persistent"`
	}
	parseJSONResponse(t, recorder, &list)
	if len(list.Sets) != 2 || list.Sets[0].Name != "a" || list.Persistent {
		t.Errorf("unexpected list %+v", list)
	}

	recorder = httptest.NewRecorder()
	handler.Get(recorder, requestWithChiParams(httptest.NewRequest(http.MethodGet, "/api/v1/sets/b", nil), map[string]string{"name": "b"}))
	assertStatusCode(t, recorder, http.StatusOK)

	recorder = httptest.NewRecorder()
	handler.Delete(recorder, requestWithChiParams(httptest.NewRequest(http.MethodDelete, "/api/v1/sets/b", nil), map[string]string{"name": "b"}))
	assertStatusCode(t, recorder, http.StatusOK)

	recorder = httptest.NewRecorder()
	handler.Get(recorder, requestWithChiParams(httptest.NewRequest(http.MethodGet, "/api/v1/sets/b", nil), map[string]string{"name": "b"}))
	assertStatusCode(t, recorder, http.StatusNotFound)
	assertJSONError(t, recorder, "set not found")

	recorder = httptest.NewRecorder()
	handler.Delete(recorder, requestWithChiParams(httptest.NewRequest(http.MethodDelete, "/api/v1/sets/b", nil), map[string]string{"name": "b"}))
	assertStatusCode(t, recorder, http.StatusNotFound)
}

func TestSetsHandler_Nearest(t *testing.T) {
	repo := mock.NewMockTemplateRepository()
	repo.AddTemplate(database.StoredTemplate{Set: "album", Index: 0, Feature: testFeature(5)})
	repo.AddTemplate(database.StoredTemplate{Set: "album", Index: 1, Feature: testFeature(1)})
	repo.AddTemplate(database.StoredTemplate{Set: "album", Index: 2, NoFace: true})
	handler := NewSetsHandler(catalog.New(repo, nil), nil)

	req := jsonRequest(t, http.MethodPost, "/api/v1/sets/album/nearest", NearestRequest{Feature: testFeature(0).Map(), K: 1})
	req = requestWithChiParams(req, map[string]string{"name": "Album"})
	recorder := httptest.NewRecorder()

	handler.Nearest(recorder, req)

	assertStatusCode(t, recorder, http.StatusOK)
	var result NearestResponse
	parseJSONResponse(t, recorder, &result)
	if result.Set != "album" || len(result.Neighbors) != 1 || result.Neighbors[0].Index != 1 {
		t.Errorf("unexpected response %+v", result)
	}
}

func TestSetsHandler_Nearest_Errors(t *testing.T) {
	t.Run("no store", func(t *testing.T) {
		handler := NewSetsHandler(catalog.New(nil, nil), nil)
		req := jsonRequest(t, http.MethodPost, "/", NearestRequest{Feature: testFeature(0).Map()})
		recorder := httptest.NewRecorder()

		handler.Nearest(recorder, requestWithChiParams(req, map[string]string{"name": "album"}))

		assertStatusCode(t, recorder, http.StatusServiceUnavailable)
	})

	t.Run("invalid feature", func(t *testing.T) {
		handler := NewSetsHandler(catalog.New(mock.NewMockTemplateRepository(), nil), nil)
		req := jsonRequest(t, http.MethodPost, "/", NearestRequest{Feature: map[string][]float64{"lips": {1, 2}}})
		recorder := httptest.NewRecorder()

		handler.Nearest(recorder, requestWithChiParams(req, map[string]string{"name": "album"}))

		assertStatusCode(t, recorder, http.StatusBadRequest)
		assertJSONError(t, recorder, "invalid feature")
	})

	t.Run("missing name", func(t *testing.T) {
		handler := NewSetsHandler(catalog.New(nil, nil), nil)
		recorder := httptest.NewRecorder()

		handler.Nearest(recorder, requestWithChiParams(httptest.NewRequest(http.MethodPost, "/", nil), map[string]string{}))

		assertStatusCode(t, recorder, http.StatusBadRequest)
		assertJSONError(t, recorder, "missing set name")
	})
}
