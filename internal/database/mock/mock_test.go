package mock

import (
	"context"
	"errors"
	"testing"

	"github.com/kozaktomas/face-scan/internal/database"
	"github.com/kozaktomas/face-scan/internal/facematch"
)

func TestMockTemplateRepository(t *testing.T) {
	ctx := context.Background()
	repo := NewMockTemplateRepository()

	near := facematch.FeatureVector{"lips": {0.1, 0.1, 0}}
	far := facematch.FeatureVector{"lips": {0.9, 0.9, 0}}

	for _, tpl := range []database.StoredTemplate{
		{Set: "b", Index: 1, Feature: far},
		{Set: "b", Index: 0, Feature: near},
		{Set: "b", Index: 2, NoFace: true},
		{Set: "a", Index: 0, NoFace: true},
	} {
		if err := repo.SaveTemplate(ctx, tpl); err != nil {
			t.Fatalf("SaveTemplate() error = %v", err)
		}
	}

	templates, err := repo.GetTemplates(ctx, "b")
	if err != nil {
		t.Fatalf("GetTemplates() error = %v", err)
	}
	if len(templates) != 3 || templates[0].Index != 0 || templates[2].Index != 2 {
		t.Errorf("GetTemplates() = %+v", templates)
	}

	sets, err := repo.ListSets(ctx)
	if err != nil {
		t.Fatalf("ListSets() error = %v", err)
	}
	want := []database.SetSummary{{Name: "a", NoFace: 1}, {Name: "b", Templates: 2, NoFace: 1}}
	if len(sets) != 2 || sets[0] != want[0] || sets[1] != want[1] {
		t.Errorf("ListSets() = %+v, want %+v", sets, want)
	}

	neighbors, err := repo.FindNearest(ctx, "b", near, 1)
	if err != nil {
		t.Fatalf("FindNearest() error = %v", err)
	}
	if len(neighbors) != 1 || neighbors[0].Index != 0 || neighbors[0].Distance != 0 {
		t.Errorf("FindNearest() = %+v", neighbors)
	}

	first, _ := repo.GetTemplate(ctx, "b", 0)
	if err := repo.SaveTemplate(ctx, database.StoredTemplate{Set: "b", Index: 0, NoFace: true}); err != nil {
		t.Fatalf("SaveTemplate() error = %v", err)
	}
	second, _ := repo.GetTemplate(ctx, "b", 0)
	if second.ID != first.ID || !second.NoFace {
		t.Errorf("upsert changed identity or kept old state: %+v -> %+v", first, second)
	}

	if err := repo.DeleteSet(ctx, "b"); err != nil {
		t.Fatalf("DeleteSet() error = %v", err)
	}
	if got, _ := repo.GetTemplate(ctx, "b", 1); got != nil {
		t.Errorf("expected deleted template, got %+v", got)
	}
}

func TestMockTemplateRepository_ErrorInjection(t *testing.T) {
	ctx := context.Background()
	repo := NewMockTemplateRepository()
	repo.SaveError = errors.New("boom")
	repo.SaveErrorAfter = 1

	if err := repo.SaveTemplate(ctx, database.StoredTemplate{Set: "s", Index: 0, NoFace: true}); err != nil {
		t.Fatalf("first save should succeed, got %v", err)
	}
	if err := repo.SaveTemplate(ctx, database.StoredTemplate{Set: "s", Index: 1, NoFace: true}); err == nil {
		t.Fatal("second save should fail")
	}
	if repo.Saves() != 1 {
		t.Errorf("Saves() = %d, want 1", repo.Saves())
	}

	repo.GetError = errors.New("get")
	if _, err := repo.GetTemplates(ctx, "s"); err == nil {
		t.Error("expected GetError")
	}
	if _, err := repo.FindNearest(ctx, "s", nil, 1); err == nil {
		t.Error("expected error propagated from GetTemplates")
	}
}
