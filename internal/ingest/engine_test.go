package ingest

import (
	"context"
	"testing"

	"github.com/FocuswithJustin/bookvault/internal/model"
)

func TestEngineRunAccumulatesSummary(t *testing.T) {
	src := &fakeSource{
		book: model.Book{ID: 1, Source: model.SourceAPI, ChapterCount: 1},
		chapters: []model.ChapterData{
			{Index: 1, Body: "body", WordCount: 1},
		},
	}
	planner, _ := newTestPlanner(t, src)
	engine := NewEngine(planner, 2)

	plan := []model.PlanEntry{
		{ID: 1, Source: model.SourceAPI},
	}
	sum := engine.Run(context.Background(), plan)
	if sum.BooksErrored != 0 {
		t.Errorf("BooksErrored = %d, want 0: %v", sum.BooksErrored, sum.Errors)
	}
	if sum.BooksRefreshed != 1 {
		t.Errorf("BooksRefreshed = %d, want 1", sum.BooksRefreshed)
	}
	if sum.ChaptersAdded != 1 {
		t.Errorf("ChaptersAdded = %d, want 1", sum.ChaptersAdded)
	}
}

func TestEngineRunHandlesNotFoundAndEmptyPlan(t *testing.T) {
	src := &fakeSource{notFound: true}
	planner, _ := newTestPlanner(t, src)
	engine := NewEngine(planner, 3)

	sum := engine.Run(context.Background(), nil)
	if sum.BooksRefreshed != 0 || sum.BooksErrored != 0 || sum.BooksRemoved != 0 {
		t.Errorf("empty plan should produce an empty summary, got %+v", sum)
	}

	sum = engine.Run(context.Background(), []model.PlanEntry{{ID: 2, Source: model.SourceAPI}})
	if sum.BooksRemoved != 1 {
		t.Errorf("BooksRemoved = %d, want 1", sum.BooksRemoved)
	}
}
