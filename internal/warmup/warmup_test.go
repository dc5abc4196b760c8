package warmup

import (
	"context"
	"testing"

	"github.com/rs/zerolog"

	"github.com/trailres/resolver/internal/model"
)

type fakeSource struct {
	movies []PopularTitle
	series []PopularTitle
}

func (f fakeSource) PopularMovies(ctx context.Context, limit int) ([]PopularTitle, error) {
	return f.movies, nil
}

func (f fakeSource) PopularSeries(ctx context.Context, limit int) ([]PopularTitle, error) {
	return f.series, nil
}

// runOnce calls resolver.Resolve per title; against a nil *resolver.Resolver
// that only stays safe with empty lists, so this exercises the
// source-fetch/error-handling wiring without resolving anything real.
func TestRunOnceToleratesEmptyLists(t *testing.T) {
	w := New(nil, fakeSource{}, zerolog.Nop())
	w.runOnce(context.Background())
}

func TestPopularTitleCarriesMediaType(t *testing.T) {
	src := fakeSource{
		movies: []PopularTitle{{ImdbID: "tt0000001", Type: model.MediaMovie}},
	}
	got, err := src.PopularMovies(context.Background(), 25)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(got) != 1 || got[0].Type != model.MediaMovie {
		t.Fatalf("unexpected titles: %+v", got)
	}
}
