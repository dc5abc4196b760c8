package archive

import "testing"

func TestBuildQueriesOrdersByPriority(t *testing.T) {
	qs := buildQueries("tt0111161", "Shawshank Redemption", "", 1994, "", 0)
	if len(qs) == 0 {
		t.Fatal("expected at least one query")
	}
	if qs[0].id != "imdb_exact" {
		t.Fatalf("expected imdb_exact first, got %s", qs[0].id)
	}
}

func TestBuildQueriesOmitsImdbWhenAbsent(t *testing.T) {
	qs := buildQueries("", "Shawshank Redemption", "", 1994, "", 0)
	for _, q := range qs {
		if q.id == "imdb_exact" {
			t.Fatal("did not expect imdb_exact without an imdb id")
		}
	}
}

func TestPrefilterDropsShortsAndFeaturettes(t *testing.T) {
	docs := []Doc{
		{Identifier: "a", Title: "Movie Trailer #shorts"},
		{Identifier: "b", Title: "Movie Behind The Scenes Featurette"},
		{Identifier: "c", Title: "Movie Official Trailer"},
		{Identifier: "d", Title: "Movie Clip One"},
	}
	out := prefilter(docs)
	if len(out) != 1 || out[0].Identifier != "c" {
		t.Fatalf("expected only doc c to survive prefilter, got %+v", out)
	}
}

func TestRankShortCircuitsOnImdbMatch(t *testing.T) {
	docs := []Doc{
		{Identifier: "a", Title: "Something Unrelated", ExternalIdentifier: []string{"urn:imdb:tt0111161"}},
	}
	req := Request{ImdbID: "tt0111161", Title: "The Shawshank Redemption", Year: 1994}
	winner, score, ok := rank(docs, req)
	if !ok {
		t.Fatal("expected a match via imdb short-circuit")
	}
	if score != 1.0 {
		t.Fatalf("expected score 1.0, got %v", score)
	}
	if winner.Identifier != "a" {
		t.Fatalf("unexpected winner: %+v", winner)
	}
}

func TestRankRejectsConflictingImdbID(t *testing.T) {
	docs := []Doc{
		{Identifier: "a", Title: "The Shawshank Redemption Trailer", ExternalIdentifier: []string{"urn:imdb:tt9999999"}, Year: 1994},
	}
	req := Request{ImdbID: "tt0111161", Title: "The Shawshank Redemption", Year: 1994}
	_, _, ok := rank(docs, req)
	if ok {
		t.Fatal("expected rejection on conflicting imdb id")
	}
}

func TestRankRejectsBelowFuzzyFloor(t *testing.T) {
	docs := []Doc{
		{Identifier: "a", Title: "Completely Different Movie Trailer", Year: 1994},
	}
	req := Request{Title: "The Shawshank Redemption", Year: 1994}
	_, _, ok := rank(docs, req)
	if ok {
		t.Fatal("expected rejection below the 0.5 fuzzy floor")
	}
}

func TestRankAcceptsExactTitleWithStructuralFilter(t *testing.T) {
	docs := []Doc{
		{Identifier: "a", Title: "The Shawshank Redemption Official Trailer", Year: 1994, Downloads: 15000},
	}
	req := Request{Title: "The Shawshank Redemption", Year: 1994}
	winner, score, ok := rank(docs, req)
	if !ok {
		t.Fatalf("expected acceptance, got score %v", score)
	}
	if winner.Identifier != "a" {
		t.Fatalf("unexpected winner: %+v", winner)
	}
}

func TestEstimateQualityBuckets(t *testing.T) {
	cases := []struct {
		size int64
		want string
	}{
		{200 << 20, "1080p"},
		{60 << 20, "720p"},
		{25 << 20, "480p"},
		{5 << 20, "360p"},
	}
	for _, c := range cases {
		if got := estimateQuality(c.size); got != c.want {
			t.Errorf("estimateQuality(%d) = %q, want %q", c.size, got, c.want)
		}
	}
}
