package dispatch

import (
	"math"
	"testing"

	"github.com/callscribe/callscribe/internal/models"
)

func critCall(location string) models.Call {
	return models.Call{
		CallID:   "call-1",
		Location: location,
		Analysis: &models.Analysis{Urgency: models.UrgencyCritical},
	}
}

func TestParseLocation(t *testing.T) {
	cases := []struct {
		in       string
		lat, lon float64
	}{
		{"49.25, -123.10", 49.25, -123.10},
		{"49.25,-123.10", 49.25, -123.10},
		{"corner of Main and 5th", defaultLat, defaultLon},
		{"", defaultLat, defaultLon},
		{"north, south", defaultLat, defaultLon},
	}
	for _, tc := range cases {
		got := parseLocation(tc.in)
		if got.lat != tc.lat || got.lon != tc.lon {
			t.Errorf("parseLocation(%q) = %+v", tc.in, got)
		}
	}
}

func TestHaversineKm(t *testing.T) {
	// Vancouver city center to UBC is roughly 10 km.
	d := haversineKm(coords{49.2827, -123.1207}, coords{49.2606, -123.2460})
	if d < 8 || d > 12 {
		t.Errorf("distance = %.2f km, want roughly 10", d)
	}
	if z := haversineKm(coords{49, -123}, coords{49, -123}); z != 0 {
		t.Errorf("zero distance = %f", z)
	}
}

func TestScoreComponents(t *testing.T) {
	// distance*2 + (100-severity)*0.5 + fairness
	got := score(5, 100, 0)
	if got != 10 {
		t.Errorf("critical at 5km = %f, want 10", got)
	}
	got = score(5, 10, 20)
	if got != 5*2+45+20 {
		t.Errorf("stable with fairness = %f", got)
	}
}

func TestRank_NearestAvailableWins(t *testing.T) {
	fleet := []models.Ambulance{
		{ID: "far", Status: models.AmbulanceAvailable, Location: "49.40, -123.40"},
		{ID: "near", Status: models.AmbulanceAvailable, Location: "49.29, -123.12"},
		{ID: "busy", Status: models.AmbulanceEnRoute, Location: "49.2827, -123.1207"},
	}

	recs := Rank(critCall("49.2827, -123.1207"), fleet, nil)
	if len(recs) != 2 {
		t.Fatalf("ranked %d units, want 2 (busy unit excluded)", len(recs))
	}
	if recs[0].Ambulance.ID != "near" {
		t.Errorf("best = %s, want near", recs[0].Ambulance.ID)
	}
	if recs[0].Score >= recs[1].Score {
		t.Error("ranking not sorted ascending")
	}
}

func TestRank_FairnessPenaltyShiftsPick(t *testing.T) {
	// Two units at the same spot; the one dispatched three times in the
	// last hour loses.
	fleet := []models.Ambulance{
		{ID: "worked", Status: models.AmbulanceAvailable, Location: "49.29, -123.12"},
		{ID: "rested", Status: models.AmbulanceAvailable, Location: "49.29, -123.12"},
	}
	recent := map[string]int{"worked": 3}

	best, ok := Best(critCall("49.2827, -123.1207"), fleet, recent)
	if !ok {
		t.Fatal("no recommendation")
	}
	if best.Ambulance.ID != "rested" {
		t.Errorf("best = %s, want rested", best.Ambulance.ID)
	}
	if diff := best.Score + 30 - rankScore(t, fleet[0], recent); math.Abs(diff) > 1e-9 {
		t.Errorf("penalty gap = %f, want exactly 3*10", diff)
	}
}

func rankScore(t *testing.T, unit models.Ambulance, recent map[string]int) float64 {
	t.Helper()
	recs := Rank(critCall("49.2827, -123.1207"), []models.Ambulance{unit}, recent)
	if len(recs) != 1 {
		t.Fatal("unit not ranked")
	}
	return recs[0].Score
}

func TestRank_SeverityLowersScore(t *testing.T) {
	fleet := []models.Ambulance{
		{ID: "a", Status: models.AmbulanceAvailable, Location: "49.29, -123.12"},
	}

	critical, _ := Best(critCall("49.2827, -123.1207"), fleet, nil)

	stable := critCall("49.2827, -123.1207")
	stable.Analysis.Urgency = models.UrgencyStable
	mild, _ := Best(stable, fleet, nil)

	if critical.Score >= mild.Score {
		t.Errorf("critical %.2f should rank better than stable %.2f", critical.Score, mild.Score)
	}
}

func TestRank_UnanalyzedCallTreatedAsStable(t *testing.T) {
	fleet := []models.Ambulance{
		{ID: "a", Status: models.AmbulanceAvailable, Location: "49.29, -123.12"},
	}
	call := models.Call{CallID: "c", Location: "49.2827, -123.1207"}

	recs := Rank(call, fleet, nil)
	if len(recs) != 1 {
		t.Fatal("unit not ranked")
	}
	if recs[0].Breakdown.Severity != 10 {
		t.Errorf("severity = %f, want stable weight 10", recs[0].Breakdown.Severity)
	}
}

func TestBest_EmptyFleet(t *testing.T) {
	if _, ok := Best(critCall("x"), nil, nil); ok {
		t.Error("expected no recommendation for empty fleet")
	}
	down := []models.Ambulance{{ID: "a", Status: models.AmbulanceOutOfService}}
	if _, ok := Best(critCall("x"), down, nil); ok {
		t.Error("expected no recommendation when every unit is out of service")
	}
}
