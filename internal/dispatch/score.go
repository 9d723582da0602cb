// Package dispatch recommends an ambulance for a triaged call. Scoring
// balances distance to the scene, call severity, and fairness across the
// fleet; lower scores are better.
package dispatch

import (
	"math"
	"strconv"
	"strings"
	"time"

	"github.com/callscribe/callscribe/internal/models"
)

// Default coordinates used when a location string cannot be parsed.
const (
	defaultLat = 49.2827
	defaultLon = -123.1207
)

// fairnessWindow is how far back recent dispatches count against a unit.
const fairnessWindow = time.Hour

const fairnessPenalty = 10.0

var severityWeights = map[string]float64{
	models.UrgencyCritical: 100,
	models.UrgencyUrgent:   50,
	models.UrgencyStable:   10,
}

// Breakdown explains how a unit's score was assembled.
type Breakdown struct {
	DistanceKm float64 `json:"distanceKm"`
	Severity   float64 `json:"severity"`
	Fairness   float64 `json:"fairness"`
}

// Recommendation is the ranked pick for a call.
type Recommendation struct {
	Ambulance models.Ambulance `json:"ambulance"`
	Score     float64          `json:"score"`
	Breakdown Breakdown        `json:"breakdown"`
}

type coords struct {
	lat, lon float64
}

// parseLocation accepts "lat, lon" strings; anything else falls back to the
// service-area center so a garbled location never blocks a dispatch.
func parseLocation(location string) coords {
	if strings.Contains(location, ",") {
		parts := strings.SplitN(location, ",", 2)
		lat, errLat := strconv.ParseFloat(strings.TrimSpace(parts[0]), 64)
		lon, errLon := strconv.ParseFloat(strings.TrimSpace(parts[1]), 64)
		if errLat == nil && errLon == nil {
			return coords{lat: lat, lon: lon}
		}
	}
	return coords{lat: defaultLat, lon: defaultLon}
}

// haversineKm is the great-circle distance between two points.
func haversineKm(a, b coords) float64 {
	const earthRadiusKm = 6371

	dLat := (b.lat - a.lat) * math.Pi / 180
	dLon := (b.lon - a.lon) * math.Pi / 180
	h := math.Sin(dLat/2)*math.Sin(dLat/2) +
		math.Cos(a.lat*math.Pi/180)*math.Cos(b.lat*math.Pi/180)*
			math.Sin(dLon/2)*math.Sin(dLon/2)
	c := 2 * math.Atan2(math.Sqrt(h), math.Sqrt(1-h))
	return earthRadiusKm * c
}

func severityWeight(urgency string) float64 {
	if w, ok := severityWeights[urgency]; ok {
		return w
	}
	return severityWeights[models.UrgencyStable]
}

// fairnessScore penalizes units dispatched within the window so one nearby
// ambulance does not absorb every call.
func fairnessScore(recentDispatches int) float64 {
	return float64(recentDispatches) * fairnessPenalty
}

// score combines the components. Distance dominates, then severity, then
// fairness.
func score(distanceKm, severity, fairness float64) float64 {
	return distanceKm*2 + (100-severity)*0.5 + fairness
}

// Rank scores every available ambulance against the call and returns the
// recommendations sorted best first. recentByUnit maps ambulance ID to its
// dispatch count within the fairness window. Returns nil when no unit is
// available.
func Rank(call models.Call, fleet []models.Ambulance, recentByUnit map[string]int) []Recommendation {
	urgency := models.UrgencyStable
	if call.Analysis != nil {
		urgency = call.Analysis.Urgency
	}
	scene := parseLocation(call.Location)

	var recs []Recommendation
	for _, unit := range fleet {
		if unit.Status != models.AmbulanceAvailable {
			continue
		}

		distance := haversineKm(scene, parseLocation(unit.Location))
		severity := severityWeight(urgency)
		fairness := fairnessScore(recentByUnit[unit.ID])

		recs = append(recs, Recommendation{
			Ambulance: unit,
			Score:     score(distance, severity, fairness),
			Breakdown: Breakdown{
				DistanceKm: math.Round(distance*100) / 100,
				Severity:   severity,
				Fairness:   fairness,
			},
		})
	}

	// Insertion sort keeps the dependency surface flat for a fleet-sized
	// slice.
	for i := 1; i < len(recs); i++ {
		for j := i; j > 0 && recs[j].Score < recs[j-1].Score; j-- {
			recs[j], recs[j-1] = recs[j-1], recs[j]
		}
	}
	return recs
}

// Best returns the single top recommendation, or false when the fleet has no
// available unit.
func Best(call models.Call, fleet []models.Ambulance, recentByUnit map[string]int) (Recommendation, bool) {
	recs := Rank(call, fleet, recentByUnit)
	if len(recs) == 0 {
		return Recommendation{}, false
	}
	return recs[0], true
}
