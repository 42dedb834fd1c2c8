// Package milestone detects celebratory threshold crossings by comparing
// year-to-date totals before and after a single activity's contribution.
package milestone

import (
	"math"

	"github.com/belialboy/stravatotwitter/internal/domain"
)

// Tag marks one milestone condition that just became true.
type Tag string

const (
	TagFirstOfYear      Tag = "first_of_year"
	TagCountCentury     Tag = "count_century"
	TagCountFifty       Tag = "count_fifty"
	TagCountTen         Tag = "count_ten"
	TagDistance100Km    Tag = "distance_100km"
	TagDistance100Mi    Tag = "distance_100mi"
	TagCombinedDistance Tag = "combined_distance_500km"
	TagDuration100Hours Tag = "duration_100h"
	TagCombinedDuration Tag = "combined_duration_250h"
	TagFasterThanUsual  Tag = "faster_than_usual"
	TagFurtherThanUsual Tag = "further_than_usual"
	TagLongerThanUsual  Tag = "longer_than_usual"
	TagAchievements     Tag = "achievements"
	TagPersonalRecords  Tag = "personal_records"
)

// Threshold steps. Distances in meters (1 mile = 1609 m, matching the legacy
// constant), durations in seconds.
const (
	stepDistanceKm       = 100_000.0  // every 100 km per type
	stepDistanceMi       = 160_900.0  // every 100 miles per type
	stepCombinedDistance = 500_000.0  // every 500 km across all types
	stepDuration         = 360_000.0  // every 100 hours per type
	stepCombinedDuration = 900_000.0  // every 250 hours across all types
)

// DefaultStretchFactor pads averages before "better than usual" comparisons.
const DefaultStretchFactor = 1.05

// Detect compares the prior and updated year totals for the activity's base
// type and returns every milestone the activity just crossed, in catalogue
// order. It is pure; callers own any cosmetic reordering.
func Detect(prior, updated domain.YearTotals, activity domain.ActivityDetail, stretch float64) []Tag {
	if stretch <= 0 {
		stretch = DefaultStretchFactor
	}

	activityType := activity.BaseType()
	after, ok := updated[activityType]
	if !ok {
		return nil
	}
	before := prior[activityType]

	deltaDistance := after.Distance - before.Distance
	deltaDuration := after.Duration - before.Duration

	var tags []Tag

	if after.Count == 1 {
		tags = append(tags, TagFirstOfYear)
	} else {
		switch {
		case crossed(float64(before.Count), float64(after.Count), 100):
			tags = append(tags, TagCountCentury)
		case crossed(float64(before.Count), float64(after.Count), 50):
			tags = append(tags, TagCountFifty)
		case crossed(float64(before.Count), float64(after.Count), 10):
			tags = append(tags, TagCountTen)
		}
	}

	if crossed(before.Distance, after.Distance, stepDistanceKm) {
		tags = append(tags, TagDistance100Km)
	}
	if crossed(before.Distance, after.Distance, stepDistanceMi) {
		tags = append(tags, TagDistance100Mi)
	}
	if crossed(before.Duration, after.Duration, stepDuration) {
		tags = append(tags, TagDuration100Hours)
	}

	beforeAll := sumTotals(prior)
	afterAll := sumTotals(updated)
	if crossed(beforeAll.Distance, afterAll.Distance, stepCombinedDistance) {
		tags = append(tags, TagCombinedDistance)
	}
	if crossed(beforeAll.Duration, afterAll.Duration, stepCombinedDuration) {
		tags = append(tags, TagCombinedDuration)
	}

	// Average-based comparisons divide by the previous activities of the
	// type; with count == 1 there are none, so they are skipped outright.
	if after.Count > 1 {
		prevCount := float64(after.Count - 1)
		prevDistance := before.Distance
		prevDuration := before.Duration

		if deltaDuration > 0 && prevDuration > 0 {
			speed := deltaDistance / deltaDuration
			avgSpeed := prevDistance / prevDuration
			if speed > avgSpeed*stretch {
				tags = append(tags, TagFasterThanUsual)
			}
		}
		if deltaDistance > prevDistance/prevCount*stretch {
			tags = append(tags, TagFurtherThanUsual)
		}
		if deltaDuration > prevDuration/prevCount*stretch {
			tags = append(tags, TagLongerThanUsual)
		}
	}

	if activity.AchievementCount > 0 {
		tags = append(tags, TagAchievements)
	}
	if activity.PRCount > 0 {
		tags = append(tags, TagPersonalRecords)
	}

	return tags
}

// crossed reports whether a cumulative value stepped over a threshold
// multiple. Floor division fires exactly once even when a single activity
// jumps more than one whole step.
func crossed(before, after, step float64) bool {
	return math.Floor(after/step) != math.Floor(before/step)
}

func sumTotals(year domain.YearTotals) domain.TotalsCell {
	var sum domain.TotalsCell
	for _, cell := range year {
		sum.Distance += cell.Distance
		sum.Duration += cell.Duration
		sum.Count += cell.Count
	}
	return sum
}
