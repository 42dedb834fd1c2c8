package milestone

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/belialboy/stravatotwitter/internal/domain"
)

func ride(distance, duration float64, count int) domain.YearTotals {
	return domain.YearTotals{"Ride": {Distance: distance, Duration: duration, Count: count}}
}

func TestHundredKmAndTenthActivityScenario(t *testing.T) {
	prior := ride(90000, 10000, 59)
	updated := ride(100000, 11000, 60)
	activity := domain.ActivityDetail{Type: "Ride", Distance: 10000, ElapsedTime: 1000}

	tags := Detect(prior, updated, activity, DefaultStretchFactor)

	require.Contains(t, tags, TagDistance100Km)
	require.Contains(t, tags, TagCountTen)
	require.NotContains(t, tags, TagDistance100Mi, "100km is not 100 miles")
	require.NotContains(t, tags, TagFirstOfYear)
}

func TestThresholdCrossingFiresExactlyOnce(t *testing.T) {
	// 95km -> 105km crosses the 100km boundary once.
	prior := ride(95000, 9000, 10)
	updated := ride(105000, 10000, 11)
	tags := Detect(prior, updated, domain.ActivityDetail{Type: "Ride"}, DefaultStretchFactor)
	require.Contains(t, tags, TagDistance100Km)

	// 250km -> 260km crosses nothing.
	prior = ride(250000, 9000, 10)
	updated = ride(260000, 10000, 11)
	tags = Detect(prior, updated, domain.ActivityDetail{Type: "Ride"}, DefaultStretchFactor)
	require.NotContains(t, tags, TagDistance100Km)
}

func TestMultiStepJumpFiresOnce(t *testing.T) {
	// A 250km single ride from 90km jumps two 100km boundaries but the
	// floor comparison still yields one tag.
	prior := ride(90000, 10000, 5)
	updated := ride(340000, 40000, 6)
	tags := Detect(prior, updated, domain.ActivityDetail{Type: "Ride"}, DefaultStretchFactor)

	count := 0
	for _, tag := range tags {
		if tag == TagDistance100Km {
			count++
		}
	}
	require.Equal(t, 1, count)
}

func TestFirstActivityOfYearSkipsAverages(t *testing.T) {
	updated := ride(10000, 1000, 1)
	activity := domain.ActivityDetail{Type: "Ride", Distance: 10000, ElapsedTime: 1000}

	tags := Detect(domain.YearTotals{}, updated, activity, DefaultStretchFactor)

	require.Contains(t, tags, TagFirstOfYear)
	require.NotContains(t, tags, TagFasterThanUsual)
	require.NotContains(t, tags, TagFurtherThanUsual)
	require.NotContains(t, tags, TagLongerThanUsual)
	require.NotContains(t, tags, TagCountTen, "first activity is not a round-number milestone")
}

func TestVirtualActivityDetectsAgainstBaseType(t *testing.T) {
	prior := ride(95000, 9000, 9)
	updated := ride(105000, 10000, 10)
	activity := domain.ActivityDetail{Type: "VirtualRide"}

	tags := Detect(prior, updated, activity, DefaultStretchFactor)
	require.Contains(t, tags, TagDistance100Km)
	require.Contains(t, tags, TagCountTen)
}

func TestFasterThanUsual(t *testing.T) {
	// YTD average before: 100km in 10000s = 10 m/s. New ride at 12 m/s.
	prior := ride(100000, 10000, 4)
	updated := ride(112000, 11000, 5)
	activity := domain.ActivityDetail{Type: "Ride"}

	tags := Detect(prior, updated, activity, DefaultStretchFactor)
	require.Contains(t, tags, TagFasterThanUsual)

	// A ride barely above average stays under the stretch factor.
	prior = ride(100000, 10000, 4)
	updated = ride(110100, 11000, 5)
	tags = Detect(prior, updated, activity, DefaultStretchFactor)
	require.NotContains(t, tags, TagFasterThanUsual)
}

func TestFurtherAndLongerThanUsual(t *testing.T) {
	// Average previous ride: 20km in 2000s. New ride: 30km in 3000s.
	prior := ride(100000, 10000, 5)
	updated := ride(130000, 13000, 6)
	activity := domain.ActivityDetail{Type: "Ride"}

	tags := Detect(prior, updated, activity, DefaultStretchFactor)
	require.Contains(t, tags, TagFurtherThanUsual)
	require.Contains(t, tags, TagLongerThanUsual)
}

func TestCountMilestoneHierarchy(t *testing.T) {
	activity := domain.ActivityDetail{Type: "Ride"}

	tags := Detect(ride(1000, 100, 99), ride(2000, 200, 100), activity, DefaultStretchFactor)
	require.Contains(t, tags, TagCountCentury)
	require.NotContains(t, tags, TagCountFifty)
	require.NotContains(t, tags, TagCountTen)

	tags = Detect(ride(1000, 100, 49), ride(2000, 200, 50), activity, DefaultStretchFactor)
	require.Contains(t, tags, TagCountFifty)
	require.NotContains(t, tags, TagCountTen)
}

func TestCombinedTotalsSpanActivityTypes(t *testing.T) {
	prior := domain.YearTotals{
		"Ride": {Distance: 400000, Duration: 500000, Count: 20},
		"Run":  {Distance: 90000, Duration: 390000, Count: 12},
	}
	// A run pushes the combined distance over 500km and combined duration
	// over 900000s (250h).
	updated := domain.YearTotals{
		"Ride": {Distance: 400000, Duration: 500000, Count: 20},
		"Run":  {Distance: 101000, Duration: 401000, Count: 13},
	}
	activity := domain.ActivityDetail{Type: "Run"}

	tags := Detect(prior, updated, activity, DefaultStretchFactor)
	require.Contains(t, tags, TagCombinedDistance)
	require.Contains(t, tags, TagCombinedDuration)
}

func TestAchievementAndPRTags(t *testing.T) {
	prior := ride(10000, 1000, 3)
	updated := ride(11000, 1100, 4)
	activity := domain.ActivityDetail{Type: "Ride", AchievementCount: 2, PRCount: 1}

	tags := Detect(prior, updated, activity, DefaultStretchFactor)
	require.Contains(t, tags, TagAchievements)
	require.Contains(t, tags, TagPersonalRecords)
}

func TestUnknownTypeInUpdatedTotalsYieldsNoTags(t *testing.T) {
	tags := Detect(domain.YearTotals{}, domain.YearTotals{}, domain.ActivityDetail{Type: "Ride"}, DefaultStretchFactor)
	require.Empty(t, tags)
}
