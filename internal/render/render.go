// Package render turns detected milestones plus activity data into the two
// outbound texts: the public announcement and the description update.
package render

import (
	"fmt"
	"math"
	"math/rand/v2"
	"strings"

	"github.com/belialboy/stravatotwitter/internal/domain"
	"github.com/belialboy/stravatotwitter/internal/milestone"
)

// verbToNoun converts the upstream activity verb into announcement prose.
var verbToNoun = map[string]string{
	"VirtualRun":  "virtual run",
	"Run":         "run",
	"VirtualRide": "virtual ride",
	"Ride":        "ride",
	"Rowing":      "row",
	"Walk":        "walk",
}

// recoveryCapSeconds caps the estimated recovery figure at four days.
const recoveryCapSeconds = 4 * secondsPerDay

// Renderer composes fragments per tag instead of choosing between whole-message
// templates. Fragment order is shuffled before composition; that is cosmetic.
type Renderer struct {
	durationField domain.DurationField
	shuffle       func(n int, swap func(i, j int))
}

// RendererOption configures a Renderer.
type RendererOption func(*Renderer)

// WithShuffle overrides the fragment shuffle, letting tests pin the order.
func WithShuffle(shuffle func(n int, swap func(i, j int))) RendererOption {
	return func(r *Renderer) { r.shuffle = shuffle }
}

// NewRenderer builds a Renderer using the configured duration source.
func NewRenderer(durationField domain.DurationField, opts ...RendererOption) *Renderer {
	r := &Renderer{
		durationField: durationField,
		shuffle:       rand.Shuffle,
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Announcement renders the public post for a processed activity. It returns
// ok=false, suppressing the post entirely, when no milestones were detected
// or when the activity is private. The privacy check is a hard rule.
func (r *Renderer) Announcement(tags []milestone.Tag, activity domain.ActivityDetail, profile domain.Profile, year domain.YearTotals) (string, bool) {
	if len(tags) == 0 || activity.Private {
		return "", false
	}

	activityType := activity.BaseType()
	ytd := year[activityType]
	noun := nounFor(activity.Type)
	duration := activity.DurationSeconds(r.durationField)

	var b strings.Builder
	fmt.Fprintf(&b, "%s %s did a %s of %0.2fmiles (%0.2fkm) in %s - https://www.strava.com/activities/%d",
		profile.FirstName, profile.LastName, noun,
		Miles(activity.Distance), Km(activity.Distance),
		FormatDuration(duration), activity.ID)
	fmt.Fprintf(&b, "\nYTD for %d %ss: %0.2fmiles (%0.2fkm) in %s",
		ytd.Count, noun, Miles(ytd.Distance), Km(ytd.Distance), FormatDuration(ytd.Duration))

	for _, fragment := range r.fragments(tags, activity, year) {
		b.WriteString("\n")
		b.WriteString(fragment)
	}

	if activity.DeviceName == "Zwift" {
		b.WriteString(" #RideOn #Zwift")
	}

	return b.String(), true
}

// DescriptionUpdate renders the replacement description for the activity.
// Any user-authored text is preserved ahead of the generated block. An
// estimated recovery figure is appended when heart-rate data is present.
func (r *Renderer) DescriptionUpdate(activity domain.ActivityDetail, year domain.YearTotals, priorDescription string) string {
	activityType := activity.BaseType()
	ytd := year[activityType]
	noun := nounFor(activity.Type)
	duration := activity.DurationSeconds(r.durationField)

	var b strings.Builder
	if prior := strings.TrimSpace(priorDescription); prior != "" {
		b.WriteString(prior)
		b.WriteString("\n\n")
	}

	fmt.Fprintf(&b, "YTD %ss: %d | %0.2fmiles (%0.2fkm) | %s",
		noun, ytd.Count, Miles(ytd.Distance), Km(ytd.Distance), FormatDuration(ytd.Duration))

	if isRunningType(activityType) {
		fmt.Fprintf(&b, "\nPace: %s/mile (%s/km)",
			PaceMinPerMile(duration, activity.Distance),
			PaceMinPerKm(duration, activity.Distance))
	} else {
		fmt.Fprintf(&b, "\nSpeed: %.1fmph (%.1fkm/h)",
			MPH(activity.Distance, duration),
			KmPH(activity.Distance, duration))
	}

	if activity.AverageHeartrate > 0 && duration > 0 {
		fmt.Fprintf(&b, "\nEstimated recovery: %.0f%% of 4 days", recoveryPercent(activity.AverageHeartrate, duration))
	}

	return b.String()
}

// recoveryPercent estimates effort as min(hr * minutes / 200 * 3600, 4 days)
// expressed as a percentage of the 4-day cap.
func recoveryPercent(heartrate, durationSeconds float64) float64 {
	minutes := durationSeconds / 60.0
	effort := heartrate * minutes / 200.0 * 3600.0
	if effort > recoveryCapSeconds {
		effort = recoveryCapSeconds
	}
	return effort / recoveryCapSeconds * 100.0
}

func (r *Renderer) fragments(tags []milestone.Tag, activity domain.ActivityDetail, year domain.YearTotals) []string {
	shuffled := make([]milestone.Tag, len(tags))
	copy(shuffled, tags)
	r.shuffle(len(shuffled), func(i, j int) {
		shuffled[i], shuffled[j] = shuffled[j], shuffled[i]
	})

	activityType := activity.BaseType()
	ytd := year[activityType]
	var all domain.TotalsCell
	for _, cell := range year {
		all.Distance += cell.Distance
		all.Duration += cell.Duration
	}
	noun := nounFor(activity.Type)

	out := make([]string, 0, len(shuffled))
	for _, tag := range shuffled {
		if fragment := fragmentFor(tag, noun, activity, ytd, all); fragment != "" {
			out = append(out, fragment)
		}
	}
	return out
}

func fragmentFor(tag milestone.Tag, noun string, activity domain.ActivityDetail, ytd, all domain.TotalsCell) string {
	switch tag {
	case milestone.TagFirstOfYear:
		return fmt.Sprintf("🎉 First %s of the year!", noun)
	case milestone.TagCountCentury:
		return fmt.Sprintf("💯 That's %d %ss this year!", ytd.Count, noun)
	case milestone.TagCountFifty:
		return fmt.Sprintf("🏅 %d %ss this year!", ytd.Count, noun)
	case milestone.TagCountTen:
		return fmt.Sprintf("🔟 That makes %d %ss this year!", ytd.Count, noun)
	case milestone.TagDistance100Km:
		return fmt.Sprintf("🚀 Past %.0fkm of %ss this year!", math.Floor(ytd.Distance/100000)*100, noun)
	case milestone.TagDistance100Mi:
		return fmt.Sprintf("💪 Past %.0f miles of %ss this year!", math.Floor(ytd.Distance/160900)*100, noun)
	case milestone.TagCombinedDistance:
		return fmt.Sprintf("🌍 Over %.0fkm across all activities this year!", math.Floor(all.Distance/500000)*500)
	case milestone.TagDuration100Hours:
		return fmt.Sprintf("⏱ More than %.0f hours of %ss this year!", math.Floor(ytd.Duration/360000)*100, noun)
	case milestone.TagCombinedDuration:
		return fmt.Sprintf("⏳ Over %.0f hours of activity this year!", math.Floor(all.Duration/900000)*250)
	case milestone.TagFasterThanUsual:
		return fmt.Sprintf("⚡ Faster than this year's average %s!", noun)
	case milestone.TagFurtherThanUsual:
		return fmt.Sprintf("📏 Further than the usual %s!", noun)
	case milestone.TagLongerThanUsual:
		return fmt.Sprintf("⌛ Longer than the usual %s!", noun)
	case milestone.TagAchievements:
		return fmt.Sprintf("🏆 %d achievements on this one!", activity.AchievementCount)
	case milestone.TagPersonalRecords:
		return fmt.Sprintf("🥇 %d personal records!", activity.PRCount)
	}
	return ""
}

func nounFor(activityType string) string {
	if noun, ok := verbToNoun[activityType]; ok {
		return noun
	}
	return strings.ToLower(activityType)
}

func isRunningType(baseType string) bool {
	return baseType == "Run" || baseType == "Walk"
}
