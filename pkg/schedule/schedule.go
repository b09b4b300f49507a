// Package schedule computes delayed resumption times for the implicit
// 1→2→3 follow-up sequence, using a day/night rule anchored on the
// lead's creation time.
package schedule

import "time"

// The business clock runs a fixed five hours behind the reference
// clock. No daylight-saving adjustment is applied.
const utcOffsetHours = -5

var businessZone = time.FixedZone("business", utcOffsetHours*60*60)

// Local business hours: a lead created between midnight and 08:00
// local time counts as a "night" lead, everything else as "day".
const (
	nightEndHour = 8

	stage2NightHour = 12 // same local day, noon
	stage2DayHour   = 14 // next local day, 2pm
	stage3Hour      = 19 // 7pm, one or two local days out
)

// Next is a computed stage transition: the stage the lead moves to and
// the instant the transition should run at, on the reference clock.
type Next struct {
	Stage int
	At    time.Time
}

// NextNurture computes the resumption instant for the transition out of
// currentStage, given the lead's creation instant. It returns nil when
// currentStage has no further automatic stage.
//
// now participates only in the night/stage-1 "already past" check; the
// function performs no I/O and is otherwise deterministic in createdAt.
func NextNurture(createdAt time.Time, currentStage int, now time.Time) *Next {
	created := createdAt.In(businessZone)
	night := created.Hour() < nightEndHour

	switch currentStage {
	case 1:
		if night {
			// Same local day at noon; if evaluation already ran past
			// it, push to the next day.
			target := at(created, 0, stage2NightHour)
			if now.After(target) {
				target = target.AddDate(0, 0, 1)
			}
			return &Next{Stage: 2, At: target}
		}
		return &Next{Stage: 2, At: at(created, 1, stage2DayHour)}

	case 2:
		days := 2
		if night {
			days = 1
		}
		return &Next{Stage: 3, At: at(created, days, stage3Hour)}
	}

	return nil
}

// at builds the instant for local calendar day created+days at the
// given local hour, expressed on the reference clock.
func at(created time.Time, days, hour int) time.Time {
	t := time.Date(created.Year(), created.Month(), created.Day(), hour, 0, 0, 0, businessZone)
	if days != 0 {
		t = t.AddDate(0, 0, days)
	}
	return t.UTC()
}
