package config

import "time"

// InScheduleWindow reports whether t's local wall-clock time falls within
// the transcoder's configured schedule window, handling windows that wrap
// past midnight (e.g. 22:00-06:00).
func (t *TranscoderConfig) InScheduleWindow(at time.Time) bool {
	startMin, err := parseHHMM(t.ScheduleStart)
	if err != nil {
		return false
	}
	endMin, err := parseHHMM(t.ScheduleEnd)
	if err != nil {
		return false
	}

	local := at.Local()
	nowMin := local.Hour()*60 + local.Minute()

	if startMin <= endMin {
		return nowMin >= startMin && nowMin < endMin
	}
	// wrap-around window, e.g. 22:00-06:00
	return nowMin >= startMin || nowMin < endMin
}
