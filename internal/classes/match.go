package classes

// Match returns the instances satisfying the filter.
//
// It is a pure function: no I/O, no hidden state, identical inputs yield
// identical outputs. An instance matches iff every specified dimension is
// satisfied and the instance has free spots; unspecified dimensions
// vacuously match. Unknown ids (e.g. from a stale catalog) simply never
// match, they are not an error.
//
// Weekday and time-of-day checks run against inst.Start, which carries the
// club's local time zone.
func Match(instances []ClassInstance, f Filter) []ClassInstance {
	var out []ClassInstance
	for _, inst := range instances {
		if Matches(inst, f) {
			out = append(out, inst)
		}
	}
	return out
}

// Matches reports whether a single instance satisfies the filter.
func Matches(inst ClassInstance, f Filter) bool {
	if !inst.Bookable() {
		return false
	}
	if !f.Club.Matches(inst.Club) {
		return false
	}
	if !f.Zone.Matches(inst.Zone) {
		return false
	}
	if !f.ClassType.Matches(inst.ClassType) {
		return false
	}
	if !f.Trainer.Matches(inst.Trainer) {
		return false
	}
	if !f.Days.Matches(inst.Start.Weekday()) {
		return false
	}
	if !f.Window.Matches(inst.Start) {
		return false
	}
	return true
}
