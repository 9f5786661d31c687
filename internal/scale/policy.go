package scale

// Side names one of the two images of a run.
type Side int

const (
	SideSource Side = iota
	SideTarget
)

func (s Side) String() string {
	if s == SideTarget {
		return "target"
	}
	return "source"
}

// Policy is the per-direction plan for a run: which image is resampled before
// encoding, whether the warped result is resampled back, and how the two
// images are labelled for the user.
type Policy struct {
	Direction     Direction
	PreScale      Side
	RestoreResult bool
	SourceLabel   string
	TargetLabel   string
}

// PolicyFor returns the policy for dir.
//
// Inc scales the source up by s, warps it onto the target and keeps the result.
// Dec scales the target down by 1/s, warps the source onto it and scales the
// result back up by s.
func PolicyFor(dir Direction) Policy {
	if dir == Dec {
		return Policy{
			Direction:     Dec,
			PreScale:      SideTarget,
			RestoreResult: true,
			SourceLabel:   "Histology",
			TargetLabel:   "MRI",
		}
	}
	return Policy{
		Direction:   Inc,
		PreScale:    SideSource,
		SourceLabel: "MRI",
		TargetLabel: "Histology",
	}
}

// PreScaleFactor is the factor applied to the PreScale side.
func (p Policy) PreScaleFactor(s float64) float64 {
	if p.PreScale == SideTarget {
		return 1 / s
	}
	return s
}

// RestoreFactor is the factor applied to the decoded result (1 if not restored).
func (p Policy) RestoreFactor(s float64) float64 {
	if p.RestoreResult {
		return s
	}
	return 1
}
