// Package stage defines the six-phase pipeline a project request moves
// through, from first contact to ongoing maintenance.
package stage

// Stage is one of the six canonical pipeline values a request's status
// may hold.
type Stage string

const (
	Discover Stage = "discover"
	Define   Stage = "define"
	Design   Stage = "design"
	Develop  Stage = "develop"
	Deliver  Stage = "deliver"
	Maintain Stage = "maintain"
)

// Initial is the stage assigned to every new request. Callers never
// choose it.
const Initial = Discover

// ordered lists the stages in presentation order. The pipeline does not
// enforce this order on transitions unless strict mode is enabled at the
// service layer.
var ordered = []Stage{Discover, Define, Design, Develop, Deliver, Maintain}

// legacy maps historical status strings onto the nearest canonical
// stage. These values still exist in stored rows and must stay readable.
var legacy = map[string]Stage{
	"submitted":   Discover,
	"reviewing":   Define,
	"in_progress": Develop,
	"completed":   Deliver,
	"on_hold":     Define,
}

// All returns the stages in pipeline order.
func All() []Stage {
	out := make([]Stage, len(ordered))
	copy(out, ordered)
	return out
}

// Valid reports whether s is one of the six canonical stages. Write
// paths must reject anything else, legacy values included.
func Valid(s string) bool {
	switch Stage(s) {
	case Discover, Define, Design, Develop, Deliver, Maintain:
		return true
	default:
		return false
	}
}

// Normalize maps a stored status onto a canonical stage for reads.
// Legacy values map to their nearest stage; anything unrecognized
// falls back to the initial stage.
func Normalize(s string) Stage {
	if Valid(s) {
		return Stage(s)
	}
	if mapped, ok := legacy[s]; ok {
		return mapped
	}
	return Initial
}

// Index returns the position of s in the pipeline order, or -1 for a
// non-canonical value. Used by strict-mode transition checks.
func Index(s Stage) int {
	for i, v := range ordered {
		if v == s {
			return i
		}
	}
	return -1
}
