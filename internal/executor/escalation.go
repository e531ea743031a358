package executor

import "github.com/korvuslabs/prowl/internal/session"

// Step is one rung of the stealth escalation ladder: the identity posture a
// given attempt must run under. Steps are data, not behavior, so the full
// ladder for a request is decidable up front and trivially testable.
type Step struct {
	Engine     session.Engine
	Visibility session.Visibility
	UseProxy   bool
}

// Plan returns the escalation ladder for a request, one step per attempt.
//
// The first attempt runs the caller's preferred posture. The second switches
// to the webkit engine, whose network fingerprint differs most from
// chromium's (or to chromium when webkit was already preferred). The final
// attempt runs firefox with a visible window and routes through an egress
// proxy when one is configured; headed firefox presents the fewest
// automation tells and is the most expensive posture we have.
//
// available restricts which engines the driver can launch; nil means all
// three. With a single-engine driver the ladder still escalates what it
// can: a fresh session per attempt, then a visible window plus proxy.
//
// attempts below 1 is treated as 1. Ladders longer than three attempts
// repeat the final step: there is no stealthier posture to escalate to.
func Plan(preferred session.Engine, visibility session.Visibility, attempts int, available []session.Engine) []Step {
	if attempts < 1 {
		attempts = 1
	}
	if len(available) == 0 {
		available = []session.Engine{session.EngineChromium, session.EngineFirefox, session.EngineWebkit}
	}
	if !contains(available, preferred) {
		preferred = available[0]
	}

	second := pickEngine(available, preferred, session.EngineWebkit, session.EngineChromium)
	final := pickEngine(available, second, session.EngineFirefox, preferred)

	ladder := []Step{
		{Engine: preferred, Visibility: visibility},
		{Engine: second, Visibility: session.VisibilityHeadless},
		{Engine: final, Visibility: session.VisibilityHeaded, UseProxy: true},
	}

	steps := make([]Step, attempts)
	for i := range steps {
		if i < len(ladder) {
			steps[i] = ladder[i]
		} else {
			steps[i] = ladder[len(ladder)-1]
		}
	}
	return steps
}

// pickEngine returns the first of the wanted engines present in available,
// skipping avoid where possible, falling back to avoid itself.
func pickEngine(available []session.Engine, avoid session.Engine, wanted ...session.Engine) session.Engine {
	for _, w := range wanted {
		if w != avoid && contains(available, w) {
			return w
		}
	}
	for _, e := range available {
		if e != avoid {
			return e
		}
	}
	return avoid
}

func contains(engines []session.Engine, e session.Engine) bool {
	for _, x := range engines {
		if x == e {
			return true
		}
	}
	return false
}
