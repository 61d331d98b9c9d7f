package models

// SurvivorContact carries the situational inputs for one decision: who
// fell, who could help, and how far away the nearest staff responder is.
type SurvivorContact struct {
	// Helper is the candidate helper standing near the fallen passenger.
	Helper Survivor `json:"helper"`
	// Victim is the fallen passenger.
	Victim Survivor `json:"victim"`
	// HelperDistance is the distance from the helper to the victim, in
	// engine patches.
	HelperDistance float64 `json:"helper_distance"`
	// ResponderDistance is the distance from the closest staff responder
	// to the victim, in engine patches.
	ResponderDistance float64 `json:"responder_distance"`
}

// DecisionRequest is the wire form of a decision callback from the engine.
// Identities arrive as the engine's integer codes.
type DecisionRequest struct {
	RunID                   string  `json:"run_id"`
	HelperGender            int     `json:"helper_gender"`
	HelperCulture           int     `json:"helper_culture"`
	HelperAge               int     `json:"helper_age"`
	VictimGender            int     `json:"victim_gender"`
	VictimCulture           int     `json:"victim_culture"`
	VictimAge               int     `json:"victim_age"`
	HelperVictimDistance    float64 `json:"helper_victim_distance"`
	ResponderVictimDistance float64 `json:"responder_victim_distance"`
}

// Contact converts the wire request into the structured decision inputs.
func (r DecisionRequest) Contact() SurvivorContact {
	return SurvivorContact{
		Helper: Survivor{
			Gender:  Gender(r.HelperGender),
			Culture: CulturalCluster(r.HelperCulture),
			Age:     Age(r.HelperAge),
		},
		Victim: Survivor{
			Gender:  Gender(r.VictimGender),
			Culture: CulturalCluster(r.VictimCulture),
			Age:     Age(r.VictimAge),
		},
		HelperDistance:    r.HelperVictimDistance,
		ResponderDistance: r.ResponderVictimDistance,
	}
}

// DecisionResponse is the wire form of a served decision.
type DecisionResponse struct {
	Action Action `json:"action"`
}

// ResponseEvent is the engine's report of how a passenger reacted to a
// served decision, for example whether the asked helper agreed.
type ResponseEvent struct {
	RunID    string `json:"run_id"`
	Response string `json:"response"`
}
