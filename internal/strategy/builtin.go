package strategy

import (
	"math/rand"

	"github.com/evaclab/egress/pkg/models"
)

// Builtin strategy names, matched exactly against a scenario's strategy
// field.
const (
	AlwaysAskHelp    = "always-ask-help"
	AlwaysCallStaff  = "always-call-staff"
	Random           = "random"
	HelpMatrix       = "help-matrix"
	ClosestResponder = "closest-responder"
)

var builtins = map[string]Factory{
	AlwaysAskHelp: func(Config) Strategy {
		return fixedStrategy(models.ActionAskHelp)
	},
	AlwaysCallStaff: func(Config) Strategy {
		return fixedStrategy(models.ActionCallStaff)
	},
	Random: func(cfg Config) Strategy {
		return &randomStrategy{rng: cfg.Rand}
	},
	HelpMatrix: func(cfg Config) Strategy {
		return &helpMatrixStrategy{persuasion: cfg.Persuasion}
	},
	ClosestResponder: func(Config) Strategy {
		return closestResponderStrategy{}
	},
}

// helpThreshold is the helping chance a contact must exceed before the
// robot asks the bystander instead of calling staff.
const helpThreshold = 0.2

// helpMatrix holds the empirical probability that a candidate helper
// assists a fallen passenger. Row indexes the helper: +4 female,
// +2 outgroup (helper and victim cultures differ), +1 elderly. Column
// indexes the victim: +3 female, +1 adult, +2 elderly.
var helpMatrix = [8][6]float64{
	{0.3, 0.15, 0.3, 0.4, 0.3, 0.4},
	{0.15, 0.075, 0.15, 0.2, 0.15, 0.2},
	{0.252, 0.126, 0.252, 0.336, 0.252, 0.336},
	{0.126, 0.063, 0.126, 0.168, 0.126, 0.168},
	{0.15, 0.075, 0.15, 0.2, 0.15, 0.2},
	{0.075, 0.0375, 0.075, 0.1, 0.075, 0.1},
	{0.126, 0.063, 0.126, 0.168, 0.126, 0.168},
	{0.063, 0.0315, 0.063, 0.084, 0.063, 0.084},
}

// helpChance looks up the base helping probability for a contact.
func helpChance(contact models.SurvivorContact) float64 {
	row := 0
	if contact.Helper.Gender == models.GenderFemale {
		row += 4
	}
	if contact.Helper.Culture != contact.Victim.Culture {
		row += 2
	}
	if contact.Helper.Age == models.AgeElderly {
		row++
	}

	col := 0
	if contact.Victim.Gender == models.GenderFemale {
		col += 3
	}
	switch contact.Victim.Age {
	case models.AgeAdult:
		col++
	case models.AgeElderly:
		col += 2
	}

	return helpMatrix[row][col]
}

// fixedStrategy always answers with the same action.
type fixedStrategy models.Action

func (s fixedStrategy) Decide(models.SurvivorContact) models.Action {
	return models.Action(s)
}

// randomStrategy flips a fair coin per contact.
type randomStrategy struct {
	rng *rand.Rand
}

func (s *randomStrategy) Decide(models.SurvivorContact) models.Action {
	if s.rng.Float64() < 0.5 {
		return models.ActionAskHelp
	}
	return models.ActionCallStaff
}

// helpMatrixStrategy scales the matrix chance by the run's persuasion
// factor before comparing against the threshold.
type helpMatrixStrategy struct {
	persuasion float64
}

func (s *helpMatrixStrategy) Decide(contact models.SurvivorContact) models.Action {
	if helpChance(contact)*s.persuasion > helpThreshold {
		return models.ActionAskHelp
	}
	return models.ActionCallStaff
}

// closestResponderStrategy calls staff whenever a responder is nearer to
// the victim than the candidate helper, and otherwise consults the raw
// matrix chance without the persuasion factor.
type closestResponderStrategy struct{}

func (closestResponderStrategy) Decide(contact models.SurvivorContact) models.Action {
	if contact.ResponderDistance < contact.HelperDistance {
		return models.ActionCallStaff
	}
	if helpChance(contact) > helpThreshold {
		return models.ActionAskHelp
	}
	return models.ActionCallStaff
}
