package models

// Gender is the reported gender of a simulated person. The engine encodes
// it as a small integer on the wire.
type Gender int

const (
	GenderFemale Gender = 0
	GenderMale   Gender = 1
)

// String returns a human-readable label for logs.
func (g Gender) String() string {
	switch g {
	case GenderFemale:
		return "female"
	case GenderMale:
		return "male"
	default:
		return "unknown"
	}
}

// Age is the coarse age group of a simulated person.
type Age int

const (
	AgeChild   Age = 0
	AgeAdult   Age = 1
	AgeElderly Age = 2
)

// String returns a human-readable label for logs.
func (a Age) String() string {
	switch a {
	case AgeChild:
		return "child"
	case AgeAdult:
		return "adult"
	case AgeElderly:
		return "elderly"
	default:
		return "unknown"
	}
}

// CulturalCluster identifies the cultural group of a simulated person,
// following the GLOBE society clusters the engine samples from.
type CulturalCluster int

const (
	ClusterArab CulturalCluster = iota
	ClusterNearEast
	ClusterLatinAmerica
	ClusterEastEurope
	ClusterLatinEurope
	ClusterNordic
	ClusterGermanic
	ClusterAfrican
	ClusterAnglo
	ClusterConfucian
	ClusterFarEast
)

var clusterNames = map[CulturalCluster]string{
	ClusterArab:         "arab",
	ClusterNearEast:     "near-east",
	ClusterLatinAmerica: "latin-america",
	ClusterEastEurope:   "east-europe",
	ClusterLatinEurope:  "latin-europe",
	ClusterNordic:       "nordic",
	ClusterGermanic:     "germanic",
	ClusterAfrican:      "african",
	ClusterAnglo:        "anglo",
	ClusterConfucian:    "confucian",
	ClusterFarEast:      "far-east",
}

// String returns a human-readable label for logs.
func (c CulturalCluster) String() string {
	if name, ok := clusterNames[c]; ok {
		return name
	}
	return "unknown"
}

// Survivor describes one simulated person involved in a fall event.
type Survivor struct {
	Gender  Gender          `json:"gender"`
	Culture CulturalCluster `json:"culture"`
	Age     Age             `json:"age"`
}

// Action is a decision the orchestrator returns to the engine when a robot
// encounters a fallen passenger.
type Action string

const (
	// ActionAskHelp instructs the robot to ask the nearby passenger to
	// help the fallen one.
	ActionAskHelp Action = "ask-help"
	// ActionCallStaff instructs the robot to call a staff member instead.
	ActionCallStaff Action = "call-staff"
)

// Valid reports whether the action is one the engine understands.
func (a Action) Valid() bool {
	return a == ActionAskHelp || a == ActionCallStaff
}
