package models

import (
	"encoding/json"
	"strconv"
	"time"
)

// RunStatus represents the lifecycle state of a single simulation run.
type RunStatus string

const (
	// RunStatusPending indicates the run is waiting for a free execution slot.
	RunStatusPending RunStatus = "pending"
	// RunStatusLaunching indicates the run holds a slot and its strategy
	// binding is being registered.
	RunStatusLaunching RunStatus = "launching"
	// RunStatusRunning indicates the engine process is executing.
	RunStatusRunning RunStatus = "running"
	// RunStatusSucceeded indicates the run finished and produced metrics.
	RunStatusSucceeded RunStatus = "succeeded"
	// RunStatusFailed indicates the run exhausted its attempts without
	// producing metrics.
	RunStatusFailed RunStatus = "failed"
)

// IsTerminal returns true if the status represents a final state.
func (s RunStatus) IsTerminal() bool {
	return s == RunStatusSucceeded || s == RunStatusFailed
}

// Params holds the engine parameters for a single simulation run. Every
// field maps to a knob of the evacuation engine; sweep expansion produces
// one concrete Params value per run.
type Params struct {
	NumOfRobots           int     `json:"num_of_robots" yaml:"num_of_robots"`
	NumOfPassengers       int     `json:"num_of_passengers" yaml:"num_of_passengers"`
	NumOfStaff            int     `json:"num_of_staff" yaml:"num_of_staff"`
	FallLength            int     `json:"fall_length" yaml:"fall_length"`
	FallChance            float64 `json:"fall_chance" yaml:"fall_chance"`
	AllowStaffSupport     bool    `json:"allow_staff_support" yaml:"allow_staff_support"`
	AllowPassengerSupport bool    `json:"allow_passenger_support" yaml:"allow_passenger_support"`
	MaxTicks              int     `json:"max_ticks" yaml:"max_ticks"`
	RoomType              int     `json:"room_type" yaml:"room_type"`
	RobotPersuasion       float64 `json:"robot_persuasion" yaml:"robot_persuasion"`
}

// DefaultParams returns the engine parameters used when a sweep does not
// override them.
func DefaultParams() Params {
	return Params{
		NumOfRobots:           1,
		NumOfPassengers:       800,
		NumOfStaff:            10,
		FallLength:            500,
		FallChance:            0.05,
		AllowStaffSupport:     true,
		AllowPassengerSupport: true,
		MaxTicks:              2000,
		RoomType:              8,
		RobotPersuasion:       1.0,
	}
}

// ParamField is one flattened engine parameter as a key/value string pair.
type ParamField struct {
	Key   string
	Value string
}

// Fields returns the parameters as ordered key/value pairs. The order is
// stable so that engine command lines and exported datasets keep a
// consistent layout.
func (p Params) Fields() []ParamField {
	return []ParamField{
		{Key: "num_of_robots", Value: strconv.Itoa(p.NumOfRobots)},
		{Key: "num_of_passengers", Value: strconv.Itoa(p.NumOfPassengers)},
		{Key: "num_of_staff", Value: strconv.Itoa(p.NumOfStaff)},
		{Key: "fall_length", Value: strconv.Itoa(p.FallLength)},
		{Key: "fall_chance", Value: strconv.FormatFloat(p.FallChance, 'g', -1, 64)},
		{Key: "allow_staff_support", Value: strconv.FormatBool(p.AllowStaffSupport)},
		{Key: "allow_passenger_support", Value: strconv.FormatBool(p.AllowPassengerSupport)},
		{Key: "max_ticks", Value: strconv.Itoa(p.MaxTicks)},
		{Key: "room_type", Value: strconv.Itoa(p.RoomType)},
		{Key: "robot_persuasion", Value: strconv.FormatFloat(p.RobotPersuasion, 'g', -1, 64)},
	}
}

// RunSpec is the immutable description of one scheduled simulation run.
// Specs within the same scenario variant differ only by sample index, seed
// and video capture flag.
type RunSpec struct {
	// ID uniquely identifies the run within a sweep, formed from the
	// variant name and the sample index.
	ID string `json:"id"`
	// Scenario is the expanded variant name the run belongs to.
	Scenario string `json:"scenario"`
	// Strategy names the adaptation strategy bound to the run. Empty for
	// scenarios that deploy no robots.
	Strategy string `json:"strategy,omitempty"`
	// SampleIndex is the zero-based repetition number within the variant.
	SampleIndex int `json:"sample_index"`
	// Seed is the derived engine seed. Zero lets the engine seed itself.
	Seed int64 `json:"seed"`
	// Params are the concrete engine parameters for this run.
	Params Params `json:"params"`
	// CaptureVideo requests a recording of the simulation.
	CaptureVideo bool `json:"capture_video,omitempty"`
}

// Metrics is the structured payload the engine reports for a completed
// run. Fields the engine emits beyond the known ones are preserved in
// Extra.
type Metrics struct {
	// Success reports whether the evacuation completed before the tick
	// limit.
	Success bool
	// EvacuationTicks is the simulated tick count at completion.
	EvacuationTicks int
	// EvacuationTime is the wall-clock duration of the engine run in
	// seconds.
	EvacuationTime float64
	// EngineSeed is the seed the engine actually used, which matters when
	// the run asked the engine to seed itself.
	EngineSeed int64
	// Extra carries any additional metrics the engine emitted.
	Extra map[string]any
}

type metricsWire struct {
	Success         bool    `json:"success"`
	EvacuationTicks int     `json:"evacuation_ticks"`
	EvacuationTime  float64 `json:"evacuation_time"`
	EngineSeed      int64   `json:"engine_seed"`
}

// MarshalJSON renders the known fields next to the preserved extras.
func (m Metrics) MarshalJSON() ([]byte, error) {
	out := make(map[string]any, len(m.Extra)+4)
	for k, v := range m.Extra {
		out[k] = v
	}
	out["success"] = m.Success
	out["evacuation_ticks"] = m.EvacuationTicks
	out["evacuation_time"] = m.EvacuationTime
	out["engine_seed"] = m.EngineSeed
	return json.Marshal(out)
}

// UnmarshalJSON decodes the known fields and keeps unrecognized ones in
// Extra.
func (m *Metrics) UnmarshalJSON(data []byte) error {
	var wire metricsWire
	if err := json.Unmarshal(data, &wire); err != nil {
		return err
	}
	var raw map[string]any
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}
	delete(raw, "success")
	delete(raw, "evacuation_ticks")
	delete(raw, "evacuation_time")
	delete(raw, "engine_seed")
	m.Success = wire.Success
	m.EvacuationTicks = wire.EvacuationTicks
	m.EvacuationTime = wire.EvacuationTime
	m.EngineSeed = wire.EngineSeed
	if len(raw) > 0 {
		m.Extra = raw
	} else {
		m.Extra = nil
	}
	return nil
}

// RunResult is one row of the sweep dataset: the outcome of a single run
// after all retry attempts.
type RunResult struct {
	RunID         string    `json:"run_id"`
	Scenario      string    `json:"scenario"`
	Strategy      string    `json:"strategy,omitempty"`
	SampleIndex   int       `json:"sample_index"`
	Seed          int64     `json:"seed"`
	Params        Params    `json:"params"`
	Status        RunStatus `json:"status"`
	Metrics       *Metrics  `json:"metrics,omitempty"`
	FailureReason string    `json:"failure_reason,omitempty"`
	// Attempts counts every launch, so a run that succeeded on its first
	// try reports 1.
	Attempts int `json:"attempts"`
	// Actions are the decisions served to the engine during the final
	// attempt, in request order.
	Actions []Action `json:"actions,omitempty"`
	// Responses are the outcome notifications the engine reported for
	// those decisions, in arrival order.
	Responses  []string      `json:"responses,omitempty"`
	StartedAt  time.Time     `json:"started_at"`
	FinishedAt time.Time     `json:"finished_at"`
	Duration   time.Duration `json:"duration"`
}

// Clone returns a deep copy of the result.
func (r RunResult) Clone() RunResult {
	clone := r
	if r.Metrics != nil {
		m := *r.Metrics
		if r.Metrics.Extra != nil {
			m.Extra = make(map[string]any, len(r.Metrics.Extra))
			for k, v := range r.Metrics.Extra {
				m.Extra[k] = v
			}
		}
		clone.Metrics = &m
	}
	if r.Actions != nil {
		clone.Actions = append([]Action(nil), r.Actions...)
	}
	if r.Responses != nil {
		clone.Responses = append([]string(nil), r.Responses...)
	}
	return clone
}

// Progress is a read-only snapshot of sweep execution state.
type Progress struct {
	Total     int           `json:"total"`
	Pending   int           `json:"pending"`
	Running   int           `json:"running"`
	Succeeded int           `json:"succeeded"`
	Failed    int           `json:"failed"`
	Elapsed   time.Duration `json:"elapsed"`
	// Remaining is a naive projection from the average duration of the
	// completed runs. Zero until at least one run completes.
	Remaining time.Duration `json:"remaining"`
}

// Completed returns the number of runs in a terminal state.
func (p Progress) Completed() int {
	return p.Succeeded + p.Failed
}
