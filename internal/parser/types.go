package parser

import (
	"fmt"
	"strings"

	"github.com/openrails-go/fleet/internal/track"
)

// EndRef names one end of a node: "start" or "finish".
type EndRef struct {
	Node int    `yaml:"node"`
	End  string `yaml:"end"`
}

func (e EndRef) connection() (track.Connection, error) {
	switch strings.ToLower(e.End) {
	case "start", "":
		return track.Connection{Node: e.Node, End: track.StartEnd}, nil
	case "finish":
		return track.Connection{Node: e.Node, End: track.FinishEnd}, nil
	default:
		return track.Connection{}, fmt.Errorf("node %d: unknown end %q", e.Node, e.End)
	}
}

// RouteNode is one track node.
type RouteNode struct {
	ID     int          `yaml:"id"`
	Length float64      `yaml:"length"`
	Shape  [][2]float64 `yaml:"shape,omitempty"`
}

// Link joins two node ends.
type Link struct {
	From EndRef `yaml:"from"`
	To   EndRef `yaml:"to"`
}

// SwitchSetting selects a branch at a node end.
type SwitchSetting struct {
	At     EndRef `yaml:"at"`
	Branch int    `yaml:"branch"`
}

// Route is a track network definition.
type Route struct {
	Name     string          `yaml:"name"`
	Nodes    []RouteNode     `yaml:"nodes"`
	Links    []Link          `yaml:"links"`
	Switches []SwitchSetting `yaml:"switches,omitempty"`
}

// Wagon is a rolling-stock definition.
type Wagon struct {
	Name      string  `yaml:"name"`
	Length    float64 `yaml:"length"`
	Driveable bool    `yaml:"driveable"`
}

// ConsistEntry places Count copies of a wagon.
type ConsistEntry struct {
	Wagon   string `yaml:"wagon"`
	Count   int    `yaml:"count,omitempty"`
	Flipped bool   `yaml:"flipped,omitempty"`
}

// Consist is an ordered list of wagons, front to rear.
type Consist struct {
	Name    string         `yaml:"name"`
	Entries []ConsistEntry `yaml:"cars"`
}

// Placement is a train's front position.
type Placement struct {
	Node      int     `yaml:"node"`
	Offset    float64 `yaml:"offset"`
	Direction string  `yaml:"direction,omitempty"`
}

// Dir returns the placement heading; anything but "backward" is forward.
func (p Placement) Dir() track.Direction {
	if strings.EqualFold(p.Direction, "backward") {
		return track.Backward
	}
	return track.Forward
}

// Path is the player's route: where it starts and how far it runs.
type Path struct {
	Name   string    `yaml:"name"`
	Start  Placement `yaml:"start"`
	Length float64   `yaml:"length"`
}

// PlayerEntry defines the player train.
type PlayerEntry struct {
	Name    string `yaml:"name"`
	Consist string `yaml:"consist"`
	Path    string `yaml:"path"`
	// Explorer sessions have no path to follow.
	Explorer bool `yaml:"explorer,omitempty"`
}

// StaticEntry is a parked consist.
type StaticEntry struct {
	Name     string    `yaml:"name"`
	Consist  string    `yaml:"consist"`
	Position Placement `yaml:"position"`
}

// AIEntry is an AI service.
type AIEntry struct {
	Name        string    `yaml:"name"`
	Consist     string    `yaml:"consist"`
	Position    Placement `yaml:"position"`
	Route       float64   `yaml:"route"`
	StartTime   float64   `yaml:"startTime,omitempty"`
	CruiseSpeed float64   `yaml:"cruiseSpeed,omitempty"`
	// Attach keeps the train as an incorporated entity when absorbed at
	// the end of its route.
	Attach bool `yaml:"attach,omitempty"`
}

// Session is an activity or timetable definition.
type Session struct {
	Name      string        `yaml:"name"`
	Route     string        `yaml:"route"`
	StartTime float64       `yaml:"startTime"`
	Season    string        `yaml:"season,omitempty"`
	Weather   string        `yaml:"weather,omitempty"`
	Timetable bool          `yaml:"timetable,omitempty"`
	Player    PlayerEntry   `yaml:"player"`
	Statics   []StaticEntry `yaml:"statics,omitempty"`
	AI        []AIEntry     `yaml:"ai,omitempty"`
}
