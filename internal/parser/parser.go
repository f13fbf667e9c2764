// Package parser decodes the YAML route, wagon, consist, path and session
// definitions a session is built from.
package parser

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"strings"

	"github.com/openrails-go/fleet/internal/geo"
	"github.com/openrails-go/fleet/internal/sim"
	"github.com/openrails-go/fleet/internal/track"
	"gopkg.in/yaml.v3"
)

var ErrInvalid = errors.New("invalid definition")

// Parser converts definition files into typed values.
// It has no dependencies beyond a logger.
type Parser struct {
	logger *slog.Logger
}

// NewParser creates a parser.
func NewParser(logger *slog.Logger) *Parser {
	if logger == nil {
		logger = slog.Default()
	}
	return &Parser{logger: logger}
}

func decode[T any](data []byte, what string) (*T, error) {
	var v T
	dec := yaml.NewDecoder(bytes.NewReader(data))
	dec.KnownFields(true)
	if err := dec.Decode(&v); err != nil {
		if errors.Is(err, io.EOF) {
			return nil, fmt.Errorf("%s: empty document: %w", what, ErrInvalid)
		}
		return nil, fmt.Errorf("%s: %w", what, errors.Join(ErrInvalid, err))
	}
	return &v, nil
}

// ReadFile loads and parses a definition file with fn.
func ReadFile[T any](path string, fn func([]byte) (*T, error)) (*T, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	return fn(data)
}

// ParseRoute parses a track network definition.
func (p *Parser) ParseRoute(data []byte) (*Route, error) {
	r, err := decode[Route](data, "route")
	if err != nil {
		return nil, err
	}
	if len(r.Nodes) == 0 {
		return nil, fmt.Errorf("route %q has no nodes: %w", r.Name, ErrInvalid)
	}
	return r, nil
}

// BuildTrack creates the track database for r. Nodes with an unusable shape
// keep their length and lose the shape.
func (p *Parser) BuildTrack(r *Route) (*track.DB, error) {
	db := track.NewDB()
	for _, n := range r.Nodes {
		node := track.Node{ID: n.ID, Length: n.Length}
		if len(n.Shape) > 0 {
			ls, err := geo.LineFromPoints(n.Shape)
			if err != nil {
				p.logger.Warn("Ignoring node shape", "node", n.ID, "error", err)
			} else {
				node.Shape = ls
			}
		}
		if err := db.AddNode(node); err != nil {
			return nil, fmt.Errorf("route %q: %w", r.Name, err)
		}
	}
	for _, l := range r.Links {
		from, err := l.From.connection()
		if err != nil {
			return nil, fmt.Errorf("route %q: %w", r.Name, err)
		}
		to, err := l.To.connection()
		if err != nil {
			return nil, fmt.Errorf("route %q: %w", r.Name, err)
		}
		if err := db.Connect(from, to); err != nil {
			return nil, fmt.Errorf("route %q: %w", r.Name, err)
		}
	}
	for _, s := range r.Switches {
		at, err := s.At.connection()
		if err != nil {
			return nil, fmt.Errorf("route %q: %w", r.Name, err)
		}
		if err := db.SetSwitch(at.Node, at.End, s.Branch); err != nil {
			return nil, fmt.Errorf("route %q: %w", r.Name, err)
		}
	}
	return db, nil
}

// ParseWagon parses a rolling-stock definition.
func (p *Parser) ParseWagon(data []byte) (*Wagon, error) {
	w, err := decode[Wagon](data, "wagon")
	if err != nil {
		return nil, err
	}
	if w.Length <= 0 {
		return nil, fmt.Errorf("wagon %q: length must be positive: %w", w.Name, ErrInvalid)
	}
	return w, nil
}

// ParseConsist parses a consist definition. Entries without a count place
// one wagon.
func (p *Parser) ParseConsist(data []byte) (*Consist, error) {
	c, err := decode[Consist](data, "consist")
	if err != nil {
		return nil, err
	}
	for i := range c.Entries {
		if c.Entries[i].Count <= 0 {
			c.Entries[i].Count = 1
		}
		if c.Entries[i].Wagon == "" {
			return nil, fmt.Errorf("consist %q entry %d has no wagon: %w", c.Name, i, ErrInvalid)
		}
	}
	return c, nil
}

// ParsePath parses a player path.
func (p *Parser) ParsePath(data []byte) (*Path, error) {
	path, err := decode[Path](data, "path")
	if err != nil {
		return nil, err
	}
	if path.Length < 0 {
		return nil, fmt.Errorf("path %q: negative length: %w", path.Name, ErrInvalid)
	}
	return path, nil
}

// ParseSession parses an activity or timetable.
func (p *Parser) ParseSession(data []byte) (*Session, error) {
	s, err := decode[Session](data, "session")
	if err != nil {
		return nil, err
	}
	if s.Player.Consist == "" {
		return nil, fmt.Errorf("session %q has no player consist: %w", s.Name, ErrInvalid)
	}
	return s, nil
}

// Season maps a session season name. Unknown names are summer.
func Season(name string) sim.Season {
	switch strings.ToLower(name) {
	case "spring":
		return sim.SeasonSpring
	case "autumn", "fall":
		return sim.SeasonAutumn
	case "winter":
		return sim.SeasonWinter
	default:
		return sim.SeasonSummer
	}
}

// Weather maps a session weather name. Unknown names are clear.
func Weather(name string) sim.Weather {
	switch strings.ToLower(name) {
	case "snow":
		return sim.WeatherSnow
	case "rain":
		return sim.WeatherRain
	default:
		return sim.WeatherClear
	}
}
