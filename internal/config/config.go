// Package config reads the simulator's params file.
//
// The file holds one parameter per line in the form "type name = value". The
// type column is informational. Blank lines and lines starting with '#' are
// ignored, and key order does not matter.
package config

import (
	"bufio"
	"errors"
	"fmt"
	"io"
	"os"
	"sort"
	"strconv"
	"strings"

	"github.com/signalsfoundry/platesim/internal/spatial"
	"github.com/signalsfoundry/platesim/model"
)

// DefaultFilename is the params file read when no path is given.
const DefaultFilename = "params.txt"

var (
	// ErrMissing marks a required key that is absent.
	ErrMissing = errors.New("missing required parameter")
	// ErrMalformed marks a line that is not "type name = value".
	ErrMalformed = errors.New("malformed parameter line")
)

// ConfigError reports the offending key, its raw value, and the cause.
type ConfigError struct {
	Key   string
	Value string
	Line  int
	Err   error
}

func (e *ConfigError) Error() string {
	var b strings.Builder
	b.WriteString("config")
	if e.Line > 0 {
		fmt.Fprintf(&b, " line %d", e.Line)
	}
	if e.Key != "" {
		fmt.Fprintf(&b, ": %s", e.Key)
	}
	if e.Value != "" {
		fmt.Fprintf(&b, " = %q", e.Value)
	}
	fmt.Fprintf(&b, ": %v", e.Err)
	return b.String()
}

func (e *ConfigError) Unwrap() error { return e.Err }

// Params is the raw key/value content of a params file.
type Params map[string]string

// Keys returns the parameter names in sorted order.
func (p Params) Keys() []string {
	keys := make([]string, 0, len(p))
	for k := range p {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

// Parse reads params from r.
func Parse(r io.Reader) (Params, error) {
	params := Params{}
	sc := bufio.NewScanner(r)
	line := 0
	for sc.Scan() {
		line++
		text := strings.TrimSpace(sc.Text())
		if text == "" || strings.HasPrefix(text, "#") {
			continue
		}
		fields := strings.Fields(text)
		if len(fields) < 4 || fields[2] != "=" {
			return nil, &ConfigError{Line: line, Value: text, Err: ErrMalformed}
		}
		params[fields[1]] = fields[3]
	}
	if err := sc.Err(); err != nil {
		return nil, fmt.Errorf("read params: %w", err)
	}
	return params, nil
}

// Load reads params from the file at path.
func Load(path string) (Params, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open params file: %w", err)
	}
	defer f.Close()
	return Parse(f)
}

// Settings is the typed result of a params file: run parameters plus the
// choices that live outside model.Parameters.
type Settings struct {
	Params model.Parameters
	Index  spatial.Kind
}

// ToSettings converts raw params into typed settings for a dims-dimensional
// run. Optional keys fall back to their defaults. The result is not yet
// validated; model.Parameters.Validate does that.
func ToSettings(p Params, dims int) (Settings, error) {
	out := model.Parameters{Dims: dims}
	var err error

	if out.WriteFrameInterval, err = p.requiredInt("write_frame_interval"); err != nil {
		return Settings{}, err
	}
	// cluster_size is accepted in float notation ("1e5").
	size, err := p.requiredFloat("cluster_size")
	if err != nil {
		return Settings{}, err
	}
	out.ClusterSize = int(size)
	if out.MaxLeafSize, err = p.requiredInt("max_leaf_size"); err != nil {
		return Settings{}, err
	}
	seed, err := p.required("seed")
	if err != nil {
		return Settings{}, err
	}
	if out.Seed, err = strconv.ParseInt(seed, 10, 64); err != nil {
		return Settings{}, &ConfigError{Key: "seed", Value: seed, Err: err}
	}
	if out.RMSJumpSize, err = p.requiredFloat("rms_jump_size"); err != nil {
		return Settings{}, err
	}
	if out.FractionMaxKappa, err = p.requiredFloat("fraction_max_kappa"); err != nil {
		return Settings{}, err
	}
	if out.JumpCutoff, err = p.requiredFloat("jump_cutoff"); err != nil {
		return Settings{}, err
	}

	out.RestartPath = p["restart_path"]
	if out.EscapeFactor, err = p.optionalFloat("escape_factor", model.DefaultEscapeFactor); err != nil {
		return Settings{}, err
	}
	if out.MaxStepsPerParticle, err = p.optionalInt("max_steps_per_particle", model.DefaultMaxStepsPerParticle); err != nil {
		return Settings{}, err
	}
	if out.MaxLaunchesPerParticle, err = p.optionalInt("max_launches_per_particle", model.DefaultMaxLaunchesPerParticle); err != nil {
		return Settings{}, err
	}
	if v, ok := p["stall_policy"]; ok {
		if out.StallPolicy, err = model.ParseStallPolicy(v); err != nil {
			return Settings{}, &ConfigError{Key: "stall_policy", Value: v, Err: err}
		}
	}
	kind, err := spatial.ParseKind(p["index"])
	if err != nil {
		return Settings{}, &ConfigError{Key: "index", Value: p["index"], Err: err}
	}
	return Settings{Params: out, Index: kind}, nil
}

func (p Params) required(key string) (string, error) {
	v, ok := p[key]
	if !ok {
		return "", &ConfigError{Key: key, Err: ErrMissing}
	}
	return v, nil
}

func (p Params) requiredInt(key string) (int, error) {
	v, err := p.required(key)
	if err != nil {
		return 0, err
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return 0, &ConfigError{Key: key, Value: v, Err: err}
	}
	return n, nil
}

func (p Params) requiredFloat(key string) (float64, error) {
	v, err := p.required(key)
	if err != nil {
		return 0, err
	}
	f, err := strconv.ParseFloat(v, 64)
	if err != nil {
		return 0, &ConfigError{Key: key, Value: v, Err: err}
	}
	return f, nil
}

func (p Params) optionalInt(key string, def int) (int, error) {
	if _, ok := p[key]; !ok {
		return def, nil
	}
	return p.requiredInt(key)
}

func (p Params) optionalFloat(key string, def float64) (float64, error) {
	if _, ok := p[key]; !ok {
		return def, nil
	}
	return p.requiredFloat(key)
}
