// Package seed snapshots seed inputs, derives per-iteration offsets and
// resolves "control after generate" semantics before submission.
package seed

import (
	"crypto/rand"
	"encoding/binary"
	"fmt"
	"strconv"
	"strings"

	"github.com/kiranshivaraju/genrelay/pkg/models"
)

// DefaultStride separates the seeds of consecutive batch iterations.
const DefaultStride int64 = 9973

const mask = 0xFFFFFFFF

// Keys are the execution input names treated as seeds.
var Keys = []string{"seed", "noise_seed", "control_seed", "seed_control", "seed_noise"}

func isSeedKey(name string) bool {
	for _, k := range Keys {
		if k == name {
			return true
		}
	}
	return false
}

// Capture snapshots every integral seed input of g, ordered by node id.
// Link references and non-numeric values are skipped.
func Capture(g models.ExecutionGraph) []models.SeedRecord {
	var records []models.SeedRecord
	for _, id := range g.NodeIDs() {
		n := g[id]
		if n == nil {
			continue
		}
		for _, key := range Keys {
			v, ok := n.Inputs[key]
			if !ok {
				continue
			}
			if _, isText := v.(string); isText {
				continue
			}
			base, ok := integral(v)
			if !ok {
				continue
			}
			records = append(records, models.SeedRecord{NodeID: id, Input: key, Base: base})
		}
	}
	return records
}

// ApplyOffset writes (base+offset) mod 2^32 into each recorded input of g.
// An offset of zero leaves g untouched.
func ApplyOffset(g models.ExecutionGraph, records []models.SeedRecord, offset int64) {
	if offset == 0 {
		return
	}
	for _, r := range records {
		n, ok := g[r.NodeID]
		if !ok || n == nil || n.Inputs == nil {
			continue
		}
		n.Inputs[r.Input] = Wrap(r.Base + offset)
	}
}

// OffsetFor is the seed offset of batch iteration index.
func OffsetFor(index int, stride int64) int64 {
	if stride <= 0 {
		stride = DefaultStride
	}
	return int64(index) * stride
}

// Wrap reduces v modulo 2^32 into [0, 2^32).
func Wrap(v int64) int64 {
	return v & mask
}

// Resolution is the outcome of ResolveClientControl.
type Resolution struct {
	// Overrides are keyed by ParameterSpec.Key of the seed spec.
	Overrides map[string]any
	// Updates are new knob values for the host, keyed by knob name.
	Updates map[string]string
	// Refresh is set when the host UI must redraw the changed knobs.
	Refresh bool
}

// ResolveClientControl pairs each seed spec with the control spec on the
// same authoring node and computes the seed this run will use. values holds
// the live knob values. A fixed control, or a seed with no control, yields
// no override.
func ResolveClientControl(specs []models.ParameterSpec, values map[string]string) (Resolution, error) {
	res := Resolution{Overrides: map[string]any{}, Updates: map[string]string{}}

	controls := make(map[string]models.ParameterSpec)
	for _, s := range specs {
		if s.IsControl() {
			if _, seen := controls[s.NodeID]; !seen {
				controls[s.NodeID] = s
			}
		}
	}

	for _, s := range specs {
		if s.IsControl() || !isSeedSpec(s) {
			continue
		}
		control, ok := controls[s.NodeID]
		if !ok {
			continue
		}
		mode := strings.ToLower(strings.TrimSpace(fmt.Sprint(knobValue(control, values))))

		current, ok := integral(knobValue(s, values))
		if !ok {
			current, _ = integral(s.Default)
		}

		var next int64
		switch mode {
		case models.ControlIncrement:
			next = Wrap(current + 1)
		case models.ControlDecrement:
			next = Wrap(current - 1)
		case models.ControlRandomize:
			r, err := random()
			if err != nil {
				return Resolution{}, err
			}
			next = r
		default:
			continue
		}
		if next == current {
			continue
		}
		res.Overrides[s.Key()] = next
		res.Updates[s.KnobName()] = strconv.FormatInt(next, 10)
		res.Refresh = true
	}
	return res, nil
}

func isSeedSpec(s models.ParameterSpec) bool {
	if s.Binding != nil && isSeedKey(s.Binding.Input) {
		return true
	}
	return isSeedKey(strings.ToLower(s.Attribute)) || strings.Contains(strings.ToLower(s.Label), "seed")
}

func knobValue(s models.ParameterSpec, values map[string]string) any {
	if v, ok := values[s.KnobName()]; ok {
		return v
	}
	return s.Default
}

func random() (int64, error) {
	var b [4]byte
	if _, err := rand.Read(b[:]); err != nil {
		return 0, fmt.Errorf("reading random seed: %w", err)
	}
	return int64(binary.BigEndian.Uint32(b[:])), nil
}

func integral(v any) (int64, bool) {
	switch n := v.(type) {
	case float64:
		if n != float64(int64(n)) {
			return 0, false
		}
		return int64(n), true
	case int:
		return int64(n), true
	case int64:
		return n, true
	case string:
		i, err := strconv.ParseInt(strings.TrimSpace(n), 10, 64)
		return i, err == nil
	default:
		return 0, false
	}
}
