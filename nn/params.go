package nn

import (
	"fmt"
	"sort"
	"strings"
)

// ModuleKind identifies the kind of layer that owns a parameter.
type ModuleKind int

const (
	ModuleLinear          ModuleKind = 0
	ModuleConv2D          ModuleKind = 1
	ModuleConvTranspose2D ModuleKind = 2
	ModuleLayerNorm       ModuleKind = 3
	ModuleBatchNorm2D     ModuleKind = 4
	ModuleEmbedding       ModuleKind = 5
)

func (k ModuleKind) String() string {
	switch k {
	case ModuleLinear:
		return "Linear"
	case ModuleConv2D:
		return "Conv2D"
	case ModuleConvTranspose2D:
		return "ConvTranspose2D"
	case ModuleLayerNorm:
		return "LayerNorm"
	case ModuleBatchNorm2D:
		return "BatchNorm2D"
	case ModuleEmbedding:
		return "Embedding"
	default:
		return fmt.Sprintf("ModuleKind(%d)", int(k))
	}
}

// Param is a trainable array together with its accumulated gradient.
type Param struct {
	Data  []float32
	Grad  []float32
	Shape []int
	Kind  ModuleKind
}

// NewParam allocates a zeroed parameter.
func NewParam(kind ModuleKind, shape ...int) *Param {
	size := 1
	for _, d := range shape {
		size *= d
	}
	return &Param{
		Data:  make([]float32, size),
		Grad:  make([]float32, size),
		Shape: append([]int(nil), shape...),
		Kind:  kind,
	}
}

// ZeroGrad clears the accumulated gradient.
func (p *Param) ZeroGrad() {
	clear(p.Grad)
}

// NamedParam pairs a parameter with its fully qualified dotted name.
type NamedParam struct {
	Name string
	*Param
}

// JoinName builds a dotted parameter path, skipping an empty prefix.
func JoinName(prefix, name string) string {
	if prefix == "" {
		return name
	}
	return prefix + "." + name
}

var (
	decayedKinds = map[ModuleKind]bool{
		ModuleLinear:          true,
		ModuleConv2D:          true,
		ModuleConvTranspose2D: true,
	}
	undecayedKinds = map[ModuleKind]bool{
		ModuleLayerNorm:   true,
		ModuleBatchNorm2D: true,
		ModuleEmbedding:   true,
	}
)

// SplitWeightDecay separates parameters into those that receive weight decay
// (weights of linear and convolutional layers) and those that do not (all
// biases, normalization and embedding weights). The result is sorted by name.
//
// Every parameter must land in exactly one set; otherwise an error wrapping
// ErrParamPartition is returned.
func SplitWeightDecay(params []NamedParam) (decay, noDecay []NamedParam, err error) {
	decaySet := make(map[string]*Param)
	noDecaySet := make(map[string]*Param)
	all := make(map[string]bool, len(params))

	for _, p := range params {
		all[p.Name] = true
		switch {
		case strings.HasSuffix(p.Name, "bias"):
			noDecaySet[p.Name] = p.Param
		case strings.HasSuffix(p.Name, "weight") && decayedKinds[p.Kind]:
			decaySet[p.Name] = p.Param
		case strings.HasSuffix(p.Name, "weight") && undecayedKinds[p.Kind]:
			noDecaySet[p.Name] = p.Param
		}
	}

	var both, missing []string
	for name := range decaySet {
		if _, ok := noDecaySet[name]; ok {
			both = append(both, name)
		}
	}
	for name := range all {
		_, inDecay := decaySet[name]
		_, inNoDecay := noDecaySet[name]
		if !inDecay && !inNoDecay {
			missing = append(missing, name)
		}
	}
	sort.Strings(both)
	sort.Strings(missing)

	if len(both) > 0 {
		return nil, nil, fmt.Errorf("%w: parameters %v made it into both decay/no_decay sets", ErrParamPartition, both)
	}
	if len(missing) > 0 {
		return nil, nil, fmt.Errorf("%w: parameters %v were not separated into either decay/no_decay set", ErrParamPartition, missing)
	}
	if len(decaySet)+len(noDecaySet) != len(params) {
		return nil, nil, fmt.Errorf("%w: %d parameters share a name with another parameter", ErrParamPartition, len(params)-len(all))
	}

	return sortedParams(decaySet), sortedParams(noDecaySet), nil
}

func sortedParams(set map[string]*Param) []NamedParam {
	out := make([]NamedParam, 0, len(set))
	for name, p := range set {
		out = append(out, NamedParam{Name: name, Param: p})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out
}

// CountParams returns the total number of scalar parameters.
func CountParams(params []NamedParam) int {
	total := 0
	for _, p := range params {
		total += len(p.Data)
	}
	return total
}
