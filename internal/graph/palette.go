package graph

import "math/rand/v2"

// ColorPair holds the light and dark theme swatches of a node.
type ColorPair struct {
	Light string `json:"light"`
	Dark  string `json:"dark"`
}

// DefaultColorPairs is the fixed palette new nodes draw from.
var DefaultColorPairs = []ColorPair{
	{Dark: "#286b33", Light: "#84bf5c"},
	{Dark: "#426b1f", Light: "#adc13d"},
	{Dark: "#786603", Light: "#f0b737"},
	{Dark: "#7a4f07", Light: "#f39353"},
	{Dark: "#82380f", Light: "#f6746c"},
	{Dark: "#88231f", Light: "#f05b77"},
	{Dark: "#961d48", Light: "#ef63a7"},
	{Dark: "#852150", Light: "#c770b2"},
	{Dark: "#64285c", Light: "#9a78c4"},
	{Dark: "#462f6c", Light: "#7086d0"},
	{Dark: "#2e4175", Light: "#559ed2"},
	{Dark: "#1d587a", Light: "#43b9d3"},
	{Dark: "#0c6c7c", Light: "#38d2d0"},
}

// Palette picks a color pair for a newly created node.
type Palette interface {
	Pick() ColorPair
}

type randomPalette struct {
	pairs []ColorPair
}

// NewRandomPalette returns a palette that picks uniformly from pairs.
// An empty slice falls back to DefaultColorPairs.
func NewRandomPalette(pairs []ColorPair) Palette {
	if len(pairs) == 0 {
		pairs = DefaultColorPairs
	}
	return &randomPalette{pairs: pairs}
}

func (p *randomPalette) Pick() ColorPair {
	return p.pairs[rand.IntN(len(p.pairs))]
}
