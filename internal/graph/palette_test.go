package graph

import "testing"

func TestRandomPalettePicksFromTable(t *testing.T) {
	palette := NewRandomPalette(nil)
	known := make(map[ColorPair]struct{}, len(DefaultColorPairs))
	for _, pair := range DefaultColorPairs {
		known[pair] = struct{}{}
	}
	for i := 0; i < 200; i++ {
		pair := palette.Pick()
		if _, ok := known[pair]; !ok {
			t.Fatalf("unexpected pair %+v", pair)
		}
		if !colorHexPattern.MatchString(pair.Light) || !colorHexPattern.MatchString(pair.Dark) {
			t.Fatalf("malformed pair %+v", pair)
		}
	}
}

func TestRandomPaletteUsesCustomPairs(t *testing.T) {
	custom := ColorPair{Light: "#ffffff", Dark: "#000000"}
	if got := NewRandomPalette([]ColorPair{custom}).Pick(); got != custom {
		t.Fatalf("expected %+v, got %+v", custom, got)
	}
}
