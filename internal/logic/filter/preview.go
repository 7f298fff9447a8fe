package filter

// Effect describes a cheap, renderer-side approximation of a filter used to
// tint the live preview without walking pixels. It need not match Apply
// byte for byte.
type Effect struct {
	Name string `json:"name"`
	CSS  string `json:"css"`
}

// Preview returns the preview effect for id. Unknown IDs map to the none effect.
func Preview(id ID) Effect {
	switch id {
	case Grayscale:
		return Effect{Name: "grayscale", CSS: "grayscale(100%)"}
	case Sepia:
		return Effect{Name: "sepia", CSS: "sepia(100%)"}
	case Invert:
		return Effect{Name: "invert", CSS: "invert(100%)"}
	default:
		return Effect{Name: "none", CSS: "none"}
	}
}
