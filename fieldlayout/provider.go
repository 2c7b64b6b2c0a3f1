package fieldlayout

// Provider resolves the active layout for an alliance. It is read-only once built and
// holds no reference to any global alliance state: callers pass the alliance every cycle.
type Provider struct {
	blue *FieldTagLayout
	red  *FieldTagLayout
}

// NewProvider derives the red layout by mirroring the blue one.
func NewProvider(blue *FieldTagLayout) *Provider {
	return &Provider{
		blue: blue,
		red:  blue.Mirrored(blue.Name() + "-red"),
	}
}

// NewProviderWithLayouts uses explicitly supplied layouts for each alliance.
func NewProviderWithLayouts(blue, red *FieldTagLayout) *Provider {
	return &Provider{blue: blue, red: red}
}

// Resolve returns the layout for the alliance; Unknown falls back to Blue.
func (p *Provider) Resolve(alliance Alliance) *FieldTagLayout {
	if alliance == Red {
		return p.red
	}
	return p.blue
}
