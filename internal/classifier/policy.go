package classifier

// Policy holds the tunable heuristics used when picking a media URL out of an indirection body.
type Policy struct {
	// ExtensionRank orders media extensions, lower wins. Extensions not listed are not media.
	ExtensionRank map[string]int
	// Prefer reports whether a should win a rank tie against b.
	Prefer func(a, b string) bool
	// MaxHops bounds how many indirection documents are followed.
	MaxHops int
	// MaxBody bounds how much of an indirection body is read.
	MaxBody int64
}

// PreferLonger favours longer URLs; short strings tend to be tracking links.
func PreferLonger(a, b string) bool {
	if len(a) != len(b) {
		return len(a) > len(b)
	}
	return a < b
}

func DefaultPolicy() Policy {
	return Policy{
		ExtensionRank: map[string]int{
			"mp4":  0,
			"mkv":  0,
			"webm": 0,
			"m3u8": 1,
			"mpd":  2,
		},
		Prefer:  PreferLonger,
		MaxHops: 3,
		MaxBody: 4 << 20,
	}
}
