package domain

const (
	MaxPeerIDLen      = 64
	MaxDisplayNameLen = 64

	// AnonymousName is used when a join request omits displayName.
	AnonymousName = "Anonymous"
)

// CleanDisplayName applies the default and trims oversized names instead of
// rejecting them; a display name is cosmetic and never a reason to fail a join.
func CleanDisplayName(name string) string {
	if name == "" {
		return AnonymousName
	}
	if len(name) > MaxDisplayNameLen {
		return name[:MaxDisplayNameLen]
	}
	return name
}
