package domain

// Channel is the per-event chat stream. Exactly one channel exists per event;
// it is created lazily on first access and never deleted by this subsystem.
type Channel struct {
	ID      ChannelID
	Name    string
	Members []string // informational; does not gate read or write
}

// ValidChannelID reports whether id can be embedded in storage keys and feed
// subjects. Both namespaces assign meaning to separator and wildcard
// characters (':' in Badger keys; '.', '*', '>' and spaces in NATS subjects),
// so ids are restricted to letters, digits, '-' and '_'.
func ValidChannelID(id ChannelID) bool {
	if id == "" {
		return false
	}
	for _, r := range id {
		switch {
		case r >= 'a' && r <= 'z':
		case r >= 'A' && r <= 'Z':
		case r >= '0' && r <= '9':
		case r == '-' || r == '_':
		default:
			return false
		}
	}
	return true
}
