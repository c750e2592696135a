package domain

// AnonymousName is rendered when no profile data can be resolved for an author.
const AnonymousName = "Anonymous"

// Profile is the stored identity collaborator record. Absence of a profile
// is a normal, handled case.
type Profile struct {
	ID        string
	Username  string
	FullName  string
	AvatarURL string
}

// DisplayIdentity is what the UI renders next to a message.
type DisplayIdentity struct {
	AuthorID  string
	Name      string
	AvatarURL string
}

// DisplayName applies the fallback chain username, full name, Anonymous.
func (p Profile) DisplayName() string {
	switch {
	case p.Username != "":
		return p.Username
	case p.FullName != "":
		return p.FullName
	default:
		return AnonymousName
	}
}

// AnonymousIdentity is the resolver fallback for authorID.
func AnonymousIdentity(authorID string) DisplayIdentity {
	return DisplayIdentity{AuthorID: authorID, Name: AnonymousName}
}
