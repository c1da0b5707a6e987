package models

// RegisterRequest is a validated registration attempt.
type RegisterRequest struct {
	Identity Identity
	IP       string
}

// AuthRequest is a validated token redemption.
type AuthRequest struct {
	Tlf        string
	NationalID string
	Token      string
	IP         string
}

// NotifyRequest is a vote-cast callback from the downstream voting system.
type NotifyRequest struct {
	Identifier string
	Proof      string
	IP         string
}

// AuthAssertion is the signed claim handed to the voting system after a
// successful authentication. Message has the form "<unix_ts>#<voter_id>".
type AuthAssertion struct {
	Message  string `json:"message"`
	SHA1HMAC string `json:"sha1_hmac"`
}

// ColorListRequest is the admin API body for adding or removing an entry.
type ColorListRequest struct {
	Dimension string `json:"dimension"`
	Action    string `json:"action"`
	Value     string `json:"value"`
}
