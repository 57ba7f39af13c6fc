package protocol

// PairBody is the body of a cconnect.pair packet. Pair=true requests or
// accepts a pairing; Pair=false rejects or dissolves one.
type PairBody struct {
	Pair bool `json:"pair"`
}

// PingBody is the body of a cconnect.ping packet. The message is optional.
type PingBody struct {
	Message string `json:"message,omitempty"`
}
