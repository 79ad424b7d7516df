package models

// Checkpoint records an account's voting weight as of a sequence point.
// Per-account checkpoint arrays are strictly non-decreasing in Point; a
// second write at the same point overwrites the weight in place.
type Checkpoint struct {
	Point  uint64 `json:"point"`
	Weight uint64 `json:"weight"`
}

// Delegation maps an account to its representative. An absent record means
// the account represents itself.
type Delegation struct {
	Account        string `json:"account"`
	Representative string `json:"representative"`
}
