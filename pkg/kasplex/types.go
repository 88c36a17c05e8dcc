package kasplex

// Quantities in the Kasplex KRC-20 API are decimal strings scaled by the
// token's "dec" field.

// TokenInfo is the response of GET /token/{tick}.
type TokenInfo struct {
	Message string        `json:"message"`
	Result  []TokenResult `json:"result"`
}

// TokenResult describes one deployed KRC-20 token.
type TokenResult struct {
	Tick          string   `json:"tick"`
	Max           string   `json:"max"`
	Lim           string   `json:"lim"`
	Pre           string   `json:"pre"`
	To            string   `json:"to"`
	Dec           string   `json:"dec"`
	Minted        string   `json:"minted"`
	OpScoreAdd    string   `json:"opScoreAdd"`
	OpScoreMod    string   `json:"opScoreMod"`
	State         string   `json:"state"`
	HashRev       string   `json:"hashRev"`
	MtsAdd        string   `json:"mtsAdd"`
	HolderTotal   string   `json:"holderTotal"`
	TransferTotal string   `json:"transferTotal"`
	MintTotal     string   `json:"mintTotal"`
	Holder        []Holder `json:"holder,omitempty"`
}

// Holder is one entry of the top-holder list returned with holder=true.
type Holder struct {
	Address string `json:"address"`
	Amount  string `json:"amount"`
}

// TokenList is the response of GET /address/{address}/tokenlist.
type TokenList struct {
	Message string         `json:"message"`
	Prev    string         `json:"prev"`
	Next    string         `json:"next"`
	Result  []TokenBalance `json:"result"`
}

// TokenBalance is one token held by an address.
type TokenBalance struct {
	Tick       string `json:"tick"`
	Balance    string `json:"balance"`
	Locked     string `json:"locked"`
	Dec        string `json:"dec"`
	OpScoreMod string `json:"opScoreMod"`
}
