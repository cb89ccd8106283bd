package model

// RawLogEntry is a log object as returned by eth_getLogs. Fields stay in their
// hex string form so that one malformed entry does not fail a whole batch.
type RawLogEntry struct {
	Address          string   `json:"address,omitempty"`
	Topics           []string `json:"topics"`
	Data             *string  `json:"data"`
	BlockNumber      string   `json:"blockNumber,omitempty"`
	BlockHash        string   `json:"blockHash,omitempty"`
	TransactionHash  string   `json:"transactionHash,omitempty"`
	TransactionIndex string   `json:"transactionIndex,omitempty"`
	LogIndex         string   `json:"logIndex,omitempty"`
	Removed          bool     `json:"removed,omitempty"`

	// ParseError is set when the entry's JSON could not be read at all.
	ParseError string `json:"-"`
}
