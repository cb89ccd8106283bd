package model

// Sentinels used when a log does not carry the corresponding value.
const (
	UnknownActor  = "unknown"
	DefaultAction = "interaction"
)

// EventRecord is the durable unit written to the log store. Amount is kept as
// the raw payload string so values wider than 64 bits survive untouched.
type EventRecord struct {
	Chain     string `json:"chain"`
	Attacker  string `json:"attacker"`
	Action    string `json:"action"`
	Amount    string `json:"amount"`
	Timestamp int64  `json:"timestamp"`
	TxHash    string `json:"tx_hash"`

	// Position of the originating log. Not part of the persisted line.
	BlockNumber uint64 `json:"-"`
	HasBlock    bool   `json:"-"`
	LogIndex    uint64 `json:"-"`
	HasLogIndex bool   `json:"-"`
}
