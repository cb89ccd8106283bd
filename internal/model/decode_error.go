package model

// DecodeError records a raw log entry dropped by the decoder.
type DecodeError struct {
	Chain       string `json:"chain"`
	TxHash      string `json:"tx_hash,omitempty"`
	BlockNumber string `json:"block_number,omitempty"`
	LogIndex    string `json:"log_index,omitempty"`
	Error       string `json:"error"`

	// Err is the classified decode failure.
	Err error `json:"-"`
}
