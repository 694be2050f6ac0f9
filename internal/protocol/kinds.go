package protocol

// Event kinds understood by the engine. Everything else is ignored.
const (
	KindProfile       = 0  // profile metadata, JSON content
	KindNote          = 1  // public plaintext note
	KindDirectMessage = 4  // NIP-04 encrypted direct message, "p" tag
	KindGroupMessage  = 41 // symmetric-key group message, "g" tag
)
