package protocol

// Kind tags a Value with the wire encoding the codec should use for it.
// Constructing the tag once, at the handler-adapter boundary, means the
// codec never has to type-switch on a handler's raw output.
type Kind int

const (
	KindText Kind = iota
	KindBinary
	KindJSON
)

func (k Kind) String() string {
	switch k {
	case KindText:
		return "text"
	case KindBinary:
		return "binary"
	case KindJSON:
		return "json"
	default:
		return "unknown"
	}
}

// Value is the tagged variant a handler's postprocess step produces for each
// output in a predict batch: Value = Text(str) | Binary(bytes) | JSON(any).
type Value struct {
	Kind   Kind
	Text   string
	Binary []byte
	JSON   any
}

// NewTextValue wraps a string result.
func NewTextValue(s string) Value { return Value{Kind: KindText, Text: s} }

// NewBinaryValue wraps a raw byte result.
func NewBinaryValue(b []byte) Value { return Value{Kind: KindBinary, Binary: b} }

// NewJSONValue wraps a structured result to be serialized as JSON text.
func NewJSONValue(v any) Value { return Value{Kind: KindJSON, JSON: v} }
