package gateway

// Fragment is one piece of a streamed completion: a TextFragment, a
// ToolCallFragment or an OpaqueFragment. No other implementations exist.
type Fragment interface {
	fragment()
}

// TextFragment carries generated text.
type TextFragment struct {
	Text string
}

// ToolCallFragment is a complete function call. Providers emit it once the
// call's arguments have fully arrived.
type ToolCallFragment struct {
	Call ToolCall
}

// OpaqueFragment carries a provider event with no extractable text, such as
// a thinking delta or inline data.
type OpaqueFragment struct {
	Kind string
	Raw  []byte
}

func (TextFragment) fragment()     {}
func (ToolCallFragment) fragment() {}
func (OpaqueFragment) fragment()   {}

// TextOf returns the text of f if it is a TextFragment.
func TextOf(f Fragment) (string, bool) {
	switch v := f.(type) {
	case TextFragment:
		return v.Text, true
	case *TextFragment:
		if v == nil {
			return "", false
		}
		return v.Text, true
	default:
		return "", false
	}
}
