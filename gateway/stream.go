package gateway

// Stream is an ordered sequence of fragments from a streaming completion.
//
//	for s.Next() {
//	    f := s.Current()
//	}
//	if err := s.Err(); err != nil { ... }
type Stream interface {
	// Next advances to the next fragment, returning false when the stream
	// is exhausted or has failed.
	Next() bool

	// Current returns the fragment Next advanced to.
	Current() Fragment

	// Err returns the error that stopped the stream, if any.
	Err() error

	// Close releases the underlying connection.
	Close() error
}

// SliceStream replays a fixed list of fragments and then reports err.
// It backs test gateways and providers whose SDK returns whole responses.
type SliceStream struct {
	fragments []Fragment
	err       error
	pos       int
	closed    bool
}

// NewSliceStream returns a stream that yields fragments in order. If err is
// non-nil it is reported once the fragments are exhausted.
func NewSliceStream(fragments []Fragment, err error) *SliceStream {
	return &SliceStream{fragments: fragments, err: err, pos: -1}
}

// Texts builds a SliceStream of TextFragments.
func Texts(parts ...string) *SliceStream {
	frags := make([]Fragment, len(parts))
	for i, p := range parts {
		frags[i] = TextFragment{Text: p}
	}
	return NewSliceStream(frags, nil)
}

func (s *SliceStream) Next() bool {
	if s.closed || s.pos+1 >= len(s.fragments) {
		s.pos = len(s.fragments)
		return false
	}
	s.pos++
	return true
}

func (s *SliceStream) Current() Fragment {
	if s.pos < 0 || s.pos >= len(s.fragments) {
		return nil
	}
	return s.fragments[s.pos]
}

func (s *SliceStream) Err() error {
	if s.pos >= len(s.fragments) {
		return s.err
	}
	return nil
}

func (s *SliceStream) Close() error {
	s.closed = true
	return nil
}
