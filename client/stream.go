package client

import (
	"errors"
	"io"
	"strings"
)

// Collect drains a stream, calling fn (if not nil) for each fragment,
// and returns the concatenated text.  The stream is closed on return.
func Collect(s Stream, fn func(fragment string)) (text string, err error) {
	defer s.Close()
	var sb strings.Builder
	for {
		var frag string
		frag, err = s.Recv()
		if errors.Is(err, io.EOF) {
			err = nil
			break
		}
		if err != nil {
			break
		}
		if frag == "" {
			continue
		}
		sb.WriteString(frag)
		if fn != nil {
			fn(frag)
		}
	}
	text = sb.String()
	return
}

// SliceStream replays a fixed list of fragments.  Providers without
// native streaming use it to satisfy the Stream interface.
type SliceStream struct {
	frags []string
	pos   int
	err   error
}

// NewSliceStream returns a stream that yields frags in order and then
// either err (if not nil) or io.EOF.
func NewSliceStream(err error, frags ...string) *SliceStream {
	return &SliceStream{frags: frags, err: err}
}

func (s *SliceStream) Recv() (string, error) {
	if s.pos < len(s.frags) {
		s.pos++
		return s.frags[s.pos-1], nil
	}
	if s.err != nil {
		return "", s.err
	}
	return "", io.EOF
}

func (s *SliceStream) Close() error {
	s.pos = len(s.frags)
	return nil
}
