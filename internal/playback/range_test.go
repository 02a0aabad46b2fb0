package playback

import (
	"errors"
	"testing"
)

// A typical finished render is a few megabytes; players seek with open-ended
// ranges and probe the moov atom with suffix ranges.
const videoSize = 4 << 20

func TestParseRange(t *testing.T) {
	tests := []struct {
		header string
		size   int64
		want   *Range
		err    error
	}{
		{"", videoSize, nil, nil},
		{"bytes=0-", videoSize, &Range{0, videoSize - 1}, nil},
		{"bytes=1048576-", videoSize, &Range{1 << 20, videoSize - 1}, nil},
		{"bytes=-65536", videoSize, &Range{videoSize - 65536, videoSize - 1}, nil},
		{"bytes=0-1", videoSize, &Range{0, 1}, nil},
		{"bytes=10-10", 11, &Range{10, 10}, nil},
		{"bytes=0-99999999", videoSize, &Range{0, videoSize - 1}, nil},
		{"bytes=-99999999", 700, &Range{0, 699}, nil},
		{"bytes= 100-199 ", 1000, &Range{100, 199}, nil},
		{"bytes=0-9,100-109", 1000, &Range{0, 9}, nil},

		{"bytes=700-", 700, nil, ErrUnsatisfiable},
		{"bytes=900-800", 1000, nil, ErrUnsatisfiable},
		{"bytes=5000-6000", 1000, nil, ErrUnsatisfiable},
		{"0-100", 1000, nil, ErrInvalidRange},
		{"frames=0-100", 1000, nil, ErrInvalidRange},
		{"bytes=100", 1000, nil, ErrInvalidRange},
		{"bytes=x-100", 1000, nil, ErrInvalidRange},
		{"bytes=0-y", 1000, nil, ErrInvalidRange},
		{"bytes=-0", 1000, nil, ErrInvalidRange},
		{"bytes=-5-10", 1000, nil, ErrInvalidRange},
	}

	for _, tt := range tests {
		t.Run(tt.header, func(t *testing.T) {
			got, err := ParseRange(tt.header, tt.size)
			if !errors.Is(err, tt.err) {
				t.Fatalf("err = %v, want %v", err, tt.err)
			}
			switch {
			case tt.want == nil && got != nil:
				t.Errorf("got %+v, want whole file", *got)
			case tt.want != nil && (got == nil || *got != *tt.want):
				t.Errorf("got %v, want %+v", got, *tt.want)
			}
		})
	}
}

func TestRange_Headers(t *testing.T) {
	r, err := ParseRange("bytes=-500", 1000)
	if err != nil {
		t.Fatal(err)
	}
	if n := r.ContentLength(); n != 500 {
		t.Errorf("ContentLength = %d", n)
	}
	if s := r.ContentRange(1000); s != "bytes 500-999/1000" {
		t.Errorf("ContentRange = %s", s)
	}
	if n := (Range{7, 7}).ContentLength(); n != 1 {
		t.Errorf("single byte ContentLength = %d", n)
	}
}
