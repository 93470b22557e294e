// Package pretty formats protocol values for log lines.
package pretty

import "fmt"

// Abbrev returns a Stringer that cuts s down when it is longer than MaxLen.
// With no ranges, payloads longer than 80 bytes are cut to 64.
func Abbrev(s string, ranges ...int) Abbreviated {
	MaxLen := 80
	CutTo := 64
	if len(ranges) >= 2 {
		MaxLen, CutTo = ranges[0], ranges[1]
	} else if len(ranges) == 1 {
		MaxLen, CutTo = ranges[0], ranges[0]
	}
	return Abbreviated{
		Original: s,
		MaxLen:   MaxLen,
		CutTo:    CutTo,
	}
}

type Abbreviated struct {
	Original string
	MaxLen   int
	CutTo    int
}

func (s Abbreviated) String() string {
	if len(s.Original) > s.MaxLen {
		return fmt.Sprintf("%s… (%d bytes)", s.Original[:s.CutTo], len(s.Original))
	}
	return s.Original
}

// Payload abbreviates a raw wire payload.
func Payload(data []byte) Abbreviated {
	return Abbrev(string(data))
}
