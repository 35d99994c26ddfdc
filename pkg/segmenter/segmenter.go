package segmenter

import "unicode/utf16"

// Per-segment limits. Multipart segments lose room to the 6-byte
// concatenation header.
const (
	MaxGSM7Single = 160
	MaxGSM7Part   = 153
	MaxUCS2Single = 70
	MaxUCS2Part   = 67
)

// Segmenter splits message text into transport-sized segments.
type Segmenter interface {
	// Segments returns the parts to submit and whether the text needs
	// UCS2 encoding.
	Segments(text string) (parts []string, requiresUCS2 bool)
}

// DefaultSegmenter splits on the standard GSM/UCS2 segment sizes. Text
// outside the basic ASCII range is treated as UCS2; a full GSM 03.38
// alphabet check would keep some of those messages in the larger GSM-7
// segments, at the cost of carrying the extension tables.
type DefaultSegmenter struct{}

var _ Segmenter = (*DefaultSegmenter)(nil)

func NewDefaultSegmenter() *DefaultSegmenter {
	return &DefaultSegmenter{}
}

func (s *DefaultSegmenter) Segments(text string) ([]string, bool) {
	if text == "" {
		return []string{""}, false
	}

	if fitsGSM7(text) {
		return splitASCII(text), false
	}
	return splitUCS2(text), true
}

func fitsGSM7(text string) bool {
	for _, r := range text {
		if r > 0x7F {
			return false
		}
	}
	return true
}

func splitASCII(text string) []string {
	if len(text) <= MaxGSM7Single {
		return []string{text}
	}
	var parts []string
	for pos := 0; pos < len(text); pos += MaxGSM7Part {
		end := min(pos+MaxGSM7Part, len(text))
		parts = append(parts, text[pos:end])
	}
	return parts
}

// splitUCS2 measures and cuts in UTF-16 code units, the unit the wire
// limit is defined in. Cutting between code units never splits a rune
// because a surrogate pair's halves stay adjacent only when the cut lands
// between pairs; cuts are aligned to avoid orphan surrogates.
func splitUCS2(text string) []string {
	units := utf16.Encode([]rune(text))
	if len(units) <= MaxUCS2Single {
		return []string{text}
	}

	var parts []string
	for pos := 0; pos < len(units); {
		end := min(pos+MaxUCS2Part, len(units))
		// Never end a part on a high surrogate.
		if end < len(units) && isHighSurrogate(units[end-1]) {
			end--
		}
		parts = append(parts, string(utf16.Decode(units[pos:end])))
		pos = end
	}
	return parts
}

func isHighSurrogate(u uint16) bool {
	return u >= 0xD800 && u <= 0xDBFF
}
