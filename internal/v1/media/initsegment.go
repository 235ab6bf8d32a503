// Package media contains the one byte-pattern check the relay performs on
// otherwise opaque payloads: detecting decoder-initialization segments so
// late joiners can be bootstrapped mid-stream.
package media

// IsInitSegment reports whether payload looks like a decoder initialization
// segment. Two container heuristics are recognized:
//
//   - fMP4: the box type at byte offset 4..8 is "ftyp" or "moov"
//   - H.264 Annex-B: a 3- or 4-byte start code (00 00 [00] 01) followed by a
//     NAL unit of type 7 (SPS) or 8 (PPS)
func IsInitSegment(payload []byte) bool {
	return isFMP4Init(payload) || isAnnexBInit(payload)
}

func isFMP4Init(payload []byte) bool {
	if len(payload) < 8 {
		return false
	}
	boxType := string(payload[4:8])
	return boxType == "ftyp" || boxType == "moov"
}

func isAnnexBInit(payload []byte) bool {
	var nalHeader byte
	switch {
	case len(payload) >= 5 && payload[0] == 0x00 && payload[1] == 0x00 && payload[2] == 0x00 && payload[3] == 0x01:
		nalHeader = payload[4]
	case len(payload) >= 4 && payload[0] == 0x00 && payload[1] == 0x00 && payload[2] == 0x01:
		nalHeader = payload[3]
	default:
		return false
	}
	nalType := nalHeader & 0x1F
	return nalType == 7 || nalType == 8
}
