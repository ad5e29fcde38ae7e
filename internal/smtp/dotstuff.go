package smtp

var (
	terminatorAfterCRLF = []byte(".\r\n")
	terminatorAfterCR   = []byte("\n.\r\n")
	terminatorDefault   = []byte("\r\n.\r\n")
)

// stuffDots doubles every '.' that starts a line. atLineStart tells whether
// the byte before chunk ended a line (or chunk starts the body).
func stuffDots(chunk []byte, atLineStart bool) []byte {
	out := make([]byte, 0, len(chunk)+8)
	lineStart := atLineStart
	for _, b := range chunk {
		if lineStart && b == '.' {
			out = append(out, '.')
		}
		out = append(out, b)
		lineStart = b == '\n'
	}
	return out
}

// updateTail returns the last two bytes of tail followed by sent.
func updateTail(tail string, sent []byte) string {
	if len(sent) >= 2 {
		return string(sent[len(sent)-2:])
	}
	t := tail + string(sent)
	if len(t) > 2 {
		t = t[len(t)-2:]
	}
	return t
}

// bodyTerminator picks the end-of-data sequence for the bytes already sent.
func bodyTerminator(tail string) []byte {
	switch {
	case tail == "\r\n":
		return terminatorAfterCRLF
	case len(tail) > 0 && tail[len(tail)-1] == '\r':
		return terminatorAfterCR
	default:
		return terminatorDefault
	}
}

// atLineStart reports whether the next body byte begins a line.
func atLineStart(tail string) bool {
	return tail == "" || tail[len(tail)-1] == '\n'
}
