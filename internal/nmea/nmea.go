// Package nmea implements the NMEA-0183 style sentence framing used on the
// radio link: '$' + body + '*' + two uppercase hex checksum digits + CR LF.
package nmea

import "errors"

const (
	startDelimiter    = '$'
	checksumDelimiter = '*'
	cr                = '\r'
	lf                = '\n'

	// MaxSentenceLen is the NMEA-0183 sentence budget, delimiters included.
	MaxSentenceLen = 82
	// MaxBodyLen leaves room for '$', '*', two checksum digits, CR and LF.
	MaxBodyLen = MaxSentenceLen - 6
)

var (
	ErrSentenceTooLong = errors.New("sentence body exceeds frame budget")
	ErrBadFormat       = errors.New("malformed sentence")
	ErrNoChecksum      = errors.New("sentence has no checksum")
	ErrBadChecksum     = errors.New("checksum mismatch")
)

// Checksum XORs every body byte.
func Checksum(body []byte) byte {
	var sum byte
	for _, c := range body {
		sum ^= c
	}

	return sum
}

// Format wraps body into a complete sentence.
func Format(body []byte) ([]byte, error) {
	if len(body) > MaxBodyLen {
		return nil, ErrSentenceTooLong
	}

	sum := Checksum(body)
	out := make([]byte, 0, len(body)+6)
	out = append(out, startDelimiter)
	out = append(out, body...)
	out = append(out, checksumDelimiter, hexDigit(sum>>4), hexDigit(sum&0x0f))
	out = append(out, cr, lf)

	return out, nil
}

// Verify checks the outer shape and checksum of a complete sentence and
// returns the body between '$' and '*'. The returned slice aliases sentence.
func Verify(sentence []byte) ([]byte, error) {
	n := len(sentence)
	if n < 2 || sentence[0] != startDelimiter || sentence[n-2] != cr || sentence[n-1] != lf {
		return nil, ErrBadFormat
	}
	inner := sentence[1 : n-2]
	if len(inner) < 3 || inner[len(inner)-3] != checksumDelimiter {
		return nil, ErrNoChecksum
	}

	body := inner[:len(inner)-3]
	hi, err := unhex(inner[len(inner)-2])
	if err != nil {
		return nil, err
	}
	lo, err := unhex(inner[len(inner)-1])
	if err != nil {
		return nil, err
	}
	if Checksum(body) != hi<<4|lo {
		return nil, ErrBadChecksum
	}

	return body, nil
}

func hexDigit(nibble byte) byte {
	if nibble < 10 {
		return '0' + nibble
	}

	return 'A' + nibble - 10
}

// Upper case hex only, matching what the formatter emits.
func unhex(c byte) (byte, error) {
	switch {
	case c >= '0' && c <= '9':
		return c - '0', nil
	case c >= 'A' && c <= 'F':
		return c - 'A' + 10, nil
	default:
		return 0, ErrBadChecksum
	}
}
