package nmea

type parserState int

const (
	stateWaitStart parserState = iota
	stateWaitCR
	stateWaitLF
)

// pendingLimit bounds the unfinished-sentence buffer. A legal sentence fits
// in MaxSentenceLen; the slack keeps completion the single discard point.
const pendingLimit = 256

// Parser reassembles sentences from an arbitrarily chunked byte stream.
// Partial state survives across Feed calls, so a sentence split over many
// reads still comes out whole. Bytes outside a sentence are skipped, and a
// '$' seen mid-sentence starts a fresh one: if a terminator is corrupted,
// only the sentence it belonged to is lost.
type Parser struct {
	state parserState
	buf   []byte
}

func NewParser() *Parser {
	return &Parser{buf: make([]byte, 0, pendingLimit)}
}

// Feed consumes data and calls emit once per completed sentence, delimiters
// included. The emitted slice is reused after emit returns; callers who keep
// it must copy. A CR not followed by LF discards the pending sentence, as do
// sentences over the frame budget.
func (p *Parser) Feed(data []byte, emit func(sentence []byte)) {
	for _, c := range data {
		switch p.state {
		case stateWaitStart:
			if c == startDelimiter {
				p.restart()
			}
		case stateWaitCR:
			if c == startDelimiter {
				p.restart()
				continue
			}
			if len(p.buf) >= pendingLimit {
				p.reset()
				continue
			}
			p.buf = append(p.buf, c)
			if c == cr {
				p.state = stateWaitLF
			}
		case stateWaitLF:
			if c == lf {
				p.buf = append(p.buf, c)
				if len(p.buf) <= MaxSentenceLen {
					emit(p.buf)
				}
				p.reset()
				continue
			}
			p.reset()
			if c == startDelimiter {
				p.restart()
			}
		}
	}
}

func (p *Parser) restart() {
	p.buf = append(p.buf[:0], startDelimiter)
	p.state = stateWaitCR
}

func (p *Parser) reset() {
	p.buf = p.buf[:0]
	p.state = stateWaitStart
}
