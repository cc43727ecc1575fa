package nmea

import (
	"bytes"
	"testing"
)

func collectSentences(t *testing.T, p *Parser, chunks ...[]byte) [][]byte {
	t.Helper()
	var out [][]byte
	for _, chunk := range chunks {
		p.Feed(chunk, func(sentence []byte) {
			out = append(out, append([]byte(nil), sentence...))
		})
	}
	return out
}

func TestParserEmitsCompleteSentence(t *testing.T) {
	frame, err := Format([]byte("RQAACK,001,LNC"))
	if err != nil {
		t.Fatalf("format: %v", err)
	}

	got := collectSentences(t, NewParser(), frame)
	if len(got) != 1 {
		t.Fatalf("expected 1 sentence, got %d", len(got))
	}
	if !bytes.Equal(got[0], frame) {
		t.Fatalf("sentence mismatch: got %q want %q", got[0], frame)
	}
}

func TestParserReassemblesAcrossFeeds(t *testing.T) {
	frame, err := Format([]byte("LNCCMD,042,RQA,ARM"))
	if err != nil {
		t.Fatalf("format: %v", err)
	}

	p := NewParser()
	var chunks [][]byte
	for _, b := range frame {
		chunks = append(chunks, []byte{b})
	}
	got := collectSentences(t, p, chunks...)
	if len(got) != 1 || !bytes.Equal(got[0], frame) {
		t.Fatalf("byte-at-a-time feed failed: got %q", got)
	}
}

func TestParserSkipsLeadingGarbage(t *testing.T) {
	frame, err := Format([]byte("RQAACK,002,LNC"))
	if err != nil {
		t.Fatalf("format: %v", err)
	}
	stream := append([]byte{0x00, 0xFF, 'x'}, frame...)

	got := collectSentences(t, NewParser(), stream)
	if len(got) != 1 || !bytes.Equal(got[0], frame) {
		t.Fatalf("expected clean sentence after garbage, got %q", got)
	}
}

func TestParserRecoversAfterCorruptedFrame(t *testing.T) {
	first, err := Format([]byte("RQAACK,003,LNC"))
	if err != nil {
		t.Fatalf("format: %v", err)
	}
	second, err := Format([]byte("RQAACK,004,LNC"))
	if err != nil {
		t.Fatalf("format: %v", err)
	}
	// Break the CR of the first frame so it never terminates; the second
	// frame's '$' must resync the parser.
	corrupted := append([]byte(nil), first...)
	corrupted[len(corrupted)-2] = 'X'
	stream := append(corrupted, second...)

	got := collectSentences(t, NewParser(), stream)
	if len(got) != 1 {
		t.Fatalf("expected only the second sentence, got %d", len(got))
	}
	if !bytes.Equal(got[0], second) {
		t.Fatalf("sentence mismatch: got %q want %q", got[0], second)
	}
}

func TestParserDropsOversizedSentence(t *testing.T) {
	long := append([]byte{'$'}, bytes.Repeat([]byte("A"), MaxSentenceLen)...)
	long = append(long, '\r', '\n')
	frame, err := Format([]byte("RQAACK,005,LNC"))
	if err != nil {
		t.Fatalf("format: %v", err)
	}

	got := collectSentences(t, NewParser(), long, frame)
	if len(got) != 1 || !bytes.Equal(got[0], frame) {
		t.Fatalf("expected oversized sentence to be dropped, got %q", got)
	}
}

func TestParserDropsCRWithoutLF(t *testing.T) {
	got := collectSentences(t, NewParser(), []byte("$BAD\rX"), []byte("$*00\r\n"))
	if len(got) != 1 || !bytes.Equal(got[0], []byte("$*00\r\n")) {
		t.Fatalf("expected broken sentence to be discarded, got %q", got)
	}
}
