package nmea

import (
	"bytes"
	"errors"
	"testing"
)

func TestFormatKnownChecksum(t *testing.T) {
	got, err := Format([]byte("LNCCMD,042,RQA,ARM"))
	if err != nil {
		t.Fatalf("format: %v", err)
	}
	want := []byte("$LNCCMD,042,RQA,ARM*0D\r\n")
	if !bytes.Equal(got, want) {
		t.Fatalf("sentence mismatch: got %q want %q", got, want)
	}
}

func TestFormatVerifyRoundTrip(t *testing.T) {
	bodies := [][]byte{
		[]byte(""),
		[]byte("RQAACK,001,LNC"),
		[]byte("RQATLM,999,LNC,12.345,03,FFFFFFFF"),
	}
	for _, body := range bodies {
		sentence, err := Format(body)
		if err != nil {
			t.Fatalf("format %q: %v", body, err)
		}
		got, err := Verify(sentence)
		if err != nil {
			t.Fatalf("verify %q: %v", sentence, err)
		}
		if !bytes.Equal(got, body) {
			t.Fatalf("body mismatch: got %q want %q", got, body)
		}
	}
}

func TestFormatRejectsOversizedBody(t *testing.T) {
	body := bytes.Repeat([]byte("A"), MaxBodyLen+1)
	if _, err := Format(body); !errors.Is(err, ErrSentenceTooLong) {
		t.Fatalf("expected ErrSentenceTooLong, got %v", err)
	}
}

func TestVerifyRejectsTamperedBody(t *testing.T) {
	sentence, err := Format([]byte("LNCCMD,042,RQA,ARM"))
	if err != nil {
		t.Fatalf("format: %v", err)
	}
	sentence[5] ^= 0x01
	if _, err := Verify(sentence); !errors.Is(err, ErrBadChecksum) {
		t.Fatalf("expected ErrBadChecksum, got %v", err)
	}
}

func TestVerifyRejectsMissingChecksum(t *testing.T) {
	if _, err := Verify([]byte("$LNCCMD,042,RQA,ARM\r\n")); !errors.Is(err, ErrNoChecksum) {
		t.Fatalf("expected ErrNoChecksum, got %v", err)
	}
}

func TestVerifyRejectsLowercaseChecksumDigits(t *testing.T) {
	if _, err := Verify([]byte("$LNCCMD,042,RQA,ARM*0d\r\n")); !errors.Is(err, ErrBadChecksum) {
		t.Fatalf("expected ErrBadChecksum, got %v", err)
	}
}

func TestVerifyRejectsMissingDelimiters(t *testing.T) {
	for _, raw := range []string{"", "LNCCMD*00\r\n", "$LNCCMD*00\r", "$LNCCMD*00\n"} {
		if _, err := Verify([]byte(raw)); !errors.Is(err, ErrBadFormat) {
			t.Fatalf("verify %q: expected ErrBadFormat, got %v", raw, err)
		}
	}
}
