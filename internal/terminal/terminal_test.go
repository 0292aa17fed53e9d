package terminal

import (
	"testing"
)

func TestDecodeFileContent_ValidUTF8(t *testing.T) {
	data := []byte("hello, 世界")
	out, err := DecodeFileContent(data)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if out != string(data) {
		t.Fatalf("got %q, want %q", out, data)
	}
}

func TestDecodeFileContent_InvalidBytesFallBackCleanly(t *testing.T) {
	data := []byte{0xff, 0xfe, 0x00, 0x41}
	out, err := DecodeFileContent(data)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if out == "" {
		t.Fatal("expected non-empty fallback decode")
	}
}

func TestNormalizeCharsetLabel(t *testing.T) {
	cases := map[string]string{
		"GB-18030": "gb18030",
		"GB-2312":  "gb2312",
		"Big5":     "big5",
		"EUC-TW":   "euc-tw",
		"UTF-8":    "utf-8",
		"ASCII":    "ascii",
		"koi8-r":   "koi8-r",
	}
	for in, want := range cases {
		if got := normalizeCharsetLabel(in); got != want {
			t.Errorf("normalizeCharsetLabel(%q) = %q, want %q", in, got, want)
		}
	}
}

func TestEncodingByLabel(t *testing.T) {
	if _, ok := encodingByLabel("gb18030"); !ok {
		t.Error("expected gb18030 to resolve")
	}
	if _, ok := encodingByLabel("utf-16le"); !ok {
		t.Error("expected utf-16le to resolve")
	}
	if _, ok := encodingByLabel("made-up-label"); ok {
		t.Error("expected unknown label to not resolve")
	}
}

func TestHostKeyCallback_MemoizesResult(t *testing.T) {
	cb1, err1 := HostKeyCallback()
	cb2, err2 := HostKeyCallback()
	if err1 != err2 {
		t.Fatalf("expected the memoized error to be stable, got %v then %v", err1, err2)
	}
	if (cb1 == nil) != (cb2 == nil) {
		t.Fatalf("expected memoized callback presence to be stable")
	}
}
