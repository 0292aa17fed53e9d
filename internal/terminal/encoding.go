package terminal

import (
	"bytes"
	"strings"
	"unicode/utf8"

	"github.com/gogs/chardet"
	"golang.org/x/text/encoding"
	"golang.org/x/text/encoding/simplifiedchinese"
	"golang.org/x/text/encoding/traditionalchinese"
	"golang.org/x/text/encoding/unicode"
)

// replacementChar is the Unicode replacement character U+FFFD, used to
// detect a failed or lossy decode.
const replacementChar = '�'

// gb18030ish is the set of detected labels that decode as gb18030 — a
// strict superset of gbk/gb2312, chosen for compatibility per §4.5.2.
var gb18030ish = map[string]bool{
	"gbk":     true,
	"gb2312":  true,
	"gb18030": true,
	"big5":    true,
	"euc-tw":  true,
}

func encodingByLabel(label string) (encoding.Encoding, bool) {
	switch label {
	case "gb18030", "gbk", "gb2312":
		return simplifiedchinese.GB18030, true
	case "big5":
		return traditionalchinese.Big5, true
	case "utf-16le":
		return unicode.UTF16(unicode.LittleEndian, unicode.IgnoreBOM), true
	case "utf-16be":
		return unicode.UTF16(unicode.BigEndian, unicode.IgnoreBOM), true
	default:
		return nil, false
	}
}

// decodeWith decodes data with enc and reports whether the result is clean
// (no replacement characters, indicating a confident decode).
func decodeWith(enc encoding.Encoding, data []byte) (string, bool) {
	out, err := enc.NewDecoder().Bytes(data)
	if err != nil {
		return "", false
	}
	return string(out), !bytes.ContainsRune(out, replacementChar)
}

// DecodeFileContent implements the §4.5.2 decode precedence for readFile:
//  1. utf-8/ascii -> decode as UTF-8 directly.
//  2. detected in {gbk, gb2312, gb18030, big5, euc-tw} -> decode as gb18030.
//  3. confidence < 0.90 -> try gb18030 first; if the result contains U+FFFD,
//     fall back to the detected encoding (if supported), else UTF-8.
//  4. otherwise, if the detected encoding is supported -> decode as detected.
//  5. otherwise -> UTF-8.
func DecodeFileContent(data []byte) (string, error) {
	if utf8.Valid(data) {
		return string(data), nil
	}

	detector := chardet.NewTextDetector()
	result, err := detector.DetectBest(data)
	label := ""
	confidence := 0
	if err == nil && result != nil {
		label = normalizeCharsetLabel(result.Charset)
		confidence = result.Confidence
	}

	if label == "utf-8" || label == "ascii" || label == "" {
		return decodeFallbackUTF8(data), nil
	}

	if gb18030ish[label] {
		out, _ := decodeWith(simplifiedchinese.GB18030, data)
		return out, nil
	}

	if confidence < 90 {
		if out, clean := decodeWith(simplifiedchinese.GB18030, data); clean {
			return out, nil
		}
		if enc, ok := encodingByLabel(label); ok {
			if out, clean := decodeWith(enc, data); clean {
				return out, nil
			}
		}
		return decodeFallbackUTF8(data), nil
	}

	if enc, ok := encodingByLabel(label); ok {
		if out, _ := decodeWith(enc, data); out != "" {
			return out, nil
		}
	}
	return decodeFallbackUTF8(data), nil
}

// decodeFallbackUTF8 returns data as a UTF-8 string, scrubbing invalid byte
// sequences to the replacement character rather than erroring — readFile
// always replies with content, never a decode exception.
func decodeFallbackUTF8(data []byte) string {
	if utf8.Valid(data) {
		return string(data)
	}
	return strings.ToValidUTF8(string(data), string(replacementChar))
}

func normalizeCharsetLabel(label string) string {
	switch label {
	case "GB-18030":
		return "gb18030"
	case "GB-2312":
		return "gb2312"
	case "Big5":
		return "big5"
	case "EUC-TW":
		return "euc-tw"
	case "UTF-8":
		return "utf-8"
	case "ASCII":
		return "ascii"
	case "UTF-16LE":
		return "utf-16le"
	case "UTF-16BE":
		return "utf-16be"
	default:
		return label
	}
}
