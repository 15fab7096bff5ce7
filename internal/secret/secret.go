package secret

import (
	"bytes"

	"golang.org/x/text/transform"
)

// Message is the encoded greeting printed by cmd/hello.
const Message = "Ifmmp-!xpsme\"\012J(n!tpssz-!Ebwf/!" +
	"J(n!bgsbje!J!dbo(u!ep!uibu/!.!IBM\001"

// Shifter is a transform.Transformer that subtracts Delta from every byte.
type Shifter struct {
	Delta byte
}

// Transform implements transform.Transformer.
func (s Shifter) Transform(dst, src []byte, atEOF bool) (nDst, nSrc int, err error) {
	n := len(src)
	if n > len(dst) {
		n = len(dst)
		err = transform.ErrShortDst
	}
	for i := 0; i < n; i++ {
		dst[i] = src[i] - s.Delta
	}
	return n, n, err
}

// Reset implements transform.Transformer.
func (Shifter) Reset() {}

// Decode shifts every byte of s down by one and stops at the first NUL,
// the terminator of the encoded form.
func Decode(s string) (string, error) {
	out, _, err := transform.Bytes(Shifter{Delta: 1}, []byte(s))
	if err != nil {
		return "", err
	}
	if i := bytes.IndexByte(out, 0); i >= 0 {
		out = out[:i]
	}
	return string(out), nil
}

// Encode is the inverse of Decode; it appends the NUL terminator.
func Encode(s string) (string, error) {
	out, _, err := transform.Bytes(Shifter{Delta: 0xff}, append([]byte(s), 0))
	if err != nil {
		return "", err
	}
	return string(out), nil
}
