package usecase

import (
	"bytes"
	"fmt"

	"golang.org/x/text/encoding"
	"golang.org/x/text/encoding/unicode"
	"golang.org/x/text/transform"
)

// chunkDecoder turns raw provider chunks into text. A multi-byte sequence
// split across chunks is held back until the rest of it arrives; invalid
// bytes become U+FFFD.
type chunkDecoder struct {
	dec     *encoding.Decoder
	pending []byte
}

func newChunkDecoder() *chunkDecoder {
	return &chunkDecoder{dec: unicode.UTF8.NewDecoder()}
}

// Decode returns the text completed by chunk.
func (d *chunkDecoder) Decode(chunk []byte) (string, error) {
	src := append(d.pending, chunk...)
	d.pending = nil
	return d.transform(src, false)
}

// Flush returns whatever is still buffered, replacing an incomplete trailing
// sequence with U+FFFD.
func (d *chunkDecoder) Flush() (string, error) {
	src := d.pending
	d.pending = nil
	if len(src) == 0 {
		return "", nil
	}
	return d.transform(src, true)
}

func (d *chunkDecoder) transform(src []byte, atEOF bool) (string, error) {
	var out bytes.Buffer
	// Each invalid byte expands to a three-byte replacement rune.
	dst := make([]byte, 3*len(src)+4*4)
	for {
		nDst, nSrc, err := d.dec.Transform(dst, src, atEOF)
		out.Write(dst[:nDst])
		src = src[nSrc:]
		switch err {
		case nil:
			return out.String(), nil
		case transform.ErrShortSrc:
			d.pending = append([]byte(nil), src...)
			return out.String(), nil
		case transform.ErrShortDst:
			if nSrc == 0 && nDst == 0 {
				return "", fmt.Errorf("usecase: decode chunk: %w", err)
			}
		default:
			return "", fmt.Errorf("usecase: decode chunk: %w", err)
		}
	}
}
