// Package shortvec implements the compact-u16 length prefix used by the
// transaction wire format.
package shortvec

import (
	"errors"
	"fmt"
	"io"
	"math"
)

// ErrTooLong is returned when a length needs more than three bytes.
var ErrTooLong = errors.New("shortvec: encoding longer than 3 bytes")

// EncodeLen writes n as a compact-u16 into w.
func EncodeLen(w io.Writer, n int) (int, error) {
	if n < 0 || n > math.MaxUint16 {
		return 0, fmt.Errorf("shortvec: length %d out of range", n)
	}

	var buf [3]byte
	i := 0
	for {
		buf[i] = byte(n & 0x7f)
		n >>= 7
		if n == 0 {
			i++
			break
		}
		buf[i] |= 0x80
		i++
	}
	return w.Write(buf[:i])
}

// DecodeLen reads a compact-u16 from r.
func DecodeLen(r io.Reader) (int, error) {
	var (
		val int
		b   [1]byte
	)
	for i := 0; i < 3; i++ {
		if _, err := io.ReadFull(r, b[:]); err != nil {
			return 0, err
		}
		val |= int(b[0]&0x7f) << (i * 7)
		if b[0]&0x80 == 0 {
			if val > math.MaxUint16 {
				return 0, fmt.Errorf("shortvec: value %d exceeds u16", val)
			}
			return val, nil
		}
	}
	return 0, ErrTooLong
}
