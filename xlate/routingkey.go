package xlate

import (
	"crypto/md5" //nolint:gosec // not a security use: routing keys only need uniform AMQP shard distribution
	"strconv"
	"strings"
)

// BinRoutingKey computes the dot-separated 24-bit AMQP routing key for the
// given identifiers: MD5 of the concatenation of each argument's 8-byte
// big-endian two's-complement form, keeping the first 3 bytes (24 bits)
// MSB-first, one decimal digit ("0"/"1") per bit. Pinned against the
// golden vectors in the retrieval pack's original test suite.
func BinRoutingKey(args ...int64) string {
	buf := make([]byte, 0, 8*len(args))
	for _, a := range args {
		var b [8]byte
		u := uint64(a)
		for i := 7; i >= 0; i-- {
			b[i] = byte(u)
			u >>= 8
		}
		buf = append(buf, b[:]...)
	}
	digest := md5.Sum(buf) //nolint:gosec

	bits := make([]string, 0, 24)
	for _, byt := range digest[:3] {
		for i := 7; i >= 0; i-- {
			bits = append(bits, strconv.Itoa(int((byt>>uint(i))&1)))
		}
	}
	return strings.Join(bits, ".")
}
