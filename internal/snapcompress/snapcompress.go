/*Package snapcompress zstd-compresses the binary blocks written by
internal/snapshot for per-step checkpoints and the diagnostic tree-snapshot
dump.

Adapted from lib/compress: WriteCompressedIntsZStd and ReadCompressedIntsZStd
there wrap github.com/DataDog/zstd in a length-prefixed block protocol for
columns of quantized ints. This package keeps that length-prefixed block
framing but drops the surrounding quantization/delta-encoding machinery
(Quantize, RotateEncode, LagrangianDelta): that exists to squeeze
cosmological particle positions, which tolerate lossy rounding, into a
fraction of their raw size. Checkpoint and tree-dump records must round-trip
exactly so a restarted run reproduces bit-identical state, so this package
zstd-compresses the already-exact binary encoding as one opaque block
instead.
*/
package snapcompress

import (
	"encoding/binary"
	"fmt"
	"io"

	"github.com/DataDog/zstd"
)

// Level is the zstd compression level used for every block. Checkpoints are
// written far more often than they're read, so a low level favoring
// throughput over ratio matches the choice already made in
// WriteCompressedIntsZStd.
const Level = 1

// WriteBlock zstd-compresses data and writes it to wr as a single
// length-prefixed block: an int64 byte count, followed by that many
// compressed bytes.
func WriteBlock(wr io.Writer, data []byte) error {
	compressed, err := zstd.CompressLevel(nil, data, Level)
	if err != nil {
		return fmt.Errorf("snapcompress: compressing block: %w", err)
	}
	if err := binary.Write(wr, binary.LittleEndian, int64(len(compressed))); err != nil {
		return err
	}
	_, err = wr.Write(compressed)
	return err
}

// ReadBlock reads one WriteBlock-encoded block from rd and returns the
// decompressed bytes.
func ReadBlock(rd io.Reader) ([]byte, error) {
	var n int64
	if err := binary.Read(rd, binary.LittleEndian, &n); err != nil {
		return nil, err
	}
	if n < 0 {
		return nil, fmt.Errorf("snapcompress: corrupt block length %d", n)
	}
	compressed := make([]byte, n)
	if _, err := io.ReadFull(rd, compressed); err != nil {
		return nil, err
	}
	out, err := zstd.Decompress(nil, compressed)
	if err != nil {
		return nil, fmt.Errorf("snapcompress: decompressing block: %w", err)
	}
	return out, nil
}
