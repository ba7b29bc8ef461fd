package volume

import (
	"encoding/binary"
	"errors"
	"fmt"
	"io"

	"github.com/klauspost/compress/zstd"

	"github.com/blockpack/blockpack/internal/blockproc"
)

// Record is one decoded block record read back out of a closed volume, used
// by `blockpack verify` and `blockpack stats`.
type Record struct {
	HashKey           string
	Size              int64
	Data              []byte
	IsBlocklistHashes bool
}

// Reader decodes the self-delimiting record stream written by Writer.
type Reader struct {
	dec *zstd.Decoder
}

// NewReader wraps a closed volume's byte stream for forward-only decoding.
func NewReader(r io.Reader) (*Reader, error) {
	dec, err := zstd.NewReader(r)
	if err != nil {
		return nil, blockproc.NewVolumeWriteError("open zstd reader", err)
	}
	return &Reader{dec: dec}, nil
}

// Close releases the decoder's resources. It does not close the
// underlying io.Reader.
func (r *Reader) Close() {
	r.dec.Close()
}

// Next decodes the next record, returning io.EOF once the stream is
// exhausted.
func (r *Reader) Next() (Record, error) {
	hdr := make([]byte, 1+4+8)
	if _, err := io.ReadFull(r.dec, hdr); err != nil {
		if errors.Is(err, io.EOF) || errors.Is(err, io.ErrUnexpectedEOF) {
			return Record{}, io.EOF
		}
		return Record{}, fmt.Errorf("volume: decode record header: %w", err)
	}

	flags := hdr[0]
	hashLen := binary.LittleEndian.Uint32(hdr[1:5])
	size := binary.LittleEndian.Uint64(hdr[5:13])

	hashKey := make([]byte, hashLen)
	if _, err := io.ReadFull(r.dec, hashKey); err != nil {
		return Record{}, fmt.Errorf("volume: decode hash key: %w", err)
	}
	data := make([]byte, size)
	if _, err := io.ReadFull(r.dec, data); err != nil {
		return Record{}, fmt.Errorf("volume: decode payload: %w", err)
	}

	return Record{
		HashKey:           string(hashKey),
		Size:              int64(size),
		Data:              data,
		IsBlocklistHashes: flags&flagBlocklistHashes != 0,
	}, nil
}

// ReadAll decodes every record in the stream.
func ReadAll(r io.Reader) ([]Record, error) {
	dec, err := NewReader(r)
	if err != nil {
		return nil, err
	}
	defer dec.Close()

	var out []Record
	for {
		rec, err := dec.Next()
		if errors.Is(err, io.EOF) {
			return out, nil
		}
		if err != nil {
			return nil, err
		}
		out = append(out, rec)
	}
}
