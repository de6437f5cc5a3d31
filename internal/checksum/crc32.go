// Package checksum provides CRC32 content checksums for divergence detection.
// CRC32 is fast and non-cryptographic; it flags content drift, it does not
// authenticate anything.
package checksum

import (
	"context"
	"fmt"
	"hash/crc32"
	"io"
	"os"
)

// Provider computes CRC32 checksums over files and streams. Implementations
// must be safe for concurrent use.
type Provider interface {
	// File computes the checksum of the file at path.
	File(ctx context.Context, path string) (uint32, error)

	// Sum computes the checksum of everything readable from r.
	Sum(ctx context.Context, r io.Reader) (uint32, error)
}

const defaultBufferSize = 64 * 1024

// CRC32Provider implements Provider with the IEEE polynomial. Cancellation is
// observed between buffered reads, so a request is honored within one read's
// I/O latency.
type CRC32Provider struct {
	bufSize int
}

// NewCRC32Provider creates a provider with the default read buffer.
func NewCRC32Provider() *CRC32Provider {
	return &CRC32Provider{bufSize: defaultBufferSize}
}

func (p *CRC32Provider) File(ctx context.Context, path string) (uint32, error) {
	f, err := os.Open(path)
	if err != nil {
		return 0, fmt.Errorf("opening file for checksum: %w", err)
	}
	defer f.Close()

	return p.Sum(ctx, f)
}

func (p *CRC32Provider) Sum(ctx context.Context, r io.Reader) (uint32, error) {
	h := crc32.NewIEEE()
	buf := make([]byte, p.bufSize)

	for {
		if err := ctx.Err(); err != nil {
			return 0, err
		}
		n, err := r.Read(buf)
		if n > 0 {
			h.Write(buf[:n]) // hash.Hash.Write never fails
		}
		if err == io.EOF {
			return h.Sum32(), nil
		}
		if err != nil {
			return 0, fmt.Errorf("reading for checksum: %w", err)
		}
	}
}

var _ Provider = (*CRC32Provider)(nil)
