package parser

import (
	"bytes"
	"compress/gzip"
	"io"

	"github.com/andybalholm/brotli"
)

// DecompressBody detects and decompresses a response body compressed with
// gzip or Brotli, returning the decompressed bytes without modifying the
// input. Some CDNs compress even when the client never asked for it, so
// detection goes by magic bytes first and the Content-Encoding header second.
//
// Returns:
//   - []byte: the decompressed body (or the input unchanged)
//   - bool: true if decompression was performed
//   - error: any error encountered during decompression
func DecompressBody(body []byte, contentEncoding string) ([]byte, bool, error) {
	if len(body) == 0 {
		return body, false, nil
	}

	// gzip magic bytes: 1f 8b
	if len(body) >= 2 && body[0] == 0x1f && body[1] == 0x8b {
		reader, err := gzip.NewReader(bytes.NewReader(body))
		if err != nil {
			return nil, false, err
		}
		defer reader.Close()

		decompressed, err := io.ReadAll(reader)
		if err != nil {
			return nil, false, err
		}
		return decompressed, true, nil
	}

	// Brotli has no magic bytes; trust the header, then try a heuristic range.
	if contentEncoding == "br" || (body[0] >= 0x80 && body[0] <= 0x8f) {
		reader := brotli.NewReader(bytes.NewReader(body))
		decompressed, err := io.ReadAll(reader)
		if err != nil {
			// Not Brotli or corrupted
			return body, false, nil
		}
		return decompressed, true, nil
	}

	return body, false, nil
}
