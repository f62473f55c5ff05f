package cryptocore

import (
	"bytes"
	"encoding/binary"
	"io"

	"axiomvault/vaulterr"
)

const (
	// StreamVersion is the leading version byte of the streaming codec.
	StreamVersion = 1
	// streamHeaderSize is version(1) + chunk_size(4) + total_chunks(8).
	streamHeaderSize = 1 + 4 + 8
	// DefaultChunkSize is the default chunk size used when none is requested.
	DefaultChunkSize = 64 * 1024
)

// EncryptStream encodes plaintext as:
//
//	version(1) || chunk_size(4,LE) || total_chunks(8,LE) ||
//	   repeat total_chunks times: encrypt(index(8,LE) || chunk_plaintext)
//
// Each chunk is encrypted independently under the random-nonce AEAD mode;
// the chunk index is folded into the plaintext so reordering or dropping
// chunks fails authentication. All chunks except the last carry exactly
// chunkSize plaintext bytes: the header has no
// total-plaintext-size field, so chunk boundaries on read must be derivable
// from chunk_size and total_chunks alone).
func EncryptStream(key []byte, r io.Reader, w io.Writer, chunkSize int) error {
	if chunkSize <= 0 {
		chunkSize = DefaultChunkSize
	}

	buf := make([]byte, chunkSize)
	var chunks [][]byte
	for {
		n, err := io.ReadFull(r, buf)
		if n > 0 {
			chunk := make([]byte, n)
			copy(chunk, buf[:n])
			chunks = append(chunks, chunk)
		}
		if err == io.ErrUnexpectedEOF || err == io.EOF {
			break
		}
		if err != nil {
			return vaulterr.IoWrap(err, "read plaintext")
		}
	}
	if len(chunks) == 0 {
		chunks = [][]byte{{}}
	}

	header := make([]byte, streamHeaderSize)
	header[0] = StreamVersion
	binary.LittleEndian.PutUint32(header[1:5], uint32(chunkSize))
	binary.LittleEndian.PutUint64(header[5:13], uint64(len(chunks)))
	if _, err := w.Write(header); err != nil {
		return vaulterr.IoWrap(err, "write stream header")
	}

	for index, chunk := range chunks {
		indexed := make([]byte, 8+len(chunk))
		binary.LittleEndian.PutUint64(indexed[:8], uint64(index))
		copy(indexed[8:], chunk)

		ciphertext, err := Encrypt(key, indexed)
		if err != nil {
			return err
		}
		if _, err := w.Write(ciphertext); err != nil {
			return vaulterr.IoWrap(err, "write stream chunk")
		}
	}
	return nil
}

// DecryptStream reverses EncryptStream. Any header mismatch, index
// mismatch, or tag failure aborts with a Crypto error.
func DecryptStream(key []byte, r io.Reader, w io.Writer) error {
	header := make([]byte, streamHeaderSize)
	if _, err := io.ReadFull(r, header); err != nil {
		return vaulterr.CryptoWrap(err, "read stream header")
	}
	if header[0] != StreamVersion {
		return vaulterr.Cryptof("unsupported stream version %d", header[0])
	}
	chunkSize := int(binary.LittleEndian.Uint32(header[1:5]))
	totalChunks := binary.LittleEndian.Uint64(header[5:13])
	if chunkSize <= 0 || totalChunks == 0 {
		return vaulterr.Cryptof("invalid stream header")
	}

	fullChunkCiphertextLen := NonceSize + chunkSize + 8 + TagSize

	var buf bytes.Buffer
	for index := uint64(0); index < totalChunks; index++ {
		var ciphertext []byte
		if index < totalChunks-1 {
			ciphertext = make([]byte, fullChunkCiphertextLen)
			if _, err := io.ReadFull(r, ciphertext); err != nil {
				return vaulterr.CryptoWrap(err, "read stream chunk %d", index)
			}
		} else {
			rest, err := io.ReadAll(r)
			if err != nil {
				return vaulterr.CryptoWrap(err, "read final stream chunk")
			}
			ciphertext = rest
		}

		indexed, err := Decrypt(key, ciphertext)
		if err != nil {
			return vaulterr.CryptoWrap(err, "decrypt chunk %d", index)
		}
		if len(indexed) < 8 {
			return vaulterr.Cryptof("chunk %d too short after decrypt", index)
		}
		gotIndex := binary.LittleEndian.Uint64(indexed[:8])
		if gotIndex != index {
			return vaulterr.Cryptof("chunk index mismatch: expected %d, got %d", index, gotIndex)
		}
		if _, err := buf.Write(indexed[8:]); err != nil {
			return vaulterr.IoWrap(err, "buffer chunk %d", index)
		}
	}

	if _, err := w.Write(buf.Bytes()); err != nil {
		return vaulterr.IoWrap(err, "write plaintext")
	}
	return nil
}
