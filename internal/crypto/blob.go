package crypto

import (
	"errors"
	"fmt"
)

// Stored field layout: version byte, then nonce, then the 16-byte Poly1305
// tag, then the ciphertext. Values written before encryption was enabled
// carry none of this framing; IsSealedBlob lets callers tell the two apart.
const blobVersionV1 = 0x01

const minBlobLen = 1 + NonceSize + TagSize

var ErrMalformedBlob = errors.New("malformed encrypted blob")

// PackBlob frames the output of SealXChaCha20Poly1305 for storage. sealed is
// ciphertext with the tag appended, as the AEAD produces it.
func PackBlob(nonce, sealed []byte) ([]byte, error) {
	if len(nonce) != NonceSize {
		return nil, fmt.Errorf("%w: nonce must be %d bytes", ErrMalformedBlob, NonceSize)
	}
	if len(sealed) < TagSize {
		return nil, fmt.Errorf("%w: sealed payload shorter than tag", ErrMalformedBlob)
	}

	ciphertext := sealed[:len(sealed)-TagSize]
	tag := sealed[len(sealed)-TagSize:]

	out := make([]byte, 0, 1+NonceSize+TagSize+len(ciphertext))
	out = append(out, blobVersionV1)
	out = append(out, nonce...)
	out = append(out, tag...)
	out = append(out, ciphertext...)
	return out, nil
}

// UnpackBlob reverses PackBlob, returning the nonce and the tag-appended
// sealed payload expected by OpenXChaCha20Poly1305.
func UnpackBlob(blob []byte) (nonce, sealed []byte, err error) {
	if !IsSealedBlob(blob) {
		return nil, nil, fmt.Errorf("%w: missing v1 framing", ErrMalformedBlob)
	}

	nonce = blob[1 : 1+NonceSize]
	tag := blob[1+NonceSize : 1+NonceSize+TagSize]
	ciphertext := blob[1+NonceSize+TagSize:]

	sealed = make([]byte, 0, len(ciphertext)+TagSize)
	sealed = append(sealed, ciphertext...)
	sealed = append(sealed, tag...)
	return nonce, sealed, nil
}

// IsSealedBlob reports whether raw carries the v1 framing. Legacy plaintext
// rows fail this check and are passed through undecrypted.
func IsSealedBlob(raw []byte) bool {
	return len(raw) >= minBlobLen && raw[0] == blobVersionV1
}
