package signature

import (
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"time"
)

const localAlgorithm = "hmac-sha256"

// LocalAdapter signs payloads with an HMAC-SHA256 keyed digest. It stands
// in for a real signing service in development and tests; the engine treats
// its output the same as any other adapter's.
type LocalAdapter struct {
	key []byte
}

// NewLocalAdapter creates a local signer with the given key.
func NewLocalAdapter(key []byte) (*LocalAdapter, error) {
	if len(key) == 0 {
		return nil, fmt.Errorf("signature: local adapter requires a non-empty key")
	}
	return &LocalAdapter{key: key}, nil
}

// Sign produces an HMAC digest over the canonical payload encoding.
func (a *LocalAdapter) Sign(ctx context.Context, payload Payload) (Record, error) {
	if err := ctx.Err(); err != nil {
		return Record{}, err
	}

	canonical, err := payload.Canonical()
	if err != nil {
		return Record{}, fmt.Errorf("signature: encode payload: %w", err)
	}

	mac := hmac.New(sha256.New, a.key)
	mac.Write(canonical)

	return Record{
		SignatureID: hex.EncodeToString(mac.Sum(nil)),
		Algorithm:   localAlgorithm,
		Timestamp:   time.Now().UTC(),
	}, nil
}
