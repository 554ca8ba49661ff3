package api

import (
	"context"
	"fmt"

	"golang.org/x/crypto/bcrypt"
)

// KeyStore decides whether an API key may call the service.
type KeyStore interface {
	Verify(ctx context.Context, key string) bool
}

// HashedKeyStore accepts keys matching one of a fixed set of bcrypt hashes.
type HashedKeyStore struct {
	hashes [][]byte
}

func NewHashedKeyStore(hashes []string) (*HashedKeyStore, error) {
	s := &HashedKeyStore{hashes: make([][]byte, 0, len(hashes))}
	for i, h := range hashes {
		if _, err := bcrypt.Cost([]byte(h)); err != nil {
			return nil, fmt.Errorf("API key hash #%d: %w", i+1, err)
		}
		s.hashes = append(s.hashes, []byte(h))
	}
	return s, nil
}

func (s *HashedKeyStore) Verify(_ context.Context, key string) bool {
	if key == "" {
		return false
	}
	for _, h := range s.hashes {
		if bcrypt.CompareHashAndPassword(h, []byte(key)) == nil {
			return true
		}
	}
	return false
}
