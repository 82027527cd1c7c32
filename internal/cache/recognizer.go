package cache

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"

	"go.uber.org/zap"

	"github.com/raaihank/pii-sentinel/internal/privacy"
)

// Recognizer memoizes a privacy.Recognizer in a Store. Failed analyses are
// never cached so an analyzer outage does not outlive itself.
type Recognizer struct {
	next   privacy.Recognizer
	store  Store
	prefix string
	logger *zap.Logger
}

// NewRecognizer wraps next with store.
func NewRecognizer(next privacy.Recognizer, store Store, prefix string, logger *zap.Logger) *Recognizer {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Recognizer{next: next, store: store, prefix: prefix, logger: logger}
}

// Analyze implements privacy.Recognizer.
func (r *Recognizer) Analyze(ctx context.Context, req privacy.AnalyzeRequest) ([]privacy.RecognizerResult, error) {
	key := r.key(req)

	if results, ok := r.store.Lookup(ctx, key); ok {
		return results, nil
	}

	results, err := r.next.Analyze(ctx, req)
	if err != nil {
		return nil, err
	}

	if err := r.store.Save(ctx, key, results); err != nil {
		r.logger.Warn("Failed to cache analyzer results", zap.Error(err))
	}
	return results, nil
}

// key hashes everything that can change the analyzer's answer, so the text
// itself never appears in Redis.
func (r *Recognizer) key(req privacy.AnalyzeRequest) string {
	hasher := sha256.New()
	// Encoding a struct of strings and slices cannot fail.
	data, _ := json.Marshal(req)
	hasher.Write(data)

	return fmt.Sprintf("%s:analyze:%s", r.prefix, hex.EncodeToString(hasher.Sum(nil)))
}
