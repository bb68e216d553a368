// Package tokenizer measures payload sizes in model tokens.
package tokenizer

import (
	"encoding/json"
	"log/slog"
	"sync"

	"github.com/pkoukk/tiktoken-go"
	tiktoken_loader "github.com/pkoukk/tiktoken-go-loader"
)

// DefaultEncoding is the BPE encoding used when none is configured.
const DefaultEncoding = "cl100k_base"

var setLoaderOnce sync.Once

// Counter implements usecase.TokenCounter. Payloads are serialized to JSON
// (map keys sorted) before encoding, so equal content always yields the same
// count. If the encoding cannot be loaded, Counter estimates four bytes per
// token.
type Counter struct {
	encoding string
	logger   *slog.Logger

	once sync.Once
	enc  *tiktoken.Tiktoken
}

// New creates a Counter for the named tiktoken encoding. An empty name
// selects DefaultEncoding.
func New(encoding string, logger *slog.Logger) *Counter {
	if encoding == "" {
		encoding = DefaultEncoding
	}
	return &Counter{
		encoding: encoding,
		logger:   logger.With("component", "token_counter"),
	}
}

// Count returns the token count of payload. Strings are counted verbatim;
// anything else is counted in its JSON form.
func (c *Counter) Count(payload any) int {
	text, ok := payload.(string)
	if !ok {
		raw, err := json.Marshal(payload)
		if err != nil {
			c.logger.Warn("Failed to serialize payload for token count", slog.Any("error", err))
			return 0
		}
		text = string(raw)
	}
	return c.CountText(text)
}

// CountText returns the token count of text.
func (c *Counter) CountText(text string) int {
	if text == "" {
		return 0
	}
	if enc := c.encoder(); enc != nil {
		return len(enc.Encode(text, nil, nil))
	}
	return (len(text) + 3) / 4
}

func (c *Counter) encoder() *tiktoken.Tiktoken {
	c.once.Do(func() {
		setLoaderOnce.Do(func() {
			tiktoken.SetBpeLoader(tiktoken_loader.NewOfflineLoader())
		})
		enc, err := tiktoken.GetEncoding(c.encoding)
		if err != nil {
			c.logger.Warn("Tokenizer unavailable, falling back to byte estimate",
				slog.String("encoding", c.encoding), slog.Any("error", err))
			return
		}
		c.enc = enc
	})
	return c.enc
}
