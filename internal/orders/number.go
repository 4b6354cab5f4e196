package orders

import (
	"strings"
	"time"

	"github.com/oklog/ulid/v2"
)

const (
	DefaultNumberPrefix   = "ORD"
	DefaultNumberTokenLen = 5
)

// NumberGenerator mints PREFIX-YYYYMMDD-TOKEN. Numbers are not unique by
// construction; the orders.order_number constraint is the source of truth.
type NumberGenerator struct {
	Prefix   string
	TokenLen int
	Clock    func() time.Time
	// Token returns a random upper-case Crockford base32 string. Defaults to
	// the random part of a fresh ULID.
	Token func() string
}

func NewNumberGenerator(prefix string, tokenLen int) *NumberGenerator {
	return &NumberGenerator{Prefix: prefix, TokenLen: tokenLen}
}

func (g *NumberGenerator) Mint() string {
	prefix := g.Prefix
	if prefix == "" {
		prefix = DefaultNumberPrefix
	}
	n := g.TokenLen
	if n <= 0 {
		n = DefaultNumberTokenLen
	}
	now := time.Now
	if g.Clock != nil {
		now = g.Clock
	}
	tok := ulidToken
	if g.Token != nil {
		tok = g.Token
	}

	t := tok()
	for len(t) < n {
		more := tok()
		if more == "" {
			break
		}
		t += more
	}
	if len(t) > n {
		t = t[len(t)-n:]
	}
	return prefix + "-" + now().UTC().Format("20060102") + "-" + strings.ToUpper(t)
}

// ulidToken returns the 16 random characters of a ULID.
func ulidToken() string {
	return ulid.Make().String()[10:]
}
