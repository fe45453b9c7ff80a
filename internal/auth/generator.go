package auth

import (
	"crypto/rand"
	"encoding/base64"
	"encoding/binary"
	"fmt"
	"io"
)

// Character classes for generated passwords. Visually ambiguous characters
// (0 O 1 l I) are excluded.
const (
	upperChars  = "ABCDEFGHJKLMNPQRSTUVWXYZ"
	lowerChars  = "abcdefghijkmnopqrstuvwxyz"
	digitChars  = "23456789"
	symbolChars = "!@#$%^&*-_=+?"

	allChars = upperChars + lowerChars + digitChars + symbolChars

	MinGeneratedPasswordLength     = 12
	DefaultGeneratedPasswordLength = 16
	SecurityTokenBytes             = 32
)

// Generator produces temporary passwords and opaque tokens from an entropy source.
type Generator struct {
	entropy io.Reader
}

// NewGenerator returns a Generator reading from r, or crypto/rand when r is nil.
func NewGenerator(r io.Reader) *Generator {
	if r == nil {
		r = rand.Reader
	}
	return &Generator{entropy: r}
}

// Password returns a random password of the given length containing at least
// one upper, lower, digit and symbol character.
func (g *Generator) Password(length int) (string, error) {
	if length < MinGeneratedPasswordLength {
		length = MinGeneratedPasswordLength
	}

	out := make([]byte, 0, length)
	for _, class := range []string{upperChars, lowerChars, digitChars, symbolChars} {
		c, err := g.pick(class)
		if err != nil {
			return "", err
		}
		out = append(out, c)
	}
	for len(out) < length {
		c, err := g.pick(allChars)
		if err != nil {
			return "", err
		}
		out = append(out, c)
	}

	// Fisher-Yates so the guaranteed characters are not always first.
	for i := len(out) - 1; i > 0; i-- {
		j, err := g.intn(i + 1)
		if err != nil {
			return "", err
		}
		out[i], out[j] = out[j], out[i]
	}
	return string(out), nil
}

// Token returns n random bytes encoded as unpadded URL-safe base64.
func (g *Generator) Token(n int) (string, error) {
	buf := make([]byte, n)
	if _, err := io.ReadFull(g.entropy, buf); err != nil {
		return "", fmt.Errorf("read entropy: %w", err)
	}
	return base64.RawURLEncoding.EncodeToString(buf), nil
}

func (g *Generator) pick(charset string) (byte, error) {
	i, err := g.intn(len(charset))
	if err != nil {
		return 0, err
	}
	return charset[i], nil
}

// intn returns a uniform value in [0,n) by rejection sampling.
func (g *Generator) intn(n int) (int, error) {
	limit := ^uint32(0) - ^uint32(0)%uint32(n)
	var buf [4]byte
	for {
		if _, err := io.ReadFull(g.entropy, buf[:]); err != nil {
			return 0, fmt.Errorf("read entropy: %w", err)
		}
		v := binary.BigEndian.Uint32(buf[:])
		if v < limit {
			return int(v % uint32(n)), nil
		}
	}
}
