package captions

import (
	"errors"
	"math/rand/v2"
	"strings"
)

// ErrEmptyCatalog is returned when there is nothing to pick from.
var ErrEmptyCatalog = errors.New("caption catalog is empty")

// Picker chooses one caption per run, uniformly at random.
type Picker struct {
	catalog []string
	prefix  string
	rnd     *rand.Rand
}

// NewPicker copies catalog. A nil src uses a randomly seeded PCG source.
func NewPicker(catalog []string, prefix string, src rand.Source) *Picker {
	if src == nil {
		src = rand.NewPCG(rand.Uint64(), rand.Uint64())
	}
	return &Picker{
		catalog: append([]string(nil), catalog...),
		prefix:  strings.TrimSpace(prefix),
		rnd:     rand.New(src),
	}
}

// Pick returns a caption, prefixed when a prefix is configured.
func (p *Picker) Pick() (string, error) {
	if len(p.catalog) == 0 {
		return "", ErrEmptyCatalog
	}
	c := p.catalog[p.rnd.IntN(len(p.catalog))]
	if p.prefix != "" {
		c = p.prefix + " " + c
	}
	return c, nil
}

// Len is the catalog size.
func (p *Picker) Len() int {
	return len(p.catalog)
}
