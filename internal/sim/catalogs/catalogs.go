package catalogs

import (
	"crypto/sha256"
	"embed"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
)

// MaxSlots bounds every catalog so slot state fits a fixed array per search
// node. The default transform catalog uses 46.
const MaxSlots = 48

// MaxTome is the largest number of learnables that can be offered at once
// (tome index and tax share a 4-bit field).
const MaxTome = 16

var ErrUnknownDelta = errors.New("unknown delta")

//go:embed defaults/*.json
var defaultFS embed.FS

type Kind string

const (
	KindTransform Kind = "transform"
	KindLearnable Kind = "learnable"
	KindBrew      Kind = "brew"
)

// Delta is a signed change to the four ingredient tiers.
type Delta [4]int8

type Def struct {
	ID         string `json:"id"`
	Delta      Delta  `json:"delta"`
	Price      int    `json:"price,omitempty"`
	Repeatable bool   `json:"repeatable,omitempty"`
}

type Catalog struct {
	Kind   Kind
	Defs   []Def
	Index  map[Delta]int
	Digest string
}

func (c *Catalog) Len() int { return len(c.Defs) }

// Lookup returns the slot for a delta.
func (c *Catalog) Lookup(d Delta) (int, error) {
	i, ok := c.Index[d]
	if !ok {
		return -1, fmt.Errorf("%s %v: %w", c.Kind, d, ErrUnknownDelta)
	}
	return i, nil
}

// Catalogs holds the three closed action catalogs.
//
// Learnable slot i and transform slot i describe the same transform: learning
// slot i makes transform slot i castable. Transforms past the learnables are
// the base transforms every player starts with.
type Catalogs struct {
	Transforms Catalog
	Learnables Catalog
	Brews      Catalog
}

// Slots is the number of slot entries a search node needs.
func (c *Catalogs) Slots() int {
	n := c.Transforms.Len()
	if b := c.Brews.Len(); b > n {
		n = b
	}
	return n
}

// Digest identifies the full catalog set.
func (c *Catalogs) Digest() string {
	return sha256Hex([]byte(c.Transforms.Digest + c.Brews.Digest))
}

// New builds catalogs from definitions. Transforms are the learnables followed
// by the base transforms.
func New(learnables, bases, brews []Def) (*Catalogs, error) {
	var c Catalogs
	transforms := make([]Def, 0, len(learnables)+len(bases))
	transforms = append(transforms, learnables...)
	transforms = append(transforms, bases...)

	if err := build(&c.Learnables, KindLearnable, learnables, canonicalDigest(learnables)); err != nil {
		return nil, err
	}
	if err := build(&c.Transforms, KindTransform, transforms, canonicalDigest(transforms)); err != nil {
		return nil, err
	}
	if err := build(&c.Brews, KindBrew, brews, canonicalDigest(brews)); err != nil {
		return nil, err
	}
	return &c, nil
}

// LoadDefault returns the catalogs compiled into the binary.
func LoadDefault() (*Catalogs, error) {
	return load(func(name string) ([]byte, error) {
		return defaultFS.ReadFile("defaults/" + name)
	})
}

// Load reads learnables.json, bases.json and brews.json from dir.
func Load(dir string) (*Catalogs, error) {
	return load(func(name string) ([]byte, error) {
		return os.ReadFile(filepath.Join(dir, name))
	})
}

func load(read func(name string) ([]byte, error)) (*Catalogs, error) {
	learnRaw, learnables, err := readDefs(read, "learnables.json")
	if err != nil {
		return nil, err
	}
	baseRaw, bases, err := readDefs(read, "bases.json")
	if err != nil {
		return nil, err
	}
	brewRaw, brews, err := readDefs(read, "brews.json")
	if err != nil {
		return nil, err
	}
	c, err := New(learnables, bases, brews)
	if err != nil {
		return nil, err
	}
	c.Learnables.Digest = sha256Hex(learnRaw)
	c.Transforms.Digest = sha256Hex(append(append([]byte{}, learnRaw...), baseRaw...))
	c.Brews.Digest = sha256Hex(brewRaw)
	return c, nil
}

func readDefs(read func(string) ([]byte, error), name string) ([]byte, []Def, error) {
	raw, err := read(name)
	if err != nil {
		return nil, nil, err
	}
	var defs []Def
	if err := json.Unmarshal(raw, &defs); err != nil {
		return nil, nil, fmt.Errorf("%s: %w", name, err)
	}
	return raw, defs, nil
}

func build(out *Catalog, kind Kind, defs []Def, digest string) error {
	if len(defs) > MaxSlots {
		return fmt.Errorf("%s: %d entries exceeds %d slots", kind, len(defs), MaxSlots)
	}
	out.Kind = kind
	out.Defs = defs
	out.Index = make(map[Delta]int, len(defs))
	out.Digest = digest
	for i, d := range defs {
		if d.ID == "" {
			return fmt.Errorf("%s: empty id at slot %d", kind, i)
		}
		if prev, dup := out.Index[d.Delta]; dup {
			return fmt.Errorf("%s: %s duplicates delta of %s", kind, d.ID, defs[prev].ID)
		}
		if kind == KindBrew && d.Price <= 0 {
			return fmt.Errorf("%s: %s has no price", kind, d.ID)
		}
		out.Index[d.Delta] = i
	}
	return nil
}

func canonicalDigest(defs []Def) string {
	b, _ := json.Marshal(defs)
	return sha256Hex(b)
}

func sha256Hex(b []byte) string {
	h := sha256.Sum256(b)
	return hex.EncodeToString(h[:])
}
