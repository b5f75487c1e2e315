package codec

import (
	"strings"
	"sync"

	"golang.org/x/text/collate"
	"golang.org/x/text/language"
)

// CollatedString orders strings by the collation rules of a language rather
// than by bytes. The encoding is the String layout, which does NOT preserve
// this order, so stores must rely on the installed comparator.
//
// Strings that collate equal are ordered bytewise to keep Compare total. The
// zero value collates with the root locale.
type CollatedString struct {
	tag  language.Tag
	pool *sync.Pool
}

var rootCollators = &sync.Pool{
	New: func() any { return collate.New(language.Und) },
}

// NewCollatedString returns a codec ordering strings with the collation for
// tag. Options are passed to collate.New.
func NewCollatedString(tag language.Tag, opts ...collate.Option) CollatedString {
	return CollatedString{
		tag: tag,
		pool: &sync.Pool{
			New: func() any { return collate.New(tag, opts...) },
		},
	}
}

// Tag returns the collation language.
func (c CollatedString) Tag() language.Tag { return c.tag }

func (c CollatedString) Append(dst []byte, v string) []byte { return String{}.Append(dst, v) }

func (c CollatedString) Decode(src []byte) (string, []byte, error) { return String{}.Decode(src) }

// Compare is safe for concurrent use; collators are not, so each call
// borrows one from a pool.
func (c CollatedString) Compare(a, b string) int {
	pool := c.pool
	if pool == nil {
		pool = rootCollators
	}
	col := pool.Get().(*collate.Collator)
	r := col.CompareString(a, b)
	pool.Put(col)
	if r != 0 {
		return r
	}
	return strings.Compare(a, b)
}

func (c CollatedString) ByteOrdered() bool { return false }
