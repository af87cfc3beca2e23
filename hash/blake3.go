package hash

import (
	"sort"
	"sync"

	cristalbase64 "github.com/cristalhq/base64"
	"github.com/glycerine/blake3"
)

// CapsHashName is advertised in presence so peers know how
// a capability version string was computed.
const CapsHashName = "blake3"

// Blake3 is a goroutine safe incremental hasher.
type Blake3 struct {
	mut    sync.Mutex
	hasher *blake3.Hasher
}

func NewBlake3() *Blake3 {
	return &Blake3{
		hasher: blake3.New(64, nil),
	}
}

func (b *Blake3) Write(by []byte) {
	b.mut.Lock()
	b.hasher.Write(by)
	b.mut.Unlock()
}

func (b *Blake3) Reset() {
	b.mut.Lock()
	b.hasher.Reset()
	b.mut.Unlock()
}

func (b *Blake3) SumString() string {
	b.mut.Lock()
	sum := b.hasher.Sum(nil)
	b.mut.Unlock()
	return "blake3.33B-" + cristalbase64.URLEncoding.EncodeToString(sum[:33])
}

// Blake3OfBytes creates a new hasher every time, so it
// is lock free.
func Blake3OfBytes(by []byte) []byte {
	h := blake3.New(64, nil)
	h.Write(by)
	return h.Sum(nil)
}

// Blake3OfBytesString returns a "blake3.33B-" prefixed string.
func Blake3OfBytesString(by []byte) string {
	sum := Blake3OfBytes(by)
	return "blake3.33B-" + cristalbase64.URLEncoding.EncodeToString(sum[:33])
}

// CapsVer computes the capability version string of a feature
// list: the hash of the sorted, de-duplicated features, each
// terminated by '<'. Peers with identical capabilities get
// identical strings whatever order they listed them in.
func CapsVer(features []string) string {
	fs := append([]string(nil), features...)
	sort.Strings(fs)
	h := NewBlake3()
	prev := ""
	for i, f := range fs {
		if i > 0 && f == prev {
			continue
		}
		prev = f
		h.Write([]byte(f + "<"))
	}
	return h.SumString()
}
