package obsrpc

import (
	cryrand "crypto/rand"
	mathrand2 "math/rand/v2"
	"sync"

	cristalbase64 "github.com/cristalhq/base64"
)

var chacha8randMut sync.Mutex
var chacha8rand *mathrand2.ChaCha8 = newCryrandSeededChaCha8()

func newCryrandSeededChaCha8() *mathrand2.ChaCha8 {
	var seed [32]byte
	_, err := cryrand.Read(seed[:])
	panicOn(err)
	return mathrand2.NewChaCha8(seed)
}

// NewCallID returns a fresh correlation id for a remote call.
// Ids are pseudo-random, not cryptographically so; 21 bytes
// make a collision among pending calls implausible.
func NewCallID() (cid string) {
	var pseudo [21]byte
	chacha8randMut.Lock()
	chacha8rand.Read(pseudo[:])
	chacha8randMut.Unlock()
	cid = cristalbase64.URLEncoding.EncodeToString(pseudo[:])
	return
}

// NewCryRandSuffix is crypto-random, for module names
// that must not collide with anyone else's.
func NewCryRandSuffix() (cid string) {
	var random [12]byte
	cryrand.Read(random[:])
	cid = cristalbase64.URLEncoding.EncodeToString(random[:])
	return
}
