package cards

import (
	crand "crypto/rand"
	"encoding/binary"
	"fmt"
	"math/rand/v2"
	"sync"
)

// Rand — источник случайности для розыгрыша.
type Rand interface {
	Float64() float64
	IntN(n int) int
}

// lockedRand делает *rand.Rand безопасным для конкурентного использования.
type lockedRand struct {
	mu  sync.Mutex
	rnd *rand.Rand
}

func (r *lockedRand) Float64() float64 {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.rnd.Float64()
}

func (r *lockedRand) IntN(n int) int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.rnd.IntN(n)
}

// NewSeededRand создаёт детерминированный источник.
func NewSeededRand(seed uint64) Rand {
	return &lockedRand{rnd: rand.New(rand.NewPCG(seed, seed^0x9e3779b97f4a7c15))}
}

// NewCryptoSeededRand создаёт источник с зерном из crypto/rand.
func NewCryptoSeededRand() (Rand, error) {
	var b [8]byte
	if _, err := crand.Read(b[:]); err != nil {
		return nil, fmt.Errorf("чтение зерна: %w", err)
	}
	return NewSeededRand(binary.LittleEndian.Uint64(b[:])), nil
}
