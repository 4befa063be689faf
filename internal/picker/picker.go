// Package picker selects a giveaway winner with probability proportional to
// each user's chance.
package picker

import (
	crand "crypto/rand"
	"encoding/binary"
	"errors"
	"math"
	"math/rand"
	"sort"
	"sync"
	"time"
)

// ErrWeightOverflow is returned when the summed chances do not fit in an int64.
var ErrWeightOverflow = errors.New("picker: total chance overflows int64")

// Source draws a uniform value in [0, n). *rand.Rand satisfies it.
type Source interface {
	Int63n(n int64) int64
}

// Picker performs weighted draws. It is safe for concurrent use; the
// underlying source is only touched under a lock.
type Picker struct {
	mu  sync.Mutex
	src Source
}

// New returns a Picker drawing from src. A nil src gets a crypto-seeded generator.
func New(src Source) *Picker {
	if src == nil {
		src = rand.New(rand.NewSource(newSeed()))
	}
	return &Picker{src: src}
}

// NewSeeded returns a Picker whose draws are reproducible for a given seed.
func NewSeeded(seed int64) *Picker {
	return New(rand.New(rand.NewSource(seed)))
}

func newSeed() int64 {
	var b [8]byte
	if _, err := crand.Read(b[:]); err != nil {
		return time.Now().UnixNano()
	}
	return int64(binary.LittleEndian.Uint64(b[:]))
}

// Pick returns one user id chosen with probability chance/total. Users are
// walked in ascending id order so a seeded source reproduces the same winner.
// Chances <= 0 never win; ok is false when users is empty or no chance is
// positive. users is not modified.
func (p *Picker) Pick(users map[int64]int64) (winner int64, ok bool, err error) {
	if len(users) == 0 {
		return 0, false, nil
	}

	ids := make([]int64, 0, len(users))
	var total int64
	for id, chance := range users {
		if chance <= 0 {
			continue
		}
		if total > math.MaxInt64-chance {
			return 0, false, ErrWeightOverflow
		}
		total += chance
		ids = append(ids, id)
	}
	if total == 0 {
		return 0, false, nil
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })

	p.mu.Lock()
	r := p.src.Int63n(total)
	p.mu.Unlock()

	var cumulative int64
	for _, id := range ids {
		cumulative += users[id]
		if cumulative > r {
			return id, true, nil
		}
	}
	// unreachable: r < total == cumulative after the loop
	return ids[len(ids)-1], true, nil
}
