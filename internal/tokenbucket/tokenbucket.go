// Package tokenbucket implements the fixed-rate admission control the
// accounts client uses before sending a request upstream: a burst capacity
// refilled at a constant per-second rate.
package tokenbucket

import (
	"sync"
	"time"

	"github.com/GoogleCloudPlatform/compute-accounts-proxy/internal/lookuperr"
)

// Clock abstracts time.Now so tests can drive the bucket deterministically
// without sleeping.
type Clock interface {
	Now() time.Time
}

// systemClock is the production Clock, backed by time.Now.
type systemClock struct{}

func (systemClock) Now() time.Time { return time.Now() }

// Bucket rate-limits a recurring operation to bucketSize burst capacity at
// one token per tokenCreationSec. It is safe for concurrent use.
type Bucket struct {
	mu           sync.Mutex
	clock        Clock
	capacity     float64
	fillRatePerS float64
	currentLevel float64
	lastFillTime time.Time
}

// New creates a Bucket with the given burst size and token creation
// period. bucketSize must be >= 1 and tokenCreationSec must be > 0.
func New(bucketSize int, tokenCreationSec float64) *Bucket {
	return NewWithClock(bucketSize, tokenCreationSec, systemClock{})
}

// NewWithClock is New with an injectable Clock, for tests.
func NewWithClock(bucketSize int, tokenCreationSec float64, clock Clock) *Bucket {
	if bucketSize < 1 {
		panic("tokenbucket: bucketSize must be >= 1")
	}
	if tokenCreationSec <= 0 {
		panic("tokenbucket: tokenCreationSec must be > 0")
	}
	capacity := float64(bucketSize)
	return &Bucket{
		clock:        clock,
		capacity:     capacity,
		fillRatePerS: 1.0 / tokenCreationSec,
		currentLevel: capacity,
		lastFillTime: clock.Now(),
	}
}

// Consume takes one token from the bucket, refilling it first based on
// elapsed time. It returns a lookuperr.Error of Kind OutOfQuota, carrying
// the number of seconds until a token becomes available, when the bucket
// is empty.
func (b *Bucket) Consume() error {
	b.mu.Lock()
	defer b.mu.Unlock()

	// levelEpsilon absorbs floating-point rounding in the refill
	// arithmetic, so a level that has refilled to exactly one token (but
	// reads as 0.999...) still grants it.
	const levelEpsilon = 1e-9

	b.fill()
	if b.currentLevel < 1-levelEpsilon {
		secondsToToken := (1 - b.currentLevel) / b.fillRatePerS
		return lookuperr.OutOfQuotaf(secondsToToken,
			"no quota available for %.3f seconds", secondsToToken)
	}
	b.currentLevel--
	return nil
}

// fill advances currentLevel by the tokens created since lastFillTime.
// Backward clock movement is treated as skew and discarded: the level is
// left unchanged, but lastFillTime still advances to the new reading so a
// single skewed sample cannot be replayed to over-fill the bucket.
func (b *Bucket) fill() {
	now := b.clock.Now()
	deltaSec := now.Sub(b.lastFillTime).Seconds()
	if deltaSec > 0 {
		newLevel := b.currentLevel + b.fillRatePerS*deltaSec
		if newLevel > b.capacity {
			newLevel = b.capacity
		}
		b.currentLevel = newLevel
	}
	b.lastFillTime = now
}
