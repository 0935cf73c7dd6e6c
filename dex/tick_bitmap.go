// Copyright (C) 2025, Lux Industries Inc. All rights reserved.
// See the file LICENSE for licensing terms.

package dex

import (
	"fmt"
	"math/bits"
)

// =============================================================================
// Tick Bitmap for Concentrated Liquidity
// =============================================================================

// TickBitmap tracks which ticks are initialized using a compressed bitmap.
// Ticks are compressed by the pool's spacing; each word stores 256 compressed
// ticks as [4]uint64. Not safe for concurrent use; pools are mutated only
// inside a session.
type TickBitmap struct {
	words map[int16][4]uint64
}

// NewTickBitmap creates an empty tick bitmap.
func NewTickBitmap() *TickBitmap {
	return &TickBitmap{words: make(map[int16][4]uint64)}
}

func (tb *TickBitmap) clone() *TickBitmap {
	out := &TickBitmap{words: make(map[int16][4]uint64, len(tb.words))}
	for wp, w := range tb.words {
		out.words[wp] = w
	}
	return out
}

// wordPos returns the word position for a compressed tick. Arithmetic shift
// rounds toward negative infinity for either sign.
func wordPos(compressed int32) int16 {
	return int16(compressed >> 8)
}

// bitPos returns the bit position within a word (0-255).
func bitPos(compressed int32) uint16 {
	return uint16(compressed & 0xFF)
}

// compress rounds tick/spacing toward negative infinity.
func compress(tick, tickSpacing int32) int32 {
	c := tick / tickSpacing
	if tick < 0 && tick%tickSpacing != 0 {
		c--
	}
	return c
}

// FlipTick toggles the tick's initialized state. The tick must lie on a
// spacing boundary.
func (tb *TickBitmap) FlipTick(tick, tickSpacing int32) error {
	if tick%tickSpacing != 0 {
		return fmt.Errorf("%w: tick %d spacing %d", ErrTickNotOnSpacing, tick, tickSpacing)
	}
	compressed := tick / tickSpacing

	wp := wordPos(compressed)
	bp := bitPos(compressed)

	word := tb.words[wp]
	word[bp/64] ^= 1 << (bp % 64)
	if word == ([4]uint64{}) {
		delete(tb.words, wp)
	} else {
		tb.words[wp] = word
	}
	return nil
}

// IsInitialized reports whether a tick has its bit set.
func (tb *TickBitmap) IsInitialized(tick, tickSpacing int32) bool {
	if tick%tickSpacing != 0 {
		return false
	}
	compressed := tick / tickSpacing

	wp := wordPos(compressed)
	bp := bitPos(compressed)
	word := tb.words[wp]
	return word[bp/64]&(1<<(bp%64)) != 0
}

// NextInitializedTickWithinOneWord finds the next initialized tick within the
// same 256-tick word, searching left (at or below tick) when lte is true and
// strictly right otherwise. When no bit is set in the searched span it
// returns the span's boundary tick with initialized=false, so a swap loop
// advances at most one word per call.
func (tb *TickBitmap) NextInitializedTickWithinOneWord(tick, tickSpacing int32, lte bool) (int32, bool) {
	compressed := compress(tick, tickSpacing)

	if lte {
		wp := wordPos(compressed)
		bp := bitPos(compressed)
		word := tb.words[wp]

		// Scan bits at or below bp, highest first.
		for sub := int(bp / 64); sub >= 0; sub-- {
			w := word[sub]
			if sub == int(bp/64) {
				rem := bp % 64
				if rem < 63 {
					w &= (uint64(1) << (rem + 1)) - 1
				}
			}
			if w != 0 {
				high := 63 - bits.LeadingZeros64(w)
				found := int32(wp)*256 + int32(sub)*64 + int32(high)
				return found * tickSpacing, true
			}
		}
		// Word boundary: lowest tick in this word.
		return int32(wp) * 256 * tickSpacing, false
	}

	// Search strictly above tick.
	start := compressed + 1
	wp := wordPos(start)
	bp := bitPos(start)
	word := tb.words[wp]

	for sub := int(bp / 64); sub < 4; sub++ {
		w := word[sub]
		if sub == int(bp/64) {
			w &= ^((uint64(1) << (bp % 64)) - 1)
		}
		if w != 0 {
			low := bits.TrailingZeros64(w)
			found := int32(wp)*256 + int32(sub)*64 + int32(low)
			return found * tickSpacing, true
		}
	}
	// Word boundary: highest tick in this word.
	return (int32(wp)*256 + 255) * tickSpacing, false
}
