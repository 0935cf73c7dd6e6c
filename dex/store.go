// Copyright (C) 2025, Lux Industries Inc. All rights reserved.
// See the file LICENSE for licensing terms.

package dex

import (
	"bytes"
	"encoding/binary"
	"fmt"
	"io"
	"math/big"

	"github.com/luxfi/database"
	"github.com/luxfi/geth/common"
)

// poolStore persists committed pool state. Records are keyed by pool id
// under a fixed prefix and use a versioned length-prefixed binary layout.
type poolStore struct {
	db database.Database
}

var poolKeyPrefix = []byte("pool/")

const poolRecordVersion byte = 1

func newPoolStore(db database.Database) *poolStore {
	return &poolStore{db: db}
}

func (s *poolStore) recordKey(id PoolId) []byte {
	return append(append([]byte{}, poolKeyPrefix...), id[:]...)
}

// Save writes the pool's full state.
func (s *poolStore) Save(p *Pool) error {
	id := p.Key().ID()
	return s.db.Put(s.recordKey(id), encodePool(p))
}

// Load reads one pool by id.
func (s *poolStore) Load(id PoolId) (*Pool, error) {
	raw, err := s.db.Get(s.recordKey(id))
	if err != nil {
		return nil, err
	}
	return decodePool(raw)
}

// LoadAll reads every persisted pool.
func (s *poolStore) LoadAll() ([]*Pool, error) {
	it := s.db.NewIteratorWithPrefix(poolKeyPrefix)
	defer it.Release()

	var pools []*Pool
	for it.Next() {
		p, err := decodePool(it.Value())
		if err != nil {
			return nil, fmt.Errorf("record %x: %w", it.Key(), err)
		}
		pools = append(pools, p)
	}
	if err := it.Error(); err != nil {
		return nil, err
	}
	return pools, nil
}

// Delete removes a pool record.
func (s *poolStore) Delete(id PoolId) error {
	return s.db.Delete(s.recordKey(id))
}

// =============================================================================
// Codec
// =============================================================================

func writeBig(buf *bytes.Buffer, v *big.Int) {
	sign := byte(0)
	switch v.Sign() {
	case 1:
		sign = 1
	case -1:
		sign = 2
	}
	buf.WriteByte(sign)
	b := v.Bytes()
	var n [2]byte
	binary.BigEndian.PutUint16(n[:], uint16(len(b)))
	buf.Write(n[:])
	buf.Write(b)
}

func readBig(r *bytes.Reader) (*big.Int, error) {
	sign, err := r.ReadByte()
	if err != nil {
		return nil, err
	}
	var n [2]byte
	if _, err := io.ReadFull(r, n[:]); err != nil {
		return nil, err
	}
	b := make([]byte, binary.BigEndian.Uint16(n[:]))
	if _, err := io.ReadFull(r, b); err != nil {
		return nil, err
	}
	v := new(big.Int).SetBytes(b)
	if sign == 2 {
		v.Neg(v)
	}
	return v, nil
}

func writeUint32(buf *bytes.Buffer, v uint32) {
	var b [4]byte
	binary.BigEndian.PutUint32(b[:], v)
	buf.Write(b[:])
}

func readUint32(r *bytes.Reader) (uint32, error) {
	var b [4]byte
	if _, err := io.ReadFull(r, b[:]); err != nil {
		return 0, err
	}
	return binary.BigEndian.Uint32(b[:]), nil
}

func encodePool(p *Pool) []byte {
	buf := new(bytes.Buffer)
	buf.WriteByte(poolRecordVersion)

	key := p.Key()
	buf.Write(key.Currency0.ToBytes())
	buf.Write(key.Currency1.ToBytes())
	writeUint32(buf, key.Fee)
	writeUint32(buf, uint32(key.TickSpacing))
	buf.Write(key.Hooks.Bytes())

	slot := p.Slot0()
	writeBig(buf, slot.SqrtPriceX96())
	writeUint32(buf, uint32(slot.Tick()))
	writeUint32(buf, uint32(slot.ProtocolFee()))
	writeUint32(buf, slot.LPFee())

	writeBig(buf, p.liquidity)
	writeBig(buf, p.feeGrowthGlobal0X128)
	writeBig(buf, p.feeGrowthGlobal1X128)
	writeBig(buf, p.protocolFeesAccrued0)
	writeBig(buf, p.protocolFeesAccrued1)

	writeUint32(buf, uint32(len(p.ticks)))
	for tick, info := range p.ticks {
		writeUint32(buf, uint32(tick))
		writeBig(buf, info.LiquidityGross)
		writeBig(buf, info.LiquidityNet)
		writeBig(buf, info.FeeGrowthOutside0X128)
		writeBig(buf, info.FeeGrowthOutside1X128)
	}

	writeUint32(buf, uint32(len(p.positions)))
	for posKey, pos := range p.positions {
		buf.Write(posKey[:])
		writeBig(buf, pos.Liquidity)
		writeBig(buf, pos.FeeGrowthInside0LastX128)
		writeBig(buf, pos.FeeGrowthInside1LastX128)
	}

	return buf.Bytes()
}

func decodePool(raw []byte) (*Pool, error) {
	r := bytes.NewReader(raw)

	version, err := r.ReadByte()
	if err != nil {
		return nil, err
	}
	if version != poolRecordVersion {
		return nil, fmt.Errorf("unknown pool record version %d", version)
	}

	var addr [common.AddressLength]byte
	readAddress := func() (common.Address, error) {
		if _, err := io.ReadFull(r, addr[:]); err != nil {
			return common.Address{}, err
		}
		return common.Address(addr), nil
	}

	var key PoolKey
	c0, err := readAddress()
	if err != nil {
		return nil, err
	}
	c1, err := readAddress()
	if err != nil {
		return nil, err
	}
	key.Currency0 = Currency{Address: c0}
	key.Currency1 = Currency{Address: c1}
	if key.Fee, err = readUint32(r); err != nil {
		return nil, err
	}
	spacing, err := readUint32(r)
	if err != nil {
		return nil, err
	}
	key.TickSpacing = int32(spacing)
	if key.Hooks, err = readAddress(); err != nil {
		return nil, err
	}

	sqrtPrice, err := readBig(r)
	if err != nil {
		return nil, err
	}
	tickU, err := readUint32(r)
	if err != nil {
		return nil, err
	}
	protoFee, err := readUint32(r)
	if err != nil {
		return nil, err
	}
	lpFee, err := readUint32(r)
	if err != nil {
		return nil, err
	}

	p := &Pool{
		key:                 key,
		slot0:               NewSlot0(sqrtPrice, int32(tickU), ProtocolFee(protoFee), lpFee),
		ticks:               make(map[int32]*TickInfo),
		bitmap:              NewTickBitmap(),
		positions:           make(map[[32]byte]*Position),
		maxLiquidityPerTick: MaxLiquidityPerTick(key.TickSpacing),
	}

	if p.liquidity, err = readBig(r); err != nil {
		return nil, err
	}
	if p.feeGrowthGlobal0X128, err = readBig(r); err != nil {
		return nil, err
	}
	if p.feeGrowthGlobal1X128, err = readBig(r); err != nil {
		return nil, err
	}
	if p.protocolFeesAccrued0, err = readBig(r); err != nil {
		return nil, err
	}
	if p.protocolFeesAccrued1, err = readBig(r); err != nil {
		return nil, err
	}

	tickCount, err := readUint32(r)
	if err != nil {
		return nil, err
	}
	for i := uint32(0); i < tickCount; i++ {
		tickU, err := readUint32(r)
		if err != nil {
			return nil, err
		}
		tick := int32(tickU)
		info := newTickInfo()
		if info.LiquidityGross, err = readBig(r); err != nil {
			return nil, err
		}
		if info.LiquidityNet, err = readBig(r); err != nil {
			return nil, err
		}
		if info.FeeGrowthOutside0X128, err = readBig(r); err != nil {
			return nil, err
		}
		if info.FeeGrowthOutside1X128, err = readBig(r); err != nil {
			return nil, err
		}
		p.ticks[tick] = info
		if info.LiquidityGross.Sign() > 0 {
			if err := p.bitmap.FlipTick(tick, key.TickSpacing); err != nil {
				return nil, err
			}
		}
	}

	posCount, err := readUint32(r)
	if err != nil {
		return nil, err
	}
	for i := uint32(0); i < posCount; i++ {
		var posKey [32]byte
		if _, err := io.ReadFull(r, posKey[:]); err != nil {
			return nil, err
		}
		pos := newPosition()
		if pos.Liquidity, err = readBig(r); err != nil {
			return nil, err
		}
		if pos.FeeGrowthInside0LastX128, err = readBig(r); err != nil {
			return nil, err
		}
		if pos.FeeGrowthInside1LastX128, err = readBig(r); err != nil {
			return nil, err
		}
		p.positions[posKey] = pos
	}

	if r.Len() != 0 {
		return nil, fmt.Errorf("trailing bytes in pool record")
	}
	return p, nil
}
