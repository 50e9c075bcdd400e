package archive

import (
	"fmt"
	"reflect"

	"github.com/fxamacker/cbor/v2"
	"github.com/klauspost/compress/zstd"
)

// Blob header bytes.
const (
	blobRaw  byte = 0x00
	blobZstd byte = 0x01
)

// Payloads shorter than this are stored raw; zstd framing would outweigh
// the savings.
const compressThreshold = 128

var (
	// encMode uses Core Deterministic Encoding so equal payloads always
	// produce identical bytes. Summary digests depend on that.
	encMode cbor.EncMode
	decMode cbor.DecMode

	zstdEncoder *zstd.Encoder
	zstdDecoder *zstd.Decoder
)

func init() {
	var err error
	encMode, err = cbor.CoreDetEncOptions().EncMode()
	if err != nil {
		panic("archive: CBOR encoder initialization failed: " + err.Error())
	}
	decMode, err = cbor.DecOptions{
		DefaultMapType: reflect.TypeOf(map[string]any(nil)),
	}.DecMode()
	if err != nil {
		panic("archive: CBOR decoder initialization failed: " + err.Error())
	}
	zstdEncoder, err = zstd.NewWriter(nil, zstd.WithEncoderLevel(zstd.SpeedDefault))
	if err != nil {
		panic("archive: zstd encoder initialization failed: " + err.Error())
	}
	zstdDecoder, err = zstd.NewReader(nil)
	if err != nil {
		panic("archive: zstd decoder initialization failed: " + err.Error())
	}
}

// valueWire is the CBOR shape of a Value.
type valueWire struct {
	Kind Kind    `cbor:"1,keyasint"`
	Num  float64 `cbor:"2,keyasint,omitempty"`
	Str  string  `cbor:"3,keyasint,omitempty"`
	Flag bool    `cbor:"4,keyasint,omitempty"`
	Map  State   `cbor:"5,keyasint,omitempty"`
	List []Value `cbor:"6,keyasint,omitempty"`
}

func (v Value) MarshalCBOR() ([]byte, error) {
	return encMode.Marshal(valueWire{
		Kind: v.kind,
		Num:  v.num,
		Str:  v.str,
		Flag: v.flag,
		Map:  v.m,
		List: v.list,
	})
}

func (v *Value) UnmarshalCBOR(data []byte) error {
	var w valueWire
	if err := decMode.Unmarshal(data, &w); err != nil {
		return err
	}
	if w.Kind == KindInvalid || w.Kind > KindList {
		return fmt.Errorf("unknown value kind %d", w.Kind)
	}
	*v = Value{kind: w.Kind, num: w.Num, str: w.Str, flag: w.Flag, m: w.Map, list: w.List}
	return nil
}

// EncodePayload serializes v as deterministic CBOR behind a one-byte
// header, zstd-compressing it when that pays off.
func EncodePayload(v any) ([]byte, error) {
	data, err := encMode.Marshal(v)
	if err != nil {
		return nil, fmt.Errorf("encode payload: %w", err)
	}
	if len(data) >= compressThreshold {
		compressed := zstdEncoder.EncodeAll(data, make([]byte, 1, len(data)/2+1))
		if len(compressed) < len(data)+1 {
			compressed[0] = blobZstd
			return compressed, nil
		}
	}
	out := make([]byte, 0, len(data)+1)
	out = append(out, blobRaw)
	return append(out, data...), nil
}

// DecodePayload reverses EncodePayload into v.
func DecodePayload(blob []byte, v any) error {
	if len(blob) == 0 {
		return Malformed("empty payload")
	}
	data := blob[1:]
	switch blob[0] {
	case blobRaw:
	case blobZstd:
		var err error
		data, err = zstdDecoder.DecodeAll(data, nil)
		if err != nil {
			return Malformed("zstd decompress: %v", err)
		}
	default:
		return Malformed("unknown payload header 0x%02x", blob[0])
	}
	if err := decMode.Unmarshal(data, v); err != nil {
		return Malformed("decode payload: %v", err)
	}
	return nil
}

// recordPayload is the persisted body of a raw turn record.
type recordPayload struct {
	State   State     `cbor:"1,keyasint,omitempty"`
	Set     State     `cbor:"2,keyasint,omitempty"`
	Removed []string  `cbor:"3,keyasint,omitempty"`
	Notes   TurnNotes `cbor:"4,keyasint"`
}

// EncodeRecord encodes the payload of r. Turn number and tier travel
// alongside the blob.
func EncodeRecord(r TurnRecord) ([]byte, error) {
	p := recordPayload{Notes: r.Notes}
	switch r.Tier {
	case TierCurrent:
		p.State = r.State
	case TierRecent:
		p.Set = r.Delta.Set
		p.Removed = r.Delta.Removed
	default:
		return nil, fmt.Errorf("encode record %d: raw records cannot be %s", r.Turn, r.Tier)
	}
	return EncodePayload(p)
}

func DecodeRecord(turn int, tier Tier, blob []byte) (TurnRecord, error) {
	var p recordPayload
	if err := DecodePayload(blob, &p); err != nil {
		return TurnRecord{}, fmt.Errorf("record %d: %w", turn, err)
	}
	r := TurnRecord{Turn: turn, Tier: tier, Notes: p.Notes}
	switch tier {
	case TierCurrent:
		r.State = p.State
		if r.State == nil {
			r.State = State{}
		}
	case TierRecent:
		r.Delta = Delta{Set: p.Set, Removed: p.Removed}
	default:
		return TurnRecord{}, Malformed("record %d has tier %s", turn, tier)
	}
	return r, nil
}
