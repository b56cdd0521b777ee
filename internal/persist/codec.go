package persist

import (
	"fmt"

	"github.com/klauspost/compress/s2"
	"github.com/klauspost/compress/zstd"
)

// Codec transforms the JSON form of a unit before it hits the disk.
type Codec interface {
	Encode(data []byte) ([]byte, error)
	Decode(data []byte) ([]byte, error)
	Extension() string
}

type plain struct{}

// Plain stores units as uncompressed JSON.
func Plain() Codec { return plain{} }

func (plain) Encode(data []byte) ([]byte, error) { return data, nil }
func (plain) Decode(data []byte) ([]byte, error) { return data, nil }
func (plain) Extension() string                  { return ".json" }

type s2c struct{}

// S2 compresses units with S2 (improved Snappy). Fast, modest ratio.
func S2() Codec { return s2c{} }

func (s2c) Encode(data []byte) ([]byte, error) { return s2.Encode(nil, data), nil }
func (s2c) Decode(data []byte) ([]byte, error) { return s2.Decode(nil, data) }
func (s2c) Extension() string                  { return ".json.s2" }

type zstdc struct {
	enc *zstd.Encoder
	dec *zstd.Decoder
}

// Zstd compresses units with Zstandard at the default speed.
func Zstd() Codec {
	enc, _ := zstd.NewWriter(nil, zstd.WithEncoderLevel(zstd.SpeedDefault)) //nolint:errcheck // options are valid
	dec, _ := zstd.NewReader(nil)                                            //nolint:errcheck // options are valid
	return &zstdc{enc: enc, dec: dec}
}

func (z *zstdc) Encode(data []byte) ([]byte, error) { return z.enc.EncodeAll(data, nil), nil }
func (z *zstdc) Decode(data []byte) ([]byte, error) { return z.dec.DecodeAll(data, nil) }
func (*zstdc) Extension() string                    { return ".json.zst" }

// CodecByName maps the compression config value to a Codec.
func CodecByName(name string) (Codec, error) {
	switch name {
	case "", "none":
		return Plain(), nil
	case "s2":
		return S2(), nil
	case "zstd":
		return Zstd(), nil
	default:
		return nil, fmt.Errorf("unknown compression %q (must be none, s2 or zstd)", name)
	}
}
