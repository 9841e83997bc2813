// Copyright (C) 2025 CardinalHQ, Inc
//
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as
// published by the Free Software Foundation, version 3.
//
// This program is distributed in the hope that it will be useful,
// but WITHOUT ANY WARRANTY; without even the implied warranty of
// MERCHANTABILITY or FITNESS FOR A PARTICULAR PURPOSE. See the
// GNU Affero General Public License for more details.
//
// You should have received a copy of the GNU Affero General Public License
// along with this program. If not, see <http://www.gnu.org/licenses/>.

package recstore

import (
	"fmt"
	"sync"

	"github.com/klauspost/compress/zstd"
	"github.com/pierrec/lz4/v4"
)

// Codec names the per-segment compression of a run file.
type Codec string

const (
	CodecNone Codec = "none"
	CodecZstd Codec = "zstd"
	CodecLZ4  Codec = "lz4"
)

// ParseCodec accepts a codec name; the empty string means CodecNone.
func ParseCodec(s string) (Codec, error) {
	switch Codec(s) {
	case "", CodecNone:
		return CodecNone, nil
	case CodecZstd, CodecLZ4:
		return Codec(s), nil
	}
	return "", fmt.Errorf("unknown spill codec %q", s)
}

// segmentCodec compresses whole segments. Compress returns ok=false when the
// payload should be stored as-is.
type segmentCodec interface {
	Compress(dst, src []byte) (out []byte, ok bool, err error)
	Decompress(dst, src []byte, rawLen int) ([]byte, error)
}

func codecFor(c Codec) (segmentCodec, error) {
	switch c {
	case CodecNone, "":
		return nil, nil
	case CodecZstd:
		return zstdCodec{}, nil
	case CodecLZ4:
		return &lz4Codec{}, nil
	}
	return nil, fmt.Errorf("unknown spill codec %q", c)
}

var (
	zstdEncoder     *zstd.Encoder
	zstdEncoderErr  error
	zstdEncoderOnce sync.Once

	zstdDecoder     *zstd.Decoder
	zstdDecoderErr  error
	zstdDecoderOnce sync.Once
)

// Both are safe for concurrent EncodeAll/DecodeAll calls, so one of each is
// shared by every run in the process.
func sharedZstdEncoder() (*zstd.Encoder, error) {
	zstdEncoderOnce.Do(func() {
		zstdEncoder, zstdEncoderErr = zstd.NewWriter(nil,
			zstd.WithEncoderLevel(zstd.SpeedFastest),
			zstd.WithZeroFrames(true),
		)
	})
	return zstdEncoder, zstdEncoderErr
}

func sharedZstdDecoder() (*zstd.Decoder, error) {
	zstdDecoderOnce.Do(func() {
		zstdDecoder, zstdDecoderErr = zstd.NewReader(nil)
	})
	return zstdDecoder, zstdDecoderErr
}

type zstdCodec struct{}

func (zstdCodec) Compress(dst, src []byte) ([]byte, bool, error) {
	enc, err := sharedZstdEncoder()
	if err != nil {
		return nil, false, fmt.Errorf("zstd encoder: %w", err)
	}
	out := enc.EncodeAll(src, dst[:0])
	if len(out) >= len(src) {
		return out, false, nil
	}
	return out, true, nil
}

func (zstdCodec) Decompress(dst, src []byte, rawLen int) ([]byte, error) {
	dec, err := sharedZstdDecoder()
	if err != nil {
		return nil, fmt.Errorf("zstd decoder: %w", err)
	}
	out, err := dec.DecodeAll(src, dst[:0])
	if err != nil {
		return nil, fmt.Errorf("zstd decode: %w", err)
	}
	if len(out) != rawLen {
		return nil, fmt.Errorf("zstd segment decoded to %d bytes, want %d: %w", len(out), rawLen, ErrCorruptRun)
	}
	return out, nil
}

type lz4Codec struct {
	c lz4.Compressor
}

func (l *lz4Codec) Compress(dst, src []byte) ([]byte, bool, error) {
	bound := lz4.CompressBlockBound(len(src))
	if cap(dst) < bound {
		dst = make([]byte, bound)
	}
	n, err := l.c.CompressBlock(src, dst[:bound])
	if err != nil {
		return nil, false, fmt.Errorf("lz4 compress: %w", err)
	}
	if n == 0 || n >= len(src) {
		return dst[:n], false, nil
	}
	return dst[:n], true, nil
}

func (l *lz4Codec) Decompress(dst, src []byte, rawLen int) ([]byte, error) {
	if cap(dst) < rawLen {
		dst = make([]byte, rawLen)
	}
	n, err := lz4.UncompressBlock(src, dst[:rawLen])
	if err != nil {
		return nil, fmt.Errorf("lz4 decode: %w", err)
	}
	if n != rawLen {
		return nil, fmt.Errorf("lz4 segment decoded to %d bytes, want %d: %w", n, rawLen, ErrCorruptRun)
	}
	return dst[:n], nil
}
