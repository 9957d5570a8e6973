package software

import (
	"encoding/binary"
	"math"

	"github.com/spaghettifunk/refract/engine/renderer/gpu"
)

func unorm8(v float32) byte {
	if v <= 0 || v != v {
		return 0
	}
	if v >= 1 {
		return 255
	}
	return byte(v*255 + 0.5)
}

func putFloat(b []byte, v float32) {
	binary.LittleEndian.PutUint32(b, math.Float32bits(v))
}

func getFloat(b []byte) float32 {
	return math.Float32frombits(binary.LittleEndian.Uint32(b))
}

// encodeTexel writes c in format f. Missing channels are dropped.
func encodeTexel(f gpu.Format, c [4]float32, b []byte) {
	switch f {
	case gpu.FormatRGBA8Unorm:
		b[0], b[1], b[2], b[3] = unorm8(c[0]), unorm8(c[1]), unorm8(c[2]), unorm8(c[3])
	case gpu.FormatBGRA8Unorm:
		b[0], b[1], b[2], b[3] = unorm8(c[2]), unorm8(c[1]), unorm8(c[0]), unorm8(c[3])
	case gpu.FormatR8Unorm:
		b[0] = unorm8(c[0])
	case gpu.FormatRGBA16Float:
		for i := 0; i < 4; i++ {
			binary.LittleEndian.PutUint16(b[i*2:], floatToHalf(c[i]))
		}
	case gpu.FormatRGBA32Float:
		for i := 0; i < 4; i++ {
			putFloat(b[i*4:], c[i])
		}
	case gpu.FormatRGB32Float:
		for i := 0; i < 3; i++ {
			putFloat(b[i*4:], c[i])
		}
	case gpu.FormatRG32Float:
		putFloat(b, c[0])
		putFloat(b[4:], c[1])
	case gpu.FormatR32Float, gpu.FormatD32Float:
		putFloat(b, c[0])
	case gpu.FormatR32Uint:
		binary.LittleEndian.PutUint32(b, uint32(c[0]))
	}
}

// decodeTexel reads a texel the way a shader sample would: missing colour
// channels read as zero and missing alpha as one.
func decodeTexel(f gpu.Format, b []byte) [4]float32 {
	switch f {
	case gpu.FormatRGBA8Unorm:
		return [4]float32{float32(b[0]) / 255, float32(b[1]) / 255, float32(b[2]) / 255, float32(b[3]) / 255}
	case gpu.FormatBGRA8Unorm:
		return [4]float32{float32(b[2]) / 255, float32(b[1]) / 255, float32(b[0]) / 255, float32(b[3]) / 255}
	case gpu.FormatR8Unorm:
		return [4]float32{float32(b[0]) / 255, 0, 0, 1}
	case gpu.FormatRGBA16Float:
		out := [4]float32{}
		for i := 0; i < 4; i++ {
			out[i] = halfToFloat(binary.LittleEndian.Uint16(b[i*2:]))
		}
		return out
	case gpu.FormatRGBA32Float:
		return [4]float32{getFloat(b), getFloat(b[4:]), getFloat(b[8:]), getFloat(b[12:])}
	case gpu.FormatRGB32Float:
		return [4]float32{getFloat(b), getFloat(b[4:]), getFloat(b[8:]), 1}
	case gpu.FormatRG32Float:
		return [4]float32{getFloat(b), getFloat(b[4:]), 0, 1}
	case gpu.FormatR32Float, gpu.FormatD32Float:
		return [4]float32{getFloat(b), 0, 0, 1}
	case gpu.FormatR32Uint:
		return [4]float32{float32(binary.LittleEndian.Uint32(b)), 0, 0, 1}
	}
	return [4]float32{}
}

// viewCompatible reports whether a view of format view may alias a
// resource of format res.
func viewCompatible(res, view gpu.Format) bool {
	if res == view {
		return true
	}
	// a depth buffer is sampled through a single channel float view
	return res == gpu.FormatD32Float && view == gpu.FormatR32Float
}

func halfToFloat(h uint16) float32 {
	sign := uint32(h>>15) << 31
	exp := int32(h>>10) & 0x1f
	mant := uint32(h) & 0x3ff

	switch {
	case exp == 0 && mant == 0:
		return math.Float32frombits(sign)
	case exp == 0:
		// subnormal, renormalise
		exp = 1
		for mant&0x400 == 0 {
			mant <<= 1
			exp--
		}
		mant &= 0x3ff
	case exp == 0x1f:
		return math.Float32frombits(sign | 0xff<<23 | mant<<13)
	}
	return math.Float32frombits(sign | uint32(exp+112)<<23 | mant<<13)
}

func floatToHalf(f float32) uint16 {
	bits := math.Float32bits(f)
	sign := uint16(bits>>16) & 0x8000
	exp := int32(bits>>23&0xff) - 127 + 15
	mant := bits & 0x7fffff

	switch {
	case bits&0x7fffffff == 0:
		return sign
	case bits>>23&0xff == 0xff:
		if mant != 0 {
			return sign | 0x7e00
		}
		return sign | 0x7c00
	case exp >= 0x1f:
		return sign | 0x7c00
	case exp <= 0:
		if exp < -10 {
			return sign
		}
		mant |= 0x800000
		shift := uint32(14 - exp)
		half := uint16(mant >> shift)
		if mant>>(shift-1)&1 != 0 {
			half++
		}
		return sign | half
	}
	half := sign | uint16(exp)<<10 | uint16(mant>>13)
	if mant&0x1000 != 0 {
		half++
	}
	return half
}
