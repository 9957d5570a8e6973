package vulkan

import (
	"image"
	"image/color"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestWritePixelsPacksRows(t *testing.T) {
	img := image.NewRGBA(image.Rect(0, 0, 4, 3))
	img.Set(0, 0, color.RGBA{R: 1, G: 2, B: 3, A: 4})
	img.Set(1, 1, color.RGBA{R: 5, G: 6, B: 7, A: 8})
	img.Set(3, 2, color.RGBA{R: 9, G: 9, B: 9, A: 9})

	dst := make([]byte, 2*2*4)
	writePixels(dst, img, 2, 2, false)

	assert.Equal(t, []byte{1, 2, 3, 4}, dst[0:4])
	assert.Equal(t, []byte{5, 6, 7, 8}, dst[12:16])
}

func TestWritePixelsSwapsRedBlue(t *testing.T) {
	img := image.NewRGBA(image.Rect(0, 0, 1, 1))
	img.Set(0, 0, color.RGBA{R: 10, G: 20, B: 30, A: 255})

	dst := make([]byte, 4)
	writePixels(dst, img, 1, 1, true)
	assert.Equal(t, []byte{30, 20, 10, 255}, dst)
}

func TestWritePixelsHonoursSubImage(t *testing.T) {
	img := image.NewRGBA(image.Rect(0, 0, 4, 4))
	img.Set(2, 2, color.RGBA{R: 42, A: 255})
	sub := img.SubImage(image.Rect(2, 2, 4, 4)).(*image.RGBA)

	dst := make([]byte, 2*2*4)
	writePixels(dst, sub, 2, 2, false)
	assert.Equal(t, byte(42), dst[0])
}

func TestVulkanSafeString(t *testing.T) {
	assert.Equal(t, "\x00", VulkanSafeString(""))
	assert.Equal(t, "abc\x00", VulkanSafeString("abc"))
	assert.Equal(t, "abc\x00", VulkanSafeString("abc\x00"))

	in := []string{"a", "b\x00"}
	out := VulkanSafeStrings(in)
	assert.Equal(t, []string{"a\x00", "b\x00"}, out)
	assert.Equal(t, "a", in[0])
}

func TestVulkanResultString(t *testing.T) {
	assert.Equal(t, "VK_ERROR_OUT_OF_DATE_KHR", VulkanResultString(-1000001004))
	assert.Equal(t, "VkResult(12345)", VulkanResultString(12345))
	assert.EqualError(t, resultError(-4), "VK_ERROR_DEVICE_LOST")
}
