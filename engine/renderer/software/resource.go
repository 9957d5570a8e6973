package software

import (
	"fmt"
	"image"
	"sync/atomic"

	"github.com/spaghettifunk/refract/engine/renderer/gpu"
)

type Resource struct {
	dev   *Device
	id    uint32
	heap  gpu.HeapKind
	desc  gpu.ResourceDesc
	data  []byte
	pitch int
	// state is the state on the queue timeline.
	state    atomic.Uint32
	name     atomic.Value
	released atomic.Bool
}

func (d *Device) CreateCommittedResource(heap gpu.HeapKind, desc gpu.ResourceDesc, initial gpu.ResourceState, clear *gpu.ClearValue) (gpu.Resource, error) {
	var size uint64
	pitch := 0
	switch desc.Dimension {
	case gpu.ResourceDimensionBuffer:
		if desc.Width == 0 {
			return nil, fmt.Errorf("buffer of zero size")
		}
		if desc.Width > offsetMask {
			return nil, fmt.Errorf("buffer of %d bytes: %w", desc.Width, gpu.ErrNoDeviceMemory)
		}
		size = desc.Width
	case gpu.ResourceDimensionTexture2D:
		texel := desc.Format.Size()
		if texel == 0 || desc.Width == 0 || desc.Height == 0 {
			return nil, fmt.Errorf("invalid texture %dx%d of format %s", desc.Width, desc.Height, desc.Format)
		}
		if desc.Format.IsDepth() && desc.Flags&gpu.ResourceFlagAllowDepthStencil == 0 {
			return nil, fmt.Errorf("depth texture created without ResourceFlagAllowDepthStencil")
		}
		if heap == gpu.HeapUpload {
			return nil, fmt.Errorf("textures cannot live on the upload heap")
		}
		pitch = int(desc.Width) * int(texel)
		size = uint64(pitch) * uint64(desc.Height)
	default:
		return nil, fmt.Errorf("unknown resource dimension %d", desc.Dimension)
	}
	if heap == gpu.HeapUpload && initial != gpu.ResourceStateGenericRead {
		return nil, fmt.Errorf("upload heap resources must start in %s, got %s", gpu.ResourceStateGenericRead, initial)
	}

	d.mu.Lock()
	id, err := d.allocID()
	if err != nil {
		d.mu.Unlock()
		return nil, err
	}
	res := &Resource{dev: d, id: id, heap: heap, desc: desc, data: make([]byte, size), pitch: pitch}
	d.resources[id] = res
	d.mu.Unlock()

	res.state.Store(uint32(initial))
	res.name.Store("")
	if clear != nil && desc.Dimension == gpu.ResourceDimensionTexture2D {
		if desc.Format.IsDepth() {
			res.fill(gpu.FormatD32Float, [4]float32{clear.Depth})
		} else {
			res.fill(desc.Format, clear.Colour)
		}
	}
	return res, nil
}

func (r *Resource) Desc() gpu.ResourceDesc {
	return r.desc
}

func (r *Resource) GPUVirtualAddress() gpu.GPUAddress {
	if r.desc.Dimension != gpu.ResourceDimensionBuffer {
		return 0
	}
	return gpu.GPUAddress(encodeAddress(tagBuffer, r.id, 0))
}

func (r *Resource) Map() ([]byte, error) {
	if r.heap != gpu.HeapUpload {
		return nil, fmt.Errorf("resource `%s` is not on the upload heap", r.Name())
	}
	if r.released.Load() {
		return nil, fmt.Errorf("resource `%s` was released", r.Name())
	}
	return r.data, nil
}

func (r *Resource) Unmap() {}

func (r *Resource) SetName(name string) {
	r.name.Store(name)
}

func (r *Resource) Name() string {
	if n, _ := r.name.Load().(string); n != "" {
		return n
	}
	return fmt.Sprintf("resource#%d", r.id)
}

func (r *Resource) Release() {
	if r.released.Swap(true) {
		return
	}
	r.dev.mu.Lock()
	delete(r.dev.resources, r.id)
	r.dev.mu.Unlock()
	r.dev.dropAccel(r)
}

func (r *Resource) currentState() gpu.ResourceState {
	return gpu.ResourceState(r.state.Load())
}

func (r *Resource) texel(x, y int) []byte {
	size := int(r.desc.Format.Size())
	off := y*r.pitch + x*size
	return r.data[off : off+size]
}

func (r *Resource) fill(format gpu.Format, c [4]float32) {
	size := int(format.Size())
	encodeTexel(format, c, r.data[:size])
	for off := size; off < len(r.data); off += size {
		copy(r.data[off:off+size], r.data[:size])
	}
}

func asResource(res gpu.Resource) (*Resource, error) {
	if res == nil {
		return nil, fmt.Errorf("nil resource")
	}
	r, ok := res.(*Resource)
	if !ok {
		return nil, fmt.Errorf("resource %T does not belong to the software device", res)
	}
	if r.released.Load() {
		return nil, fmt.Errorf("resource `%s` used after release", r.Name())
	}
	return r, nil
}

// Contents returns a copy of a resource's memory. Callers must make sure
// the queue is idle.
func (d *Device) Contents(res gpu.Resource) ([]byte, error) {
	r, err := asResource(res)
	if err != nil {
		return nil, err
	}
	return append([]byte(nil), r.data...), nil
}

// State returns the state of res on the queue timeline.
func (d *Device) State(res gpu.Resource) gpu.ResourceState {
	r, err := asResource(res)
	if err != nil {
		return gpu.ResourceStateCommon
	}
	return r.currentState()
}

// Image converts a colour texture into an RGBA image. Callers must make
// sure the queue is idle.
func (d *Device) Image(res gpu.Resource) (*image.RGBA, error) {
	r, err := asResource(res)
	if err != nil {
		return nil, err
	}
	return r.image()
}

func (r *Resource) image() (*image.RGBA, error) {
	if r.desc.Dimension != gpu.ResourceDimensionTexture2D || r.desc.Format.IsDepth() {
		return nil, fmt.Errorf("resource `%s` is not a colour texture", r.Name())
	}
	w, h := int(r.desc.Width), int(r.desc.Height)
	img := image.NewRGBA(image.Rect(0, 0, w, h))
	if r.desc.Format == gpu.FormatRGBA8Unorm {
		copy(img.Pix, r.data)
		return img, nil
	}
	for y := 0; y < h; y++ {
		for x := 0; x < w; x++ {
			c := decodeTexel(r.desc.Format, r.texel(x, y))
			encodeTexel(gpu.FormatRGBA8Unorm, c, img.Pix[y*img.Stride+x*4:])
		}
	}
	return img, nil
}
