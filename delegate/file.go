// Package delegate provides the default consumer of dumped resources:
// a delegate writing every artifact to a directory, color attachments as
// BMP images and everything else as raw binary.
package delegate

import (
	"fmt"
	"image"
	"os"
	"path/filepath"

	vk "github.com/goki/vulkan"
	"github.com/pelletier/go-toml/v2"
	"golang.org/x/image/bmp"

	"github.com/zongdu-arm/gfxreconstruct/core"
	"github.com/zongdu-arm/gfxreconstruct/decode"
)

// FileDelegate writes dumped resources under a base directory. File
// names carry the dump ID and the submission coordinates of the owning
// draw, so artifacts from repeated dumps never collide.
type FileDelegate struct {
	dir string
}

func NewFileDelegate(dir string) (*FileDelegate, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("creating dump directory: %w", err)
	}
	return &FileDelegate{dir: dir}, nil
}

// DumpResource writes one artifact. Four-byte RGBA-like attachments and
// image descriptors become BMP files; every other payload is written
// verbatim as .bin.
func (d *FileDelegate) DumpResource(res *decode.ResourceInfo) error {
	base := d.baseName(res)

	if res.Type == decode.ResourceTypeRtv || res.Type == decode.ResourceTypeImageDescriptor {
		if img, ok := imageFromPixels(res.Data, res.Width, res.Height, res.Format); ok {
			return d.writeBMP(base+".bmp", img)
		}
		core.LogDebug("format %d not BMP-encodable, writing %s raw", res.Format, base)
	}

	path := filepath.Join(d.dir, base+".bin")
	if err := os.WriteFile(path, res.Data, 0o644); err != nil {
		return fmt.Errorf("writing %s: %w", path, err)
	}
	return nil
}

// DumpDrawCallInfo writes the draw summary as a TOML file next to the
// draw's artifacts.
func (d *FileDelegate) DumpDrawCallInfo(info *decode.DrawCallInfo) error {
	data, err := toml.Marshal(info)
	if err != nil {
		return fmt.Errorf("encoding draw call info: %w", err)
	}

	name := fmt.Sprintf("%s_qs_%d_bcb_%d_dc_%d_info.toml",
		info.DumpID, info.QueueSubmitIndex, info.CommandBufferIndex, info.DrawCallIndex)
	path := filepath.Join(d.dir, name)
	if err := os.WriteFile(path, data, 0o644); err != nil {
		return fmt.Errorf("writing %s: %w", path, err)
	}
	return nil
}

func (d *FileDelegate) baseName(res *decode.ResourceInfo) string {
	name := fmt.Sprintf("%s_qs_%d_bcb_%d_dc_%d_%s",
		res.DumpID, res.QueueSubmitIndex, res.CommandBufferIndex, res.DrawCallIndex, res.Type)

	switch res.Type {
	case decode.ResourceTypeRtv:
		name += fmt.Sprintf("_att_%d", res.AttachmentIndex)
	case decode.ResourceTypeVertex:
		name += fmt.Sprintf("_binding_%d", res.VertexBinding)
	case decode.ResourceTypeImageDescriptor, decode.ResourceTypeBufferDescriptor,
		decode.ResourceTypeInlineUniformBlockDescriptor:
		name += fmt.Sprintf("_set_%d_binding_%d", res.Set, res.Binding)
	}

	if res.BeforeDrawCall {
		name += "_before"
	}
	return name
}

func (d *FileDelegate) writeBMP(name string, img image.Image) error {
	path := filepath.Join(d.dir, name)
	f, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("creating %s: %w", path, err)
	}
	defer f.Close()

	if err := bmp.Encode(f, img); err != nil {
		return fmt.Errorf("encoding %s: %w", path, err)
	}
	return nil
}

// imageFromPixels wraps tightly packed 4-byte pixel data in an NRGBA
// image, swizzling BGRA formats. Other formats report false and fall
// back to a raw dump.
func imageFromPixels(data []byte, width, height uint32, format vk.Format) (image.Image, bool) {
	if uint64(len(data)) < uint64(width)*uint64(height)*4 {
		return nil, false
	}

	var bgra bool
	switch format {
	case vk.FormatR8g8b8a8Unorm, vk.FormatR8g8b8a8Srgb:
		bgra = false
	case vk.FormatB8g8r8a8Unorm, vk.FormatB8g8r8a8Srgb:
		bgra = true
	default:
		return nil, false
	}

	img := image.NewNRGBA(image.Rect(0, 0, int(width), int(height)))
	if bgra {
		for i := 0; i+3 < int(width*height)*4; i += 4 {
			img.Pix[i] = data[i+2]
			img.Pix[i+1] = data[i+1]
			img.Pix[i+2] = data[i]
			img.Pix[i+3] = data[i+3]
		}
	} else {
		copy(img.Pix, data[:width*height*4])
	}
	return img, true
}
