package decode

import (
	"fmt"
	"os"

	"github.com/pelletier/go-toml/v2"
	"golang.org/x/exp/slices"
)

// Options selects which draws to dump and which resources to extract
// for each. A zero value dumps nothing.
type Options struct {
	// DrawIndices are the capture-stream indices of the draws to dump,
	// ascending.
	DrawIndices []uint64 `toml:"draw_indices"`

	// RenderPassIndices holds, per render pass of the targeted command
	// buffer, the block indices of its boundaries: the vkCmdBeginRenderPass
	// index, one index per subpass transition, and the vkCmdEndRenderPass
	// index. Each inner list is ascending.
	RenderPassIndices [][]uint64 `toml:"render_pass_indices"`

	// DumpResourcesBefore additionally snapshots each targeted draw's
	// outputs right before the draw executes.
	DumpResourcesBefore bool `toml:"dump_resources_before"`

	// DumpDepth extracts depth/stencil attachments alongside color.
	DumpDepth bool `toml:"dump_depth"`

	// ColorAttachmentIndex restricts color attachment dumping to one
	// attachment; -1 dumps all.
	ColorAttachmentIndex int `toml:"color_attachment_index"`

	// DumpVertexIndexBuffers extracts the vertex and index buffer spans
	// each draw consumed.
	DumpVertexIndexBuffers bool `toml:"dump_vertex_index_buffers"`

	// DumpImmutableResources extracts the images and buffers referenced
	// through descriptors.
	DumpImmutableResources bool `toml:"dump_immutable_resources"`
}

// LoadOptions reads options from a TOML file.
func LoadOptions(path string) (*Options, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading options: %w", err)
	}

	opts := &Options{ColorAttachmentIndex: -1}
	if err := toml.Unmarshal(data, opts); err != nil {
		return nil, fmt.Errorf("parsing options: %w", err)
	}

	if err := opts.Validate(); err != nil {
		return nil, err
	}

	return opts, nil
}

// Validate checks the index lists for the ordering the dump engine
// depends on.
func (o *Options) Validate() error {
	if len(o.DrawIndices) == 0 {
		return fmt.Errorf("no draw indices selected")
	}
	if !slices.IsSorted(o.DrawIndices) {
		return fmt.Errorf("draw indices must be ascending")
	}
	if len(o.RenderPassIndices) == 0 {
		return fmt.Errorf("no render pass boundaries provided")
	}

	for rp, boundaries := range o.RenderPassIndices {
		if len(boundaries) < 2 {
			return fmt.Errorf("render pass %d: needs at least begin and end boundaries", rp)
		}
		if !slices.IsSorted(boundaries) {
			return fmt.Errorf("render pass %d: boundaries must be ascending", rp)
		}
		if rp > 0 {
			prev := o.RenderPassIndices[rp-1]
			if boundaries[0] <= prev[len(prev)-1] {
				return fmt.Errorf("render pass %d: overlaps render pass %d", rp, rp-1)
			}
		}
	}

	return nil
}
