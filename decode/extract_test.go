package decode

import (
	"encoding/binary"
	"testing"

	vk "github.com/goki/vulkan"

	"github.com/zongdu-arm/gfxreconstruct/graphics"
)

func uint16Indices(indices ...uint16) []byte {
	data := make([]byte, len(indices)*2)
	for i, index := range indices {
		binary.LittleEndian.PutUint16(data[i*2:], index)
	}
	return data
}

func TestFindMinMaxVertexIndices(t *testing.T) {
	data := uint16Indices(2, 5, 1, 5, 3)

	min, max := findMinMaxVertexIndices(data, vk.IndexTypeUint16, []drawRange{
		{indexCount: 5, firstIndex: 0, vertexOffset: 10},
	})
	if min != 11 || max != 15 {
		t.Errorf("got [%d, %d], want [11, 15]", min, max)
	}

	// A sub-range sees only its own indices.
	min, max = findMinMaxVertexIndices(data, vk.IndexTypeUint16, []drawRange{
		{indexCount: 2, firstIndex: 2, vertexOffset: 0},
	})
	if min != 1 || max != 5 {
		t.Errorf("got [%d, %d], want [1, 5]", min, max)
	}
}

func TestFindMinMaxVertexIndicesSkipsRestart(t *testing.T) {
	data := uint16Indices(4, 0xFFFF, 9)

	min, max := findMinMaxVertexIndices(data, vk.IndexTypeUint16, []drawRange{
		{indexCount: 3, firstIndex: 0},
	})
	if min != 4 || max != 9 {
		t.Errorf("restart value must not widen the range, got [%d, %d]", min, max)
	}

	min, max = findMinMaxVertexIndices(uint16Indices(0xFFFF), vk.IndexTypeUint16, []drawRange{
		{indexCount: 1, firstIndex: 0},
	})
	if min != -1 || max != -1 {
		t.Errorf("all-restart index data references no vertex, got [%d, %d]", min, max)
	}
}

func TestPackedBindingSize(t *testing.T) {
	vi := &VertexInputState{
		Attributes: map[uint32]VertexInputAttribute{
			0: {Binding: 0, Format: vk.FormatR32g32b32Sfloat, Offset: 4},
			1: {Binding: 0, Format: vk.FormatR32g32Sfloat, Offset: 16},
			2: {Binding: 1, Format: vk.FormatR8g8b8a8Unorm, Offset: 0},
		},
	}

	// Binding 0 packs a vec3 and a vec2 with the smallest offset 4.
	if got := packedBindingSize(vi, 0); got != 24 {
		t.Errorf("binding 0 packed size = %d, want 24", got)
	}
	if got := packedBindingSize(vi, 1); got != 4 {
		t.Errorf("binding 1 packed size = %d, want 4", got)
	}
	if got := packedBindingSize(vi, 2); got != 0 {
		t.Errorf("unused binding packed size = %d, want 0", got)
	}
}

func dumpContextWithPass(t *testing.T, table *fakeTable, opts *Options) (*DrawCallsDumpingContext, *recordingDelegate, *fakeObjectTable) {
	t.Helper()
	ctx, delegate, objects := newTestContext(opts, table)

	rpInfo := threeSubpassRenderPass(table)
	rpInfo.SubpassRefs = rpInfo.SubpassRefs[:1]
	rpInfo.Dependencies = nil
	fbInfo := registerFramebuffer(table, objects)

	if err := ctx.BeginRenderPass(rpInfo, fbInfo, vk.Rect2D{}, nil, vk.SubpassContentsInline); err != nil {
		t.Fatal(err)
	}
	return ctx, delegate, objects
}

func TestDumpVertexIndexBuffersIndexed(t *testing.T) {
	table := newFakeTable()
	opts := &Options{
		DrawIndices:            []uint64{3},
		RenderPassIndices:      [][]uint64{{1, 5}},
		DumpVertexIndexBuffers: true,
	}
	ctx, delegate, _ := dumpContextWithPass(t, table, opts)

	vertexBuffer := &BufferInfo{Handle: vk.Buffer(table.handle()), CaptureID: 20, Size: 1 << 20}
	indexBuffer := &BufferInfo{Handle: vk.Buffer(table.handle()), CaptureID: 21, Size: 1 << 20}

	ctx.BindPipeline(vk.PipelineBindPointGraphics, &PipelineInfo{
		VertexInput: VertexInputState{
			Bindings: map[uint32]VertexInputBinding{
				0: {Stride: 16, InputRate: vk.VertexInputRateVertex},
			},
			Attributes: map[uint32]VertexInputAttribute{
				0: {Binding: 0, Format: vk.FormatR32g32b32a32Sfloat},
			},
		},
	})
	ctx.BindVertexBuffers(0, []*BufferInfo{vertexBuffer}, []vk.DeviceSize{64})
	ctx.BindIndexBuffer(indexBuffer, 128, vk.IndexTypeUint16)
	ctx.InsertNewDrawIndexedParameters(3, 5, 1, 0, 0, 0)

	params := ctx.drawCallParams[3]

	// Back the index buffer with known indices [2 5 1 5 3] at offset 128.
	backing := make([]byte, 256)
	copy(backing[128:], uint16Indices(2, 5, 1, 5, 3))
	table.seedBuffer(indexBuffer.Handle, backing)

	util := newTestUtil(ctx, table)
	if err := ctx.dumpVertexIndexBuffers(util, 0, 3, params); err != nil {
		t.Fatal(err)
	}

	if len(delegate.resources) != 2 {
		t.Fatalf("dumped %d resources, want index + vertex", len(delegate.resources))
	}

	index := delegate.resources[0]
	if index.Type != ResourceTypeIndex {
		t.Fatalf("first artifact = %s, want index buffer", index.Type)
	}
	if params.IndexBuffer.DumpedSize != 10 {
		t.Errorf("index span = %d bytes, want 5 uint16 indices", params.IndexBuffer.DumpedSize)
	}

	// Referenced vertices are [1, 5]: 5 vertices of stride 16 starting at
	// binding offset 64 plus 1*16.
	vertex := delegate.resources[1]
	if vertex.Type != ResourceTypeVertex {
		t.Fatalf("second artifact = %s, want vertex buffer", vertex.Type)
	}
	vb := params.VertexBuffers[0]
	if vb.DumpedOffset != 80 {
		t.Errorf("vertex span offset = %d, want 80", vb.DumpedOffset)
	}
	if vb.DumpedSize != 80 {
		t.Errorf("vertex span size = %d, want 5*16", vb.DumpedSize)
	}
}

func newTestUtil(ctx *DrawCallsDumpingContext, table *fakeTable) *graphics.ResourcesUtil {
	return graphics.NewResourcesUtil(ctx.device, nil, ctx.auxCommandBuffer, table, hostVisibleMemProps())
}

func TestStorageBufferBackupSurvivesOverwrite(t *testing.T) {
	table := newFakeTable()
	opts := &Options{
		DrawIndices:            []uint64{3, 4},
		RenderPassIndices:      [][]uint64{{1, 5}},
		DumpImmutableResources: true,
	}
	ctx, delegate, objects := dumpContextWithPass(t, table, opts)

	storage := &BufferInfo{Handle: vk.Buffer(table.handle()), CaptureID: 60, Size: 64}
	objects.buffers[60] = storage

	backing := make([]byte, 64)
	for i := range backing {
		backing[i] = byte(i)
	}
	table.seedBuffer(storage.Handle, backing)

	set := &DescriptorSetInfo{
		CaptureID: 61,
		Descriptors: map[uint32]DescriptorInfo{
			0: {
				Type:           vk.DescriptorTypeStorageBuffer,
				BufferBindings: []DescriptorBufferBinding{{BufferID: 60, Range: vk.DeviceSize(vk.WholeSize)}},
			},
		},
	}
	ctx.BindDescriptorSets(vk.PipelineBindPointGraphics, 0, []*DescriptorSetInfo{set}, nil)

	// Recording the first draw snapshots the buffer into a backup clone.
	ctx.InsertNewDrawParameters(3, 3, 1, 0, 0)
	if len(ctx.backup.buffers) != 1 {
		t.Fatalf("recorded %d backups, want 1", len(ctx.backup.buffers))
	}
	var backupCopies int
	for _, c := range table.copies {
		if c.src == storage.Handle {
			backupCopies++
		}
	}
	if backupCopies != 1 {
		t.Fatalf("recorded %d backup copies, want 1", backupCopies)
	}

	// The second draw references the same buffer: no second backup.
	ctx.InsertNewDrawParameters(4, 3, 1, 0, 0)
	if len(ctx.backup.buffers) != 1 {
		t.Errorf("same buffer backed up twice")
	}

	// A later draw overwrites the live buffer. The descriptor dump must
	// still see the snapshot taken at the first draw.
	for i := range backing {
		backing[i] = 0xEE
	}

	util := newTestUtil(ctx, table)
	if err := ctx.dumpImmutableDescriptors(util, 0, 3, ctx.drawCallParams[3]); err != nil {
		t.Fatal(err)
	}
	if len(delegate.resources) != 1 {
		t.Fatalf("dumped %d descriptor resources, want 1", len(delegate.resources))
	}
	data := delegate.resources[0].Data
	if len(data) != 64 || data[5] != 5 {
		t.Errorf("descriptor dump read the overwritten contents: % x", data[:8])
	}

	ctx.Release()
	if ctx.backup.buffers != nil {
		t.Error("release must drop the backups")
	}
}

func TestDumpImmutableDescriptorsDedup(t *testing.T) {
	table := newFakeTable()
	opts := &Options{
		DrawIndices:            []uint64{3, 4},
		RenderPassIndices:      [][]uint64{{1, 5}},
		DumpImmutableResources: true,
	}
	ctx, delegate, objects := dumpContextWithPass(t, table, opts)

	uniformBuffer := &BufferInfo{Handle: vk.Buffer(table.handle()), CaptureID: 50, Size: 512}
	objects.buffers[50] = uniformBuffer
	objects.images[51] = &ImageInfo{
		Handle: vk.Image(table.handle()), CaptureID: 51,
		Format: vk.FormatR8g8b8a8Unorm,
		Extent: vk.Extent3D{Width: 4, Height: 4, Depth: 1},
	}
	objects.imageViews[52] = &ImageViewInfo{CaptureID: 52, ImageID: 51}

	set := &DescriptorSetInfo{
		CaptureID: 53,
		Descriptors: map[uint32]DescriptorInfo{
			0: {
				Type:           vk.DescriptorTypeUniformBuffer,
				BufferBindings: []DescriptorBufferBinding{{BufferID: 50, Offset: 0, Range: vk.DeviceSize(vk.WholeSize)}},
			},
			1: {
				Type:          vk.DescriptorTypeCombinedImageSampler,
				ImageBindings: []DescriptorImageBinding{{ImageViewID: 52}},
			},
		},
	}

	ctx.BindDescriptorSets(vk.PipelineBindPointGraphics, 0, []*DescriptorSetInfo{set}, nil)
	ctx.InsertNewDrawParameters(3, 3, 1, 0, 0)
	ctx.InsertNewDrawParameters(4, 3, 1, 0, 0)

	util := newTestUtil(ctx, table)
	if err := ctx.dumpImmutableDescriptors(util, 0, 3, ctx.drawCallParams[3]); err != nil {
		t.Fatal(err)
	}
	if len(delegate.resources) != 2 {
		t.Fatalf("dumped %d descriptor resources, want buffer + image", len(delegate.resources))
	}

	// A WholeSize range resolves against the buffer size.
	for _, res := range delegate.resources {
		if res.Type == ResourceTypeBufferDescriptor && len(res.Data) != 512 {
			t.Errorf("buffer descriptor read %d bytes, want the full 512", len(res.Data))
		}
	}

	// The second draw in the same render pass references the same
	// resources: nothing new is dumped.
	if err := ctx.dumpImmutableDescriptors(util, 1, 4, ctx.drawCallParams[4]); err != nil {
		t.Fatal(err)
	}
	if len(delegate.resources) != 2 {
		t.Errorf("descriptor dedup failed: %d resources after second draw", len(delegate.resources))
	}
}
