package decode

import (
	"encoding/binary"
	"testing"

	vk "github.com/goki/vulkan"
)

func TestCopyDrawIndirectParametersStridedSpan(t *testing.T) {
	table := newFakeTable()
	ctx, _, _ := newTestContext(testOptions(), table)

	srcBuffer := &BufferInfo{Handle: vk.Buffer(table.handle()), CaptureID: 10, Size: 4096}
	ctx.InsertNewDrawIndexedIndirectParameters(3, srcBuffer, 256, 5, 32)

	params := ctx.drawCallParams[3]
	if err := ctx.CopyDrawIndirectParameters(params); err != nil {
		t.Fatal(err)
	}

	// 5 indexed commands of 20 bytes at stride 32: the span runs from the
	// first command to the end of the last, 4*32+20 bytes.
	ip := params.indirectParams()
	if ip.NewParamsSize != 148 {
		t.Errorf("scratch size = %d, want 148", ip.NewParamsSize)
	}

	if len(table.copies) != 1 {
		t.Fatalf("recorded %d copy commands, want 1", len(table.copies))
	}
	regions := table.copies[0].regions
	if len(regions) != 5 {
		t.Fatalf("stride != command size needs one region per command, got %d", len(regions))
	}
	for i, region := range regions {
		wantSrc := vk.DeviceSize(256 + i*32)
		if region.SrcOffset != wantSrc || region.DstOffset != vk.DeviceSize(i*32) || region.Size != 20 {
			t.Errorf("region %d = {src %d, dst %d, size %d}, want {src %d, dst %d, size 20}",
				i, region.SrcOffset, region.DstOffset, region.Size, wantSrc, i*32)
		}
	}
}

func TestCopyDrawIndirectParametersTightStride(t *testing.T) {
	table := newFakeTable()
	ctx, _, _ := newTestContext(testOptions(), table)

	srcBuffer := &BufferInfo{Handle: vk.Buffer(table.handle()), CaptureID: 10, Size: 4096}
	ctx.InsertNewDrawIndirectParameters(3, srcBuffer, 0, 4, 16)

	if err := ctx.CopyDrawIndirectParameters(ctx.drawCallParams[3]); err != nil {
		t.Fatal(err)
	}

	regions := table.copies[0].regions
	if len(regions) != 1 {
		t.Fatalf("tightly strided commands copy as one region, got %d", len(regions))
	}
	if regions[0].Size != 64 {
		t.Errorf("region size = %d, want 64", regions[0].Size)
	}
}

func TestCopyDrawIndirectParametersZeroCount(t *testing.T) {
	table := newFakeTable()
	ctx, _, _ := newTestContext(testOptions(), table)

	srcBuffer := &BufferInfo{Handle: vk.Buffer(table.handle()), CaptureID: 10, Size: 4096}
	ctx.InsertNewDrawIndirectParameters(3, srcBuffer, 0, 0, 16)

	if err := ctx.CopyDrawIndirectParameters(ctx.drawCallParams[3]); err != nil {
		t.Fatal(err)
	}
	if len(table.copies) != 0 {
		t.Error("a zero drawCount must not inject any copy")
	}

	countBuffer := &BufferInfo{Handle: vk.Buffer(table.handle()), CaptureID: 11, Size: 64}
	ctx.InsertNewDrawIndirectCountParameters(7, srcBuffer, 0, countBuffer, 0, 0, 16)

	if err := ctx.CopyDrawIndirectParameters(ctx.drawCallParams[7]); err != nil {
		t.Fatal(err)
	}
	if len(table.copies) != 0 {
		t.Error("a zero maxDrawCount must not inject any copy")
	}
}

func TestFetchDrawIndirectCountParams(t *testing.T) {
	table := newFakeTable()
	ctx, _, _ := newTestContext(testOptions(), table)

	srcBuffer := &BufferInfo{Handle: vk.Buffer(table.handle()), CaptureID: 10, Size: 4096}
	countBuffer := &BufferInfo{Handle: vk.Buffer(table.handle()), CaptureID: 11, Size: 64}
	ctx.InsertNewDrawIndexedIndirectCountParameters(3, srcBuffer, 0, countBuffer, 16, 8, 20)

	params := ctx.drawCallParams[3]
	if params.IndirectCount.ActualDrawCount != actualDrawCountUnfetched {
		t.Fatal("actual draw count must start unfetched")
	}
	if err := ctx.CopyDrawIndirectParameters(params); err != nil {
		t.Fatal(err)
	}

	// Simulate the GPU: the count word reads 2, the parameter clone holds
	// two tightly packed indexed commands.
	icp := &params.IndirectCount
	binary.LittleEndian.PutUint32(table.scratchData(icp.NewCountMemory), 2)

	scratch := table.scratchData(icp.NewParamsMemory)
	want := []vk.DrawIndexedIndirectCommand{
		{IndexCount: 12, InstanceCount: 1, FirstIndex: 0, VertexOffset: -4, FirstInstance: 0},
		{IndexCount: 30, InstanceCount: 2, FirstIndex: 12, VertexOffset: 7, FirstInstance: 1},
	}
	for i, cmd := range want {
		at := i * 20
		binary.LittleEndian.PutUint32(scratch[at:], cmd.IndexCount)
		binary.LittleEndian.PutUint32(scratch[at+4:], cmd.InstanceCount)
		binary.LittleEndian.PutUint32(scratch[at+8:], cmd.FirstIndex)
		binary.LittleEndian.PutUint32(scratch[at+12:], uint32(cmd.VertexOffset))
		binary.LittleEndian.PutUint32(scratch[at+16:], cmd.FirstInstance)
	}

	if err := ctx.fetchDrawIndirectParams(3); err != nil {
		t.Fatal(err)
	}

	if icp.ActualDrawCount != 2 {
		t.Fatalf("actual draw count = %d, want 2", icp.ActualDrawCount)
	}
	if len(icp.IndexedDrawParams) != 2 {
		t.Fatalf("fetched %d records, want exactly the actual count", len(icp.IndexedDrawParams))
	}
	for i, cmd := range want {
		if icp.IndexedDrawParams[i] != cmd {
			t.Errorf("record %d = %+v, want %+v", i, icp.IndexedDrawParams[i], cmd)
		}
	}

	// The count word is clamped to maxDrawCount.
	binary.LittleEndian.PutUint32(table.scratchData(icp.NewCountMemory), 100)
	ctx.ResetFetchedIndirectParams()
	if err := ctx.fetchDrawIndirectParams(3); err != nil {
		t.Fatal(err)
	}
	if icp.ActualDrawCount != 8 {
		t.Errorf("actual draw count = %d, want maxDrawCount 8", icp.ActualDrawCount)
	}
}

func TestFetchDrawIndirectParamsOnlyForGivenDraw(t *testing.T) {
	table := newFakeTable()
	ctx, _, _ := newTestContext(testOptions(), table)

	srcBuffer := &BufferInfo{Handle: vk.Buffer(table.handle()), CaptureID: 10, Size: 4096}
	ctx.InsertNewDrawIndirectParameters(3, srcBuffer, 0, 1, 16)
	ctx.InsertNewDrawIndirectParameters(7, srcBuffer, 64, 1, 16)

	for _, dcIndex := range []uint64{3, 7} {
		if err := ctx.CopyDrawIndirectParameters(ctx.drawCallParams[dcIndex]); err != nil {
			t.Fatal(err)
		}
	}

	first := ctx.drawCallParams[3]
	second := ctx.drawCallParams[7]
	binary.LittleEndian.PutUint32(table.scratchData(first.Indirect.NewParamsMemory), 9)

	// Draw 7's clone has not executed yet: its scratch must stay
	// untouched when draw 3 is resolved.
	if err := ctx.fetchDrawIndirectParams(3); err != nil {
		t.Fatal(err)
	}
	if len(first.Indirect.DrawParams) != 1 || first.Indirect.DrawParams[0].VertexCount != 9 {
		t.Errorf("draw 3 parameters not resolved: %+v", first.Indirect.DrawParams)
	}
	if second.Indirect.DrawParams != nil {
		t.Error("draw 7 parameters resolved before its clone completed")
	}

	binary.LittleEndian.PutUint32(table.scratchData(second.Indirect.NewParamsMemory), 21)
	if err := ctx.fetchDrawIndirectParams(7); err != nil {
		t.Fatal(err)
	}
	if len(second.Indirect.DrawParams) != 1 || second.Indirect.DrawParams[0].VertexCount != 21 {
		t.Errorf("draw 7 parameters not resolved: %+v", second.Indirect.DrawParams)
	}
}

func TestResetFetchedIndirectParams(t *testing.T) {
	table := newFakeTable()
	ctx, _, _ := newTestContext(testOptions(), table)

	srcBuffer := &BufferInfo{Handle: vk.Buffer(table.handle()), CaptureID: 10, Size: 4096}
	ctx.InsertNewDrawIndirectParameters(3, srcBuffer, 0, 2, 16)

	params := ctx.drawCallParams[3]
	if err := ctx.CopyDrawIndirectParameters(params); err != nil {
		t.Fatal(err)
	}
	if err := ctx.fetchDrawIndirectParams(3); err != nil {
		t.Fatal(err)
	}
	if len(params.Indirect.DrawParams) != 2 {
		t.Fatalf("fetched %d records, want 2", len(params.Indirect.DrawParams))
	}

	ctx.ResetFetchedIndirectParams()
	if params.Indirect.DrawParams != nil {
		t.Error("reset must drop the host copies")
	}
	if params.Indirect.NewParamsBuffer == nil {
		t.Error("reset must keep the GPU scratch buffer")
	}

	// Reset is idempotent and a later fetch works again.
	ctx.ResetFetchedIndirectParams()
	if err := ctx.fetchDrawIndirectParams(3); err != nil {
		t.Fatal(err)
	}
	if len(params.Indirect.DrawParams) != 2 {
		t.Error("re-fetch after reset should see the scratch again")
	}

	ctx.Release()
	if params.Indirect.NewParamsBuffer != nil {
		t.Error("release must destroy the scratch buffer")
	}
}
