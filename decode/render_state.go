package decode

import "fmt"

// renderPassType tracks what kind of drawing scope the replayed command
// buffer is currently inside.
type renderPassType int

const (
	kNone renderPassType = iota
	kRenderPass
	kDynamicRendering
)

func (t renderPassType) String() string {
	switch t {
	case kNone:
		return "none"
	case kRenderPass:
		return "render pass"
	case kDynamicRendering:
		return "dynamic rendering"
	default:
		return fmt.Sprintf("renderPassType(%d)", int(t))
	}
}

// transition moves the scope state machine. Transitions not produced by
// a well-formed command stream are programmer errors.
func (ctx *DrawCallsDumpingContext) transitionRenderPassState(to renderPassType) {
	from := ctx.currentRenderPassType

	valid := false
	switch to {
	case kRenderPass, kDynamicRendering:
		valid = from == kNone
	case kNone:
		valid = from == kRenderPass || from == kDynamicRendering
	}
	if !valid {
		panic(fmt.Sprintf("invalid render scope transition: %s -> %s", from, to))
	}

	ctx.currentRenderPassType = to
}
