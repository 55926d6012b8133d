package configx

// Configuration layer precedence. A Scheduler has only a compiled
// baseline, an optional persisted file, and live overrides from
// Scheduler.SetConfig — no per-domain or per-site configuration to stage.
const (
	LayerDefault = iota
	LayerFile
	LayerRuntime
)

var layerNames = map[int]string{
	LayerDefault: "default",
	LayerFile:    "file",
	LayerRuntime: "runtime",
}

// LayerName returns the human-readable name for a layer constant.
func LayerName(layer int) string {
	if name, ok := layerNames[layer]; ok {
		return name
	}
	return "unknown"
}

// LayerPrecedenceOrder returns the merge order from lowest to highest priority.
func LayerPrecedenceOrder() []int {
	return []int{LayerDefault, LayerFile, LayerRuntime}
}
