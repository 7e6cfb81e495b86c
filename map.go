package main

// RasterSource raster tile source descriptor
type RasterSource struct {
	Type     string   `json:"type"`
	Tiles    []string `json:"tiles"`
	TileSize int      `json:"tileSize"`
}

// RasterLayer raster layer descriptor referencing a source by id
type RasterLayer struct {
	ID     string `json:"id"`
	Type   string `json:"type"`
	Source string `json:"source"`
}

// SourceDataEvent payload delivered on each source data load
type SourceDataEvent struct {
	IsSourceLoaded bool
	Bounds         LngLatBbox
	Zoom           float64
}

// Control 地图控件
type Control interface {
	OnAdd(m Map)
	OnRemove(m Map)
}

// AttributionControl explicit capability contract for attribution adapters,
// instead of probing a control instance for expected fields.
type AttributionControl interface {
	Control
	Text() string
	SetText(text string)
	Redraw()
}

// Map 地图实例接口，对应所消费的MapLibre表面。AddControl必须回调控件的OnAdd，
// RemoveControl对未挂载的控件应当是no-op。
type Map interface {
	AddSource(id string, src RasterSource) error
	AddLayer(layer RasterLayer) error
	RemoveLayer(id string)
	RemoveSource(id string)
	HasLayer(id string) bool
	HasSource(id string) bool
	AddControl(c Control, position string)
	RemoveControl(c Control)
	OnSourceData(handler func(ev SourceDataEvent))
}

// Attribution 默认版权控件适配器
type Attribution struct {
	text string
}

func (a *Attribution) OnAdd(m Map)    {}
func (a *Attribution) OnRemove(m Map) {}

func (a *Attribution) Text() string {
	return a.text
}

func (a *Attribution) SetText(text string) {
	a.text = text
}

// Redraw is a hook for concrete toolkit bindings, nothing to repaint here.
func (a *Attribution) Redraw() {}
