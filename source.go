package main

import (
	"context"
	"math"

	log "github.com/sirupsen/logrus"
)

const (
	//SourceID 栅格源id
	SourceID = "google-tiles"
	//LayerID 栅格图层id
	LayerID = "google-tiles-layer"
)

// SourceManager 管理地图上的Google栅格源、图层与版权/logo控件
type SourceManager struct {
	client      *TileClient
	attribution AttributionControl
	logo        *LogoControl
	cancel      context.CancelFunc
}

// NewSourceManager 创建客户端并建立会话
func NewSourceManager(apiKey string, opts SessionOptions) (*SourceManager, error) {
	client, err := NewTileClient(apiKey)
	if err != nil {
		return nil, err
	}
	if _, err := client.CreateSession(context.Background(), opts); err != nil {
		return nil, err
	}
	return &SourceManager{
		client:      client,
		attribution: &Attribution{},
		logo:        NewLogoControl(),
	}, nil
}

// Client returns the session client owned by this manager.
func (sm *SourceManager) Client() *TileClient {
	return sm.client
}

// UseAttribution swaps in a concrete toolkit attribution adapter. Must be
// called before AddToMap.
func (sm *SourceManager) UseAttribution(a AttributionControl) {
	sm.attribution = a
}

// AddToMap 注册栅格源、图层与控件，并订阅source data事件同步版权信息。
// 重复挂载由地图端报错，这里不做去重。
func (sm *SourceManager) AddToMap(m Map) error {
	if m == nil {
		return ErrMissingMap
	}
	tileURL, err := sm.client.TileJSONURL()
	if err != nil {
		return err
	}
	if err := m.AddSource(SourceID, RasterSource{
		Type:     "raster",
		Tiles:    []string{tileURL},
		TileSize: TileSize,
	}); err != nil {
		return err
	}
	if err := m.AddLayer(RasterLayer{
		ID:     LayerID,
		Type:   "raster",
		Source: SourceID,
	}); err != nil {
		return err
	}
	m.AddControl(sm.attribution, "bottom-right")
	m.AddControl(sm.logo, "bottom-left")

	ctx, cancel := context.WithCancel(context.Background())
	sm.cancel = cancel
	m.OnSourceData(func(ev SourceDataEvent) {
		sm.refreshAttribution(ctx, ev)
	})
	return nil
}

// RemoveFromMap 逐项检查后移除图层、源与控件，对未初始化完成的地图安全。
// 同时取消还在途的版权刷新，避免脱离地图后再写入过期文案。
func (sm *SourceManager) RemoveFromMap(m Map) error {
	if m == nil {
		return ErrMissingMap
	}
	if sm.cancel != nil {
		sm.cancel()
		sm.cancel = nil
	}
	if m.HasLayer(LayerID) {
		m.RemoveLayer(LayerID)
	}
	if m.HasSource(SourceID) {
		m.RemoveSource(SourceID)
	}
	m.RemoveControl(sm.attribution)
	m.RemoveControl(sm.logo)
	return nil
}

// refreshAttribution fetches the viewport copyright for the event bounds and
// rewrites the attribution text only when it changed. Failures here have no
// caller to report to, so they are logged and swallowed.
func (sm *SourceManager) refreshAttribution(ctx context.Context, ev SourceDataEvent) {
	if !ev.IsSourceLoaded || ctx.Err() != nil {
		return
	}
	zoom := int(math.Round(ev.Zoom))
	vp, err := sm.client.GetViewport(ctx, zoom, ev.Bounds.North, ev.Bounds.South, ev.Bounds.East, ev.Bounds.West)
	if err != nil {
		log.Warnf("attribution refresh failure ~ %s", err)
		return
	}
	if ctx.Err() != nil {
		// detached while the request was in flight, drop the stale update
		return
	}
	if vp.Copyright == sm.attribution.Text() {
		return
	}
	sm.attribution.SetText(vp.Copyright)
	sm.attribution.Redraw()
}
