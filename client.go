package main

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"

	log "github.com/sirupsen/logrus"
)

// GoogleTileAPI Google瓦片服务地址
const GoogleTileAPI = "https://tile.googleapis.com"

var (
	//ErrMissingAPIKey api key未配置
	ErrMissingAPIKey = errors.New("missing google tile api key")
	//ErrNoSession 会话未创建
	ErrNoSession = errors.New("no active session, create a session first")
	//ErrMissingMap 地图实例为空
	ErrMissingMap = errors.New("missing map instance")
)

// SessionOptions 会话创建参数
type SessionOptions struct {
	MapType     string                   `json:"mapType"`
	Language    string                   `json:"language"`
	Region      string                   `json:"region"`
	ImageFormat string                   `json:"imageFormat,omitempty"`
	Scale       string                   `json:"scale,omitempty"`
	HighDPI     bool                     `json:"highDpi,omitempty"`
	LayerTypes  []string                 `json:"layerTypes,omitempty"`
	Styles      []map[string]interface{} `json:"styles,omitempty"`
	Overlay     bool                     `json:"overlay,omitempty"`
	APIOptions  []string                 `json:"apiOptions,omitempty"`
}

// Session 瓦片会话，创建后不再修改，新会话整体替换旧会话
type Session struct {
	Token       string `json:"session"`
	Expiry      string `json:"expiry"`
	TileWidth   int    `json:"tileWidth"`
	TileHeight  int    `json:"tileHeight"`
	ImageFormat string `json:"imageFormat"`
}

// ZoomRect 可用最大级别的地理范围
type ZoomRect struct {
	MaxZoom int     `json:"maxZoom"`
	North   float64 `json:"north"`
	South   float64 `json:"south"`
	East    float64 `json:"east"`
	West    float64 `json:"west"`
}

// ViewportResponse 视口版权信息
type ViewportResponse struct {
	Copyright    string     `json:"copyright"`
	MaxZoomRects []ZoomRect `json:"maxZoomRects"`
}

// TileClient 持有api key与当前会话的瓦片客户端
type TileClient struct {
	key     string
	base    string
	session *Session
	hc      *http.Client
}

// NewTileClient 创建瓦片客户端
func NewTileClient(key string) (*TileClient, error) {
	if key == "" {
		return nil, ErrMissingAPIKey
	}
	return &TileClient{
		key:  key,
		base: GoogleTileAPI,
		hc:   &http.Client{},
	}, nil
}

// Session returns the currently held session, nil before CreateSession.
func (c *TileClient) Session() *Session {
	return c.session
}

// CreateSession 创建瓦片会话，成功后整体替换当前会话
func (c *TileClient) CreateSession(ctx context.Context, opts SessionOptions) (*Session, error) {
	body, err := json.Marshal(opts)
	if err != nil {
		return nil, err
	}
	reqURL := fmt.Sprintf("%s/v1/createSession?key=%s", c.base, url.QueryEscape(c.key))
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, reqURL, bytes.NewReader(body))
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", "application/json")
	resp, err := c.hc.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return nil, fmt.Errorf("Error creating session: %s", resp.Status)
	}
	var session Session
	if err := json.NewDecoder(resp.Body).Decode(&session); err != nil {
		return nil, err
	}
	c.session = &session
	log.Debugf("session created, %dx%d %s tiles, expiry %s",
		session.TileWidth, session.TileHeight, session.ImageFormat, session.Expiry)
	return &session, nil
}

// GetViewport 查询视口版权与级别范围
func (c *TileClient) GetViewport(ctx context.Context, zoom int, north, south, east, west float64) (*ViewportResponse, error) {
	if c.session == nil {
		return nil, ErrNoSession
	}
	q := url.Values{}
	q.Set("session", c.session.Token)
	q.Set("key", c.key)
	q.Set("zoom", strconv.Itoa(zoom))
	q.Set("north", strconv.FormatFloat(north, 'f', -1, 64))
	q.Set("south", strconv.FormatFloat(south, 'f', -1, 64))
	q.Set("east", strconv.FormatFloat(east, 'f', -1, 64))
	q.Set("west", strconv.FormatFloat(west, 'f', -1, 64))
	reqURL := fmt.Sprintf("%s/tile/v1/viewport?%s", c.base, q.Encode())
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, reqURL, nil)
	if err != nil {
		return nil, err
	}
	resp, err := c.hc.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return nil, fmt.Errorf("Error fetching viewport: %s", resp.Status)
	}
	var vp ViewportResponse
	if err := json.NewDecoder(resp.Body).Decode(&vp); err != nil {
		return nil, err
	}
	return &vp, nil
}

// TileJSONURL returns the {z}/{x}/{y} template for map toolkits that do their
// own placeholder substitution.
func (c *TileClient) TileJSONURL() (string, error) {
	if c.session == nil {
		return "", ErrNoSession
	}
	return fmt.Sprintf("%s/v1/2dtiles/{z}/{x}/{y}?session=%s&key=%s",
		c.base, url.QueryEscape(c.session.Token), url.QueryEscape(c.key)), nil
}

// TileURL returns a fully substituted tile image URL.
func (c *TileClient) TileURL(z, x, y, orientation int) (string, error) {
	if c.session == nil {
		return "", ErrNoSession
	}
	return fmt.Sprintf("%s/v1/2dtiles/%d/%d/%d?session=%s&key=%s&orientation=%d",
		c.base, z, x, y, url.QueryEscape(c.session.Token), url.QueryEscape(c.key), orientation), nil
}

// FetchTile 拉取单张瓦片，返回瓦片数据与content type
func (c *TileClient) FetchTile(ctx context.Context, z, x, y int) ([]byte, string, error) {
	tileURL, err := c.TileURL(z, x, y, 0)
	if err != nil {
		return nil, "", err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, tileURL, nil)
	if err != nil {
		return nil, "", err
	}
	resp, err := c.hc.Do(req)
	if err != nil {
		return nil, "", err
	}
	defer resp.Body.Close()
	if resp.StatusCode != 200 {
		return nil, "", fmt.Errorf("fetch tile %d/%d/%d error, status code: %d ~", z, x, y, resp.StatusCode)
	}
	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, "", err
	}
	return body, resp.Header.Get("Content-Type"), nil
}
