package main

import (
	"errors"
	"fmt"
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"
	log "github.com/sirupsen/logrus"
)

// TileProxy 会话瓦片代理，浏览器端MapLibre只访问代理，不接触api key
type TileProxy struct {
	client *TileClient
	cache  *TileCache
}

// NewTileProxy 创建代理服务，cache可为nil表示不启用缓存
func NewTileProxy(client *TileClient, cache *TileCache) *TileProxy {
	return &TileProxy{client: client, cache: cache}
}

// Router 构建路由
func (p *TileProxy) Router() *gin.Engine {
	gin.SetMode(gin.ReleaseMode)
	r := gin.New()
	r.Use(gin.Recovery())
	maps := r.Group("/maps")
	{
		maps.GET("/session", p.sessionInfo)
		maps.GET("/tilejson.json", p.tileJSON)
		maps.GET("/viewport", p.viewport)
		maps.GET("/tiles/:z/:x/:y", p.tile)
	}
	return r
}

// sessionInfo 会话元数据，不泄露token
func (p *TileProxy) sessionInfo(c *gin.Context) {
	session := p.client.Session()
	if session == nil {
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": ErrNoSession.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"expiry":      session.Expiry,
		"tileWidth":   session.TileWidth,
		"tileHeight":  session.TileHeight,
		"imageFormat": session.ImageFormat,
	})
}

// tileJSON 指向代理瓦片路由的TileJSON文档
func (p *TileProxy) tileJSON(c *gin.Context) {
	session := p.client.Session()
	if session == nil {
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": ErrNoSession.Error()})
		return
	}
	scheme := "http"
	if c.Request.TLS != nil {
		scheme = "https"
	}
	c.JSON(http.StatusOK, gin.H{
		"tilejson":    "2.2.0",
		"name":        "google-tiles",
		"tiles":       []string{fmt.Sprintf("%s://%s/maps/tiles/{z}/{x}/{y}", scheme, c.Request.Host)},
		"minzoom":     ZoomMin,
		"maxzoom":     ZoomMax,
		"attribution": "Map data &copy; Google",
	})
}

func (p *TileProxy) viewport(c *gin.Context) {
	zoom, err := strconv.Atoi(c.DefaultQuery("zoom", "0"))
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid zoom"})
		return
	}
	var bounds [4]float64
	for i, name := range []string{"north", "south", "east", "west"} {
		v, err := strconv.ParseFloat(c.Query(name), 64)
		if err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "invalid " + name})
			return
		}
		bounds[i] = v
	}
	vp, err := p.client.GetViewport(c.Request.Context(), zoom, bounds[0], bounds[1], bounds[2], bounds[3])
	if err != nil {
		if errors.Is(err, ErrNoSession) {
			c.JSON(http.StatusServiceUnavailable, gin.H{"error": err.Error()})
			return
		}
		c.JSON(http.StatusBadGateway, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, vp)
}

func (p *TileProxy) tile(c *gin.Context) {
	z, errZ := strconv.Atoi(c.Param("z"))
	x, errX := strconv.Atoi(c.Param("x"))
	y, errY := strconv.Atoi(c.Param("y"))
	if errZ != nil || errX != nil || errY != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid tile coordinate"})
		return
	}
	if z < ZoomMin || z > ZoomMax || x < 0 || y < 0 || x >= 1<<uint(z) || y >= 1<<uint(z) {
		c.JSON(http.StatusBadRequest, gin.H{"error": "tile coordinate out of range"})
		return
	}
	if p.cache != nil {
		if data, ok := p.cache.Get(z, x, y); ok {
			c.Data(http.StatusOK, "image/"+p.imageFormat(), data)
			return
		}
	}
	data, contentType, err := p.client.FetchTile(c.Request.Context(), z, x, y)
	if err != nil {
		if errors.Is(err, ErrNoSession) {
			c.JSON(http.StatusServiceUnavailable, gin.H{"error": err.Error()})
			return
		}
		log.Errorf("proxy fetch tile %d/%d/%d failure ~ %s", z, x, y, err)
		c.JSON(http.StatusBadGateway, gin.H{"error": err.Error()})
		return
	}
	if p.cache != nil {
		p.cache.Put(z, x, y, data)
	}
	if contentType == "" {
		contentType = "image/" + p.imageFormat()
	}
	c.Data(http.StatusOK, contentType, data)
}

func (p *TileProxy) imageFormat() string {
	if session := p.client.Session(); session != nil && session.ImageFormat != "" {
		return session.ImageFormat
	}
	return "png"
}
