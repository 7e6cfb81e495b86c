package main

import (
	"encoding/json"
	"strconv"
	"strings"

	"github.com/gomodule/redigo/redis"
	"github.com/paulmach/orb/maptile"
	log "github.com/sirupsen/logrus"
)

func newRedisPool(addr string) redis.Pool {
	return redis.Pool{
		MaxIdle:     16,
		MaxActive:   32,
		IdleTimeout: 120,
		Dial: func() (redis.Conn, error) {
			return redis.Dial("tcp", addr)
		},
	}
}

// TileCache 代理服务的瓦片缓存
type TileCache struct {
	pool redis.Pool
	ttl  int
}

// NewTileCache 创建redis瓦片缓存，ttl单位秒，0为不过期
func NewTileCache(addr string, ttl int) *TileCache {
	return &TileCache{pool: newRedisPool(addr), ttl: ttl}
}

func (tc *TileCache) Get(z, x, y int) ([]byte, bool) {
	conn := tc.pool.Get()
	defer closeRedisConn(conn)
	key := TileKey(maptile.New(uint32(x), uint32(y), maptile.Zoom(z)))
	data, err := redis.Bytes(conn.Do("get", key))
	if err != nil {
		return nil, false
	}
	return data, true
}

func (tc *TileCache) Put(z, x, y int, data []byte) {
	conn := tc.pool.Get()
	defer closeRedisConn(conn)
	key := TileKey(maptile.New(uint32(x), uint32(y), maptile.Zoom(z)))
	var err error
	if tc.ttl > 0 {
		_, err = conn.Do("setex", key, tc.ttl, data)
	} else {
		_, err = conn.Do("set", key, data)
	}
	if err != nil {
		log.Errorf("redis save tile failure")
	}
}

func (tc *TileCache) Close() {
	_ = tc.pool.Close()
}

func closeRedisConn(conn redis.Conn) {
	err := conn.Close()
	if err != nil {
		log.Errorf("redis connection close failure")
	}
}

func (task *Task) cleanInfo() {
	var conn redis.Conn
	defer func() {
		closeRedisConn(conn)
	}()
	conn = task.redisPool.Get()
	_, _ = redis.String(conn.Do("del", "cursor:"+task.ID))
	_, _ = redis.String(conn.Do("del", "nil_list:"+task.ID))
	_, _ = redis.String(conn.Do("del", "fail_list:"+task.ID))
}

func (task *Task) getCursor() (int, int) {
	var conn redis.Conn
	defer func() {
		closeRedisConn(conn)
	}()
	conn = task.redisPool.Get()
	replay, err := redis.String(conn.Do("get", "cursor:"+task.ID))
	if err != nil {
		return -1, -1
	}
	cursor := strings.Split(replay, ":")
	if len(cursor) != 2 {
		return -1, -1
	}
	zoom, err := strconv.ParseInt(cursor[0], 10, 64)
	if err != nil {
		return -1, -1
	}
	col, err := strconv.ParseInt(cursor[1], 10, 64)
	if err != nil {
		return -1, -1
	}
	return int(zoom), int(col)
}

func (task *Task) saveCursor() {
	var conn redis.Conn
	defer func() {
		closeRedisConn(conn)
	}()
	conn = task.redisPool.Get()
	replay, err := redis.Int64(conn.Do("set", "cursor:"+task.ID, strconv.Itoa(task.CurZoom)+":"+strconv.Itoa(task.CurCol)))
	if err != nil && replay < 0 {
		log.Errorf("redis save cursor failure")
	}
}

func (task *Task) saveFailedToRedis(batch []Tile) {
	for _, tile := range batch {
		task.errToRedis(tile.T, "save failure")
	}
}

func (task *Task) errToRedis(tile maptile.Tile, res string) {
	var conn redis.Conn
	defer func() {
		closeRedisConn(conn)
	}()
	conn = task.redisPool.Get()
	et := ErrTile{
		X:   tile.X,
		Y:   tile.Y,
		Z:   uint32(tile.Z),
		Res: res,
	}
	key := TileKey(tile)
	val, _ := json.Marshal(et)
	if res == "nil tile" || res == "resp 404" {
		replay, err := redis.Int64(conn.Do("hset", "nil_list:"+task.ID, key, val))
		if err != nil && replay < 0 {
			log.Errorf("redis save tile failure")
		}
	} else {
		replay, err := redis.Int64(conn.Do("hset", "fail_list:"+task.ID, key, val))
		if err != nil && replay < 0 {
			log.Errorf("redis save tile failure")
		}
	}
}

func (task *Task) cleanFail(t maptile.Tile) {
	var conn redis.Conn
	defer func() {
		closeRedisConn(conn)
	}()
	conn = task.redisPool.Get()
	_, err := redis.Int64(conn.Do("hdel", "fail_list:"+task.ID, TileKey(t)))
	if err != nil {
		return
	}
}

func (task *Task) retry() {
	var conn redis.Conn
	var alls map[string]string
	defer func() {
		closeRedisConn(conn)
	}()
	conn = task.redisPool.Get()
	alls, err := redis.StringMap(conn.Do("hgetall", "fail_list:"+task.ID))
	if err != nil {
		return
	}
	for kv := range alls {
		var te ErrTile
		err = json.Unmarshal([]byte(alls[kv]), &te)
		if err != nil {
			continue
		}
		tile := maptile.New(te.X, te.Y, maptile.Zoom(te.Z))
		task.workers <- tile
		task.wg.Add(1)
		go task.tileFetcher(tile, true)
	}
}
