package main

import (
	"database/sql"
	"errors"
	"fmt"
	"io"
	"net/http"
	"os"
	"path/filepath"
	"strconv"
	"sync"
	"time"

	pb "github.com/cheggaaa/pb/v3"
	_ "github.com/go-sql-driver/mysql"
	"github.com/gomodule/redigo/redis"
	"github.com/google/uuid"
	_ "github.com/mattn/go-sqlite3"
	"github.com/paulmach/orb/maptile"
	log "github.com/sirupsen/logrus"
	"github.com/spf13/viper"
)

type State int

const (
	Initialize State = iota
	Running
	Pause
	Ending
	Aborting
	Terminated
)

// Task 会话瓦片下载任务
type Task struct {
	ID                 string
	Name               string
	Description        string
	File               string
	MinZoom            int
	MaxZoom            int
	CurCol             int
	CurZoom            int
	StartCol           int
	Layers             []Layer
	Total              int64
	client             *TileClient
	db                 *sql.DB
	workerCount        int
	savePipeSize       int
	wg                 sync.WaitGroup
	abort, pause, play chan struct{}
	workers            chan maptile.Tile
	savingpipe         chan Tile
	signal             State
	aborted            bool
	outformat          string
	redisPool          redis.Pool
	conn               string
}

// NewTask 创建下载任务
func NewTask(layers []Layer, client *TileClient, id string) (*Task, error) {
	if len(layers) == 0 {
		return nil, errors.New("empty layer")
	}
	if client == nil || client.Session() == nil {
		return nil, ErrNoSession
	}
	task := Task{
		ID:           uuid.New().String(),
		Name:         viper.GetString("app.name"),
		Layers:       layers,
		MinZoom:      int(layers[0].Zoom),
		MaxZoom:      int(layers[len(layers)-1].Zoom),
		CurCol:       0,
		StartCol:     -1,
		client:       client,
		signal:       Initialize,
		abort:        make(chan struct{}, 1),
		pause:        make(chan struct{}),
		play:         make(chan struct{}),
		workerCount:  viper.GetInt("task.workers"),
		savePipeSize: viper.GetInt("task.savepipe"),
		outformat:    viper.GetString("output.format"),
		conn:         viper.GetString("output.conn"),
		redisPool:    newRedisPool(viper.GetString("cache.addr")),
	}
	task.CurZoom = task.MinZoom
	if id != "" {
		task.ID = id
	}
	cz, cx := task.getCursor()
	if cz != -1 && cx != -1 {
		task.MinZoom = cz
		task.StartCol = cx
	}
	for i := 0; i < len(layers); i++ {
		if layers[i].Collection != nil {
			set, err := CoverCollection(layers[i].Collection, layers[i].Zoom)
			if err != nil {
				return nil, err
			}
			layers[i].Count = int64(len(set))
		} else {
			layers[i].Count = GetTileCount(layers[i].Bound, layers[i].Zoom)
		}
		task.Total += layers[i].Count
	}
	task.workers = make(chan maptile.Tile, task.workerCount)
	task.savingpipe = make(chan Tile, task.savePipeSize)
	if task.outformat == "mbtiles" {
		err := task.SetupMBTileTables(id != "")
		if err != nil {
			log.Errorf("Database connect and prepare error")
			return nil, err
		}
	}
	if task.outformat == "mysql" {
		err := task.SetupMysqlTables(id != "")
		if err != nil {
			log.Errorf("Database connect and prepare error")
			return nil, err
		}
	}
	http.DefaultTransport.(*http.Transport).MaxIdleConnsPerHost = task.workerCount
	http.DefaultTransport.(*http.Transport).MaxConnsPerHost = task.workerCount
	http.DefaultTransport.(*http.Transport).IdleConnTimeout = time.Second * 5
	http.DefaultTransport.(*http.Transport).MaxIdleConns = task.workerCount
	http.DefaultClient.Timeout = time.Minute * 5
	return &task, nil
}

// MetaItems mbtiles元数据
func (task *Task) MetaItems() map[string]string {
	b := task.Layers[len(task.Layers)-1].Bound
	if b == nil {
		b = &LngLatBbox{West: -180, South: -85, East: 180, North: 85}
	}
	x := (b.East + b.West) / 2
	y := (b.South + b.North) / 2
	session := task.client.Session()
	data := map[string]string{
		"id":          task.ID,
		"name":        task.Name,
		"description": task.Description,
		"attribution": `Map data &copy; Google`,
		"basename":    task.Name,
		"format":      session.ImageFormat,
		"type":        "baselayer",
		"pixel_scale": strconv.Itoa(TileSize),
		"version":     MBTileVersion,
		"bounds":      fmt.Sprintf(`%f,%f,%f,%f`, b.West, b.South, b.East, b.North),
		"center":      fmt.Sprintf(`%f,%f,%d`, x, y, (task.MinZoom+task.MaxZoom)/2),
		"minzoom":     strconv.Itoa(task.MinZoom),
		"maxzoom":     strconv.Itoa(task.MaxZoom),
	}
	return data
}

func (task *Task) SetupMBTileTables(ignore bool) error {
	if task.File == "" {
		outdir := viper.GetString("output.directory")
		os.MkdirAll(outdir, os.ModePerm)
		task.File = filepath.Join(outdir, fmt.Sprintf("%s.mbtiles", task.Name))
	}
	db, err := sql.Open("sqlite3", task.File)
	if err != nil {
		return err
	}

	err = optimizeConnection(db)
	if err != nil {
		return err
	}

	_, err = db.Exec("create table if not exists tiles (zoom_level integer, tile_column integer, tile_row integer, tile_data blob);")
	if err != nil {
		return err
	}

	_, err = db.Exec("create table if not exists metadata (name text, value text);")
	if err != nil {
		return err
	}
	if !ignore {
		_, _ = db.Exec("create unique index name on metadata (name);")
		_, _ = db.Exec("create unique index tile_index on tiles(zoom_level, tile_column, tile_row);")
		// Load metadata.
		for name, value := range task.MetaItems() {
			_, err := db.Exec("insert or ignore into metadata (name, value) values (?, ?)", name, value)
			if err != nil {
				return err
			}
		}
	}

	task.db = db
	return nil
}

func (task *Task) SetupMysqlTables(ignore bool) error {
	db, err := sql.Open("mysql", task.conn)
	if err != nil {
		return err
	}
	db.SetMaxOpenConns(10)
	db.SetMaxIdleConns(10)
	_, err = db.Exec("create table if not exists tiles (zoom_level integer, tile_column integer, tile_row integer, tile_data mediumblob);")
	if err != nil {
		return err
	}

	_, err = db.Exec("create table if not exists metadata (name VARCHAR(50) , value mediumtext);")
	if err != nil {
		return err
	}
	if !ignore {
		_, _ = db.Exec("create unique index name on metadata (name);")
		_, _ = db.Exec("create unique index tile_index on tiles(zoom_level, tile_column, tile_row);")
		// Load metadata.
		for name, value := range task.MetaItems() {
			_, err := db.Exec("insert ignore into metadata (name, value) values (?, ?)", name, value)
			if err != nil {
				return err
			}
		}
	}
	task.db = db
	return nil
}

// abortFun 中止任务，游标落盘后可用相同id续传
func (task *Task) abortFun() {
	task.aborted = true
	task.signal = Aborting
	task.abort <- struct{}{}
	go func() {
		for {
			if task.signal == Terminated {
				task.saveCursor()
				_ = task.redisPool.Close()
				if task.db != nil {
					_ = task.db.Close()
				}
				break
			}
			time.Sleep(time.Second * 2)
		}
	}()
}

func (task *Task) pauseFun() {
	task.pause <- struct{}{}
	task.signal = Pause
}

func (task *Task) playFun() {
	task.play <- struct{}{}
	task.signal = Running
}

// Aborted 任务是否被中止
func (task *Task) Aborted() bool {
	return task.aborted
}

// savePipe 保存瓦片管道
func (task *Task) savePipe() {
	var batch []Tile
	for tile := range task.savingpipe {
		batch = append(batch, tile)
		if len(batch) == task.savePipeSize {
			err := saveToMBTile(batch, task.db, task.outformat)
			if err != nil {
				task.saveFailedToRedis(batch)
				log.Errorf("save tile to mbtiles db error ~ %s", err)
			}
			batch = []Tile{}
		}
	}
	if task.signal < Terminated {
		err := saveToMBTile(batch, task.db, task.outformat)
		if err != nil {
			task.saveFailedToRedis(batch)
			log.Errorf("save tile to mbtiles db error ~ %s", err)
		} else {
			log.Infof("save batch complete count %d", len(batch))
		}
	}
	task.wg.Done()
	task.signal = Terminated
}

// saveTile 保存单张瓦片文件
func (task *Task) saveTile(tile Tile) error {
	defer task.wg.Done()
	outdir := viper.GetString("output.directory")
	err := saveToFiles(tile, filepath.Join(outdir, task.Name), task.client.Session().ImageFormat)
	if err != nil {
		log.Errorf("create %v tile file error ~ %s", tile.T, err)
	}
	return nil
}

// tileFetcher 会话瓦片加载器
func (task *Task) tileFetcher(t maptile.Tile, isRetry bool) {
	defer func() {
		task.wg.Done()
		<-task.workers
	}()
	tileURL, err := task.client.TileURL(int(t.Z), int(t.X), int(t.Y), 0)
	if err != nil {
		task.errToRedis(t, err.Error())
		return
	}
	resp, err := http.Get(tileURL)
	if err != nil {
		task.errToRedis(t, err.Error())
		log.Errorf("fetch :%v error, details: %s ~", t, err)
		return
	}
	defer func() {
		err = resp.Body.Close()
		if err != nil {
			log.Warnf("response close failure")
		}
	}()
	if resp.StatusCode != 200 {
		if resp.StatusCode != 404 {
			log.Errorf("fetch %v tile error, status code: %d ~", t, resp.StatusCode)
		} else if isRetry {
			task.cleanFail(t)
		}
		task.errToRedis(t, "resp "+strconv.Itoa(resp.StatusCode))
		return
	}
	body, err := io.ReadAll(resp.Body)
	if err != nil {
		task.errToRedis(t, err.Error())
		log.Errorf("read %v tile error ~ %s", t, err)
		return
	}
	if len(body) == 0 {
		if isRetry {
			task.cleanFail(t)
		}
		task.errToRedis(t, "nil tile")
		return //zero byte tiles
	}
	tile := Tile{T: t, C: body}
	if task.outformat == "mbtiles" || task.outformat == "mysql" {
		if task.signal < Aborting {
			task.savingpipe <- tile
		}
	} else {
		task.wg.Add(1)
		_ = task.saveTile(tile)
	}
	if isRetry {
		task.cleanFail(t)
	}
}

// downloadLayer 下载指定层级
func (task *Task) downloadLayer(layer Layer) {
	bar := pb.Full.Start64(layer.Count)
	bar.Set("prefix", fmt.Sprintf("Zoom %d : ", layer.Zoom))
	var tileList = make(chan maptile.Tile)
	if layer.Collection != nil {
		go func() {
			defer close(tileList)
			set, err := CoverCollection(layer.Collection, layer.Zoom)
			if err != nil {
				log.Errorf("cover geojson error ~ %s", err)
				return
			}
			for t, ok := range set {
				if ok {
					tileList <- t
				}
			}
		}()
	} else {
		go GenerateTiles(layer.Bound, layer.Zoom, tileList)
	}

	for tile := range tileList {
		if task.StartCol != -1 && int(layer.Zoom) == task.MinZoom {
			if int(tile.X) < task.StartCol-1 {
				bar.Increment()
				continue
			}
		}
		if task.CurCol != int(tile.X) {
			task.CurCol = int(tile.X)
			task.saveCursor()
		}
		select {
		case task.workers <- tile:
			bar.Increment()
			task.wg.Add(1)
			go task.tileFetcher(tile, false)
		case <-task.abort:
			log.Infof("task %s got canceled.", task.ID)
			bar.Finish()
			//排空生产管道，解除生成协程阻塞
			go func() {
				for range tileList {
				}
			}()
			return
		case <-task.pause:
			log.Infof("task %s suspended.", task.ID)
			select {
			case <-task.play:
				log.Infof("task %s go on.", task.ID)
			case <-task.abort:
				log.Infof("task %s got canceled.", task.ID)
				bar.Finish()
				go func() {
					for range tileList {
					}
				}()
				return
			}
			task.workers <- tile
			bar.Increment()
			task.wg.Add(1)
			go task.tileFetcher(tile, false)
		}
	}
	task.wg.Wait()
	bar.Finish()
	log.Infof("task %s zoom %d finished ~", task.ID, layer.Zoom)
}

// Download 开启下载任务
func (task *Task) Download() {
	task.signal = Running
	go task.savePipe()
	go task.printPipe()
	go task.retryLoop()
	for _, layer := range task.Layers {
		if int(layer.Zoom) >= task.MinZoom && task.signal < Pause {
			task.CurZoom = int(layer.Zoom)
			task.downloadLayer(layer)
		}
	}
	if task.signal != Aborting {
		task.signal = Ending
	}
	task.wg.Add(1)
	close(task.savingpipe)
	task.wg.Wait()
	task.signal = Terminated
	log.Infof("task %s finished ~", task.ID)
}

func (task *Task) printPipe() {
	for {
		if task.signal == Terminated {
			break
		}
		time.Sleep(time.Second * 5)
		log.Debugf("cache pipe size %d", len(task.savingpipe))
	}
}

func (task *Task) retryLoop() {
	for {
		task.retry()
		time.Sleep(time.Second * 5)
		if task.signal == Terminated {
			break
		}
	}
}
