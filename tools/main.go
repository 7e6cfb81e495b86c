package main

import (
	"database/sql"
	"flag"
	"io"
	"os"
	"strconv"
	"strings"
	"sync"
	"time"

	nested "github.com/antonfisher/nested-logrus-formatter"
	"github.com/gomodule/redigo/redis"
	_ "github.com/mattn/go-sqlite3"
	log "github.com/sirupsen/logrus"
)

//瓦片档案维护工具:按列区间在mbtiles档案之间搬运瓦片,或导出redis失败列表

var (
	srcFile  string
	dstFile  string
	zoomFlag int
	offFlag  int
	taskFlag string
	redisAdr string
	dumpFile string
)

type record struct {
	zoomLevel  int
	tileColumn int
	tileRow    int
	tileData   []byte
}

type exportRec struct {
	wg         sync.WaitGroup
	workers    chan cur
	savingpipe chan []record
	complete   chan struct{}
}

type cur struct {
	zoom   int
	column int
}

func init() {
	flag.StringVar(&srcFile, "src", "", "source mbtiles `file`")
	flag.StringVar(&dstFile, "dst", "", "target mbtiles `file`")
	flag.IntVar(&zoomFlag, "z", 15, "zoom `level` to export")
	flag.IntVar(&offFlag, "o", 0, "start column `offset`")
	flag.StringVar(&taskFlag, "t", "", "task `id` for fail list dump")
	flag.StringVar(&redisAdr, "r", "127.0.0.1:6379", "redis `address`")
	flag.StringVar(&dumpFile, "f", "errTile.txt", "fail list output `file`")
	log.SetFormatter(&nested.Formatter{
		HideKeys:        true,
		ShowFullLevel:   true,
		TimestampFormat: "2006-01-02 15:04:05.000",
	})
	file, err := os.OpenFile("export.log", os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0666)
	writers := []io.Writer{file, os.Stdout}
	//同时写文件和屏幕
	fileWriter := io.MultiWriter(writers...)
	if err == nil {
		log.SetOutput(fileWriter)
	} else {
		log.Info("failed to log to file.")
	}
	log.SetLevel(log.DebugLevel)
}

func main() {
	flag.Parse()
	if taskFlag != "" {
		exportFailListToLog(taskFlag)
		return
	}
	if srcFile == "" || dstFile == "" {
		flag.Usage()
		return
	}
	exportTileToSqlite(zoomFlag, offFlag)
}

func exportTileToSqlite(zoom, offset int) {
	task := exportRec{
		workers:    make(chan cur, 8),
		savingpipe: make(chan []record, 16),
		complete:   make(chan struct{}),
	}
	src, err := sql.Open("sqlite3", srcFile)
	if err != nil {
		log.Fatalf("open source db error, details: %s", err)
	}
	dst, err := sql.Open("sqlite3", dstFile)
	if err != nil {
		log.Fatalf("open target db error, details: %s", err)
	}
	for _, pragma := range []string{
		"PRAGMA synchronous=1",
		"PRAGMA locking_mode=EXCLUSIVE",
		"PRAGMA journal_mode=OFF",
		"PRAGMA page_size=4096",
		"PRAGMA cache_size=8000",
	} {
		if _, err = dst.Exec(pragma); err != nil {
			log.Fatalf("pragma error, details: %s", err)
		}
	}
	var maxCol int
	err = src.QueryRow("select max(tile_column) from tiles where zoom_level=?", zoom).Scan(&maxCol)
	if err != nil {
		log.Fatalf("query max column error, details: %s", err)
	}
	var count = 0
	go task.savePipe(dst)
	for offset <= maxCol {
		cursor := cur{zoom: zoom, column: offset}
		task.workers <- cursor
		task.wg.Add(1)
		go task.genRec(src, cursor)
		offset++
		count++
		time.Sleep(time.Millisecond * 100)
	}
	task.wg.Wait()
	close(task.savingpipe)
	<-task.complete
	log.Infof("total %d columns exported", count)
}

func (task *exportRec) genRec(src *sql.DB, cursor cur) {
	defer task.wg.Done()
	defer func() {
		<-task.workers
	}()
	rows, err := src.Query("select zoom_level, tile_column, tile_row, tile_data from tiles where zoom_level=? and tile_column=? limit 40000", cursor.zoom, cursor.column)
	if err != nil {
		return
	}
	defer rows.Close()
	var recs []record
	for rows.Next() {
		var tr record
		if err := rows.Scan(&tr.zoomLevel, &tr.tileColumn, &tr.tileRow, &tr.tileData); err != nil {
			continue
		}
		recs = append(recs, tr)
	}
	if len(recs) > 0 {
		task.savingpipe <- recs
	}
}

func (task *exportRec) savePipe(db *sql.DB) {
	for rec := range task.savingpipe {
		err := task.saveToSqlite(rec, db)
		if err != nil {
			log.Errorf("save tile to mbtiles db error ~ %s", err)
		}
	}
	close(task.complete)
}

func (task *exportRec) saveToSqlite(rows []record, dst *sql.DB) error {
	start := time.Now()
	tx, er := dst.Begin()
	if er != nil {
		return er
	}
	sqlStr := "insert or ignore into tiles (zoom_level, tile_column, tile_row, tile_data) values (?, ?, ?, ?);"
	var roc = 0
	for _, rec := range rows {
		_, err := tx.Exec(sqlStr, rec.zoomLevel, rec.tileColumn, rec.tileRow, rec.tileData)
		if err != nil {
			continue
		}
		roc++
	}
	err := tx.Commit()
	log.Infof("offset %d,batch %d complete,cost %d", rows[0].tileColumn, roc, time.Since(start).Milliseconds())
	return err
}

// exportFailListToLog 导出下载失败的瓦片列表
func exportFailListToLog(taskID string) {
	f, err := os.OpenFile(dumpFile, os.O_RDWR|os.O_CREATE|os.O_APPEND, 0666)
	if err != nil {
		log.Errorf("open file error : %s", err)
		return
	}
	pool := redis.Pool{
		MaxIdle:     16,
		MaxActive:   32,
		IdleTimeout: 120,
		Dial: func() (redis.Conn, error) {
			return redis.Dial("tcp", redisAdr)
		},
	}
	conn := pool.Get()
	defer func() {
		f.Close()
		conn.Close()
		pool.Close()
	}()
	replay, err := redis.Strings(conn.Do("hkeys", "fail_list:"+taskID))
	if err != nil {
		log.Errorf("redis read fail list error : %s", err)
		return
	}
	for tk := range replay {
		st := strings.Replace(replay[tk], "tile_", "", -1)
		st = strings.Replace(st, "_", "/", -1)
		_, _ = f.WriteString(st + "\n")
	}
	log.Infof("fail list %s dumped, %s records", taskID, strconv.Itoa(len(replay)))
}
