package main

import (
	"context"
	"flag"
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"
	"time"

	log "github.com/sirupsen/logrus"

	nested "github.com/antonfisher/nested-logrus-formatter"
	"github.com/spf13/viper"
)

// flag
var (
	hf bool
	cf string
	mf string
)

func init() {
	flag.BoolVar(&hf, "h", false, "this help")
	flag.StringVar(&cf, "c", "conf.toml", "set config `file`")
	flag.StringVar(&mf, "m", "serve", "run `mode`, serve or download")
	flag.Usage = usage
	//InitLog 初始化日志
	log.SetFormatter(&nested.Formatter{
		HideKeys:        true,
		ShowFullLevel:   true,
		TimestampFormat: "2006-01-02 15:04:05.000",
	})
	// then wrap the log output with it
	file, err := os.OpenFile("gmtiler.log", os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0666)
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

func usage() {
	fmt.Fprintf(os.Stderr, `GMap-Tiler version: GMap-Tiler/1.0
Usage: GMap-Tiler [-h] [-c filename] [-m mode]
`)
	flag.PrintDefaults()
}

// initConf 初始化配置
func initConf(cfgFile string) {
	if _, err := os.Stat(cfgFile); os.IsNotExist(err) {
		log.Warnf("config file(%s) not exist", cfgFile)
	}
	viper.SetConfigType("toml")
	viper.SetConfigFile(cfgFile)
	viper.AutomaticEnv() // read in environment variables that match
	err := viper.ReadInConfig()
	if err != nil {
		log.Warnf("read config file(%s) error, details: %s", viper.ConfigFileUsed(), err)
	}
	viper.SetDefault("app.version", "v 1.0.0")
	viper.SetDefault("app.name", "gmtiler")
	viper.SetDefault("google.maptype", "roadmap")
	viper.SetDefault("google.language", "en-US")
	viper.SetDefault("google.region", "US")
	viper.SetDefault("proxy.addr", ":8080")
	viper.SetDefault("cache.addr", "127.0.0.1:6379")
	viper.SetDefault("cache.enable", false)
	viper.SetDefault("cache.ttl", 0)
	viper.SetDefault("output.format", "mbtiles")
	viper.SetDefault("output.directory", "output")
	viper.SetDefault("task.workers", 4)
	viper.SetDefault("task.savepipe", 8)
}

func sessionOptionsFromConf() SessionOptions {
	var styles []map[string]interface{}
	if err := viper.UnmarshalKey("google.styles", &styles); err != nil {
		log.Warnf("google.styles配置错误, details: %s", err)
	}
	return SessionOptions{
		MapType:     viper.GetString("google.maptype"),
		Language:    viper.GetString("google.language"),
		Region:      viper.GetString("google.region"),
		ImageFormat: viper.GetString("google.imageformat"),
		Scale:       viper.GetString("google.scale"),
		HighDPI:     viper.GetBool("google.highdpi"),
		LayerTypes:  viper.GetStringSlice("google.layertypes"),
		Styles:      styles,
		Overlay:     viper.GetBool("google.overlay"),
		APIOptions:  viper.GetStringSlice("google.apioptions"),
	}
}

func main() {
	flag.Parse()
	if hf {
		flag.Usage()
		return
	}
	if cf == "" {
		cf = "conf.toml"
	}
	initConf(cf)

	client, err := NewTileClient(viper.GetString("google.key"))
	if err != nil {
		log.Fatalf("client init error, details: %s", err)
	}
	_, err = client.CreateSession(context.Background(), sessionOptionsFromConf())
	if err != nil {
		log.Fatalf("session create error, details: %s", err)
	}

	switch mf {
	case "serve":
		runServe(client)
	case "download":
		runDownload(client)
	default:
		flag.Usage()
	}
}

func runServe(client *TileClient) {
	var cache *TileCache
	if viper.GetBool("cache.enable") {
		cache = NewTileCache(viper.GetString("cache.addr"), viper.GetInt("cache.ttl"))
		defer cache.Close()
	}
	proxy := NewTileProxy(client, cache)
	addr := viper.GetString("proxy.addr")
	log.Infof("tile proxy listening on %s", addr)
	if err := proxy.Router().Run(addr); err != nil {
		log.Fatalf("proxy serve error, details: %s", err)
	}
}

func runDownload(client *TileClient) {
	start := time.Now()
	type cfgLayer struct {
		Min     uint32
		Max     uint32
		Geojson string
		West    float64
		South   float64
		East    float64
		North   float64
	}
	var cfgLrs []cfgLayer
	err := viper.UnmarshalKey("lrs", &cfgLrs)
	if err != nil {
		log.Fatal("lrs配置错误")
	}
	var layers []Layer
	for _, lrs := range cfgLrs {
		for z := lrs.Min; z <= lrs.Max; z++ {
			layer := Layer{Zoom: z}
			if lrs.Geojson != "" {
				layer.Collection = loadCollection(lrs.Geojson)
			} else {
				layer.Bound = &LngLatBbox{West: lrs.West, South: lrs.South, East: lrs.East, North: lrs.North}
			}
			layers = append(layers, layer)
		}
	}
	task, err := NewTask(layers, client, viper.GetString("task.index"))
	if err != nil {
		log.Fatalf("task init error, details: %s", err)
	}
	//Ctrl-C中止并保存游标,SIGUSR1暂停,SIGUSR2恢复
	sig := make(chan os.Signal, 1)
	signal.Notify(sig, syscall.SIGINT, syscall.SIGTERM, syscall.SIGUSR1, syscall.SIGUSR2)
	defer signal.Stop(sig)
	go func() {
		for s := range sig {
			switch s {
			case syscall.SIGUSR1:
				log.Infof("task %s pause requested", task.ID)
				task.pauseFun()
			case syscall.SIGUSR2:
				log.Infof("task %s resume requested", task.ID)
				task.playFun()
			default:
				log.Infof("interrupt, aborting task %s", task.ID)
				task.abortFun()
				return
			}
		}
	}()
	task.Download()
	if !task.Aborted() {
		task.cleanInfo()
	}
	secs := time.Since(start).Seconds()
	fmt.Printf("\n%.3fs finished...", secs)
}
