package config

import (
	"log"
	"strings"
	"sync"

	"github.com/fsnotify/fsnotify"
	"github.com/spf13/viper"
)

type Options struct {
	// 额外的搜索目录，默认 ./config 和 .
	Paths []string
	// 默认值，key 用点分路径，例如 "http.addr"
	Defaults map[string]interface{}
	// 热更新成功后回调；out 已经是新值
	OnChange func()
	// 关闭文件监听(测试或一次性命令)
	NoWatch bool
}

// LoadAndWatch 约定 config/{service}.yaml，环境变量覆盖：
//
//	CUSTODY_SERVICE_HTTP_ADDR 覆盖 http.addr
func LoadAndWatch(service string, out interface{}) (*viper.Viper, error) {
	return Load(service, out, Options{})
}

func Load(service string, out interface{}, opts Options) (*viper.Viper, error) {
	v := viper.New()
	v.SetConfigName(service)
	v.SetConfigType("yaml")
	for _, p := range opts.Paths {
		v.AddConfigPath(p)
	}
	v.AddConfigPath("./config")
	v.AddConfigPath(".")

	for k, val := range opts.Defaults {
		v.SetDefault(k, val)
	}

	v.SetEnvPrefix(EnvPrefix(service))
	v.AutomaticEnv()
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))

	if err := v.ReadInConfig(); err != nil {
		return nil, err
	}
	if err := v.Unmarshal(out); err != nil {
		return nil, err
	}
	log.Printf("[%s] config loaded from %s", service, v.ConfigFileUsed())

	if opts.NoWatch {
		return v, nil
	}

	// 回调可能和文件事件并发，串行化
	var mu sync.Mutex
	v.WatchConfig()
	v.OnConfigChange(func(e fsnotify.Event) {
		mu.Lock()
		defer mu.Unlock()
		log.Printf("[%s] config file changed: %s", service, e.Name)
		if err := v.Unmarshal(out); err != nil {
			log.Printf("[%s] reload config error: %v", service, err)
			return
		}
		log.Printf("[%s] config reloaded OK", service)
		if opts.OnChange != nil {
			opts.OnChange()
		}
	})
	return v, nil
}

// EnvPrefix custody-service -> CUSTODY_SERVICE
func EnvPrefix(service string) string {
	return strings.ToUpper(strings.ReplaceAll(service, "-", "_"))
}
