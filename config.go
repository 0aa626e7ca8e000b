package main

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"

	"github.com/BurntSushi/toml"

	"github.com/duanyating0315/canu/store"
	"github.com/duanyating0315/canu/tig"
)

const defaultSearchPath = "tgstore.conf:/etc/tgstore.conf"

var errNoConfig = errors.New("no config file found")

type tgstoreConfig struct {
	Storage storageConfig `toml:"storage"`
	Log     logConfig     `toml:"log"`
}

type storageConfig struct {
	Compression tig.Compression `toml:"compression"`
	Sync        bool            `toml:"sync"`
}

type logConfig struct {
	Quiet bool `toml:"quiet"`
}

func defaultConfig() tgstoreConfig {
	return tgstoreConfig{
		Storage: storageConfig{
			Compression: tig.SnappyCompression,
			Sync:        false,
		},
		Log: logConfig{
			Quiet: false,
		},
	}
}

func loadConfig(searchPath string) (tgstoreConfig, error) {
	if searchPath == "" {
		searchPath = defaultSearchPath
	}

	config := defaultConfig()
	paths := filepath.SplitList(searchPath)
	for _, path := range paths {
		md, err := toml.DecodeFile(path, &config)
		if os.IsNotExist(err) {
			continue
		} else if err != nil {
			return config, err
		} else if len(md.Undecoded()) > 0 {
			return config, fmt.Errorf("found unrecognized properties: %v", md.Undecoded())
		}

		return config, nil
	}

	return config, errNoConfig
}

func validateConfig(config tgstoreConfig) (tgstoreConfig, error) {
	if !tig.ValidCompression(config.Storage.Compression) {
		return config, fmt.Errorf("unrecognized compression option: %s", config.Storage.Compression)
	}

	return config, nil
}

func (c tgstoreConfig) storeOptions() store.Options {
	return store.Options{
		Compression: c.Storage.Compression,
		Sync:        c.Storage.Sync,
	}
}
