package config

import (
	"fmt"
	"sync"

	"github.com/BurntSushi/toml"
)

var (
	fileValues     map[string]string
	fileValuesLock sync.RWMutex
)

// LoadFile overlays values from a TOML file. Keys use the same names as the
// environment variables, and the environment still wins over the file.
//
//	API_BASE_URL = "https://api.example.com"
//	CLOCK_POLL_INTERVAL = "5s"
//	SESSION_REFRESH_MAX_RETRIES = 2
func LoadFile(path string) error {
	raw := map[string]any{}
	if _, err := toml.DecodeFile(path, &raw); err != nil {
		return fmt.Errorf("config.LoadFile %s: %w", path, err)
	}

	values := make(map[string]string, len(raw))
	for k, v := range raw {
		switch tv := v.(type) {
		case []any:
			s := ""
			for i, item := range tv {
				if i > 0 {
					s += ","
				}
				s += fmt.Sprint(item)
			}
			values[k] = s
		default:
			values[k] = fmt.Sprint(tv)
		}
	}

	fileValuesLock.Lock()
	fileValues = values
	fileValuesLock.Unlock()
	return nil
}

// ResetFile drops any values loaded by LoadFile.
func ResetFile() {
	fileValuesLock.Lock()
	fileValues = nil
	fileValuesLock.Unlock()
}

func fileValue(key string) (string, bool) {
	fileValuesLock.RLock()
	defer fileValuesLock.RUnlock()
	v, ok := fileValues[key]
	return v, ok
}
