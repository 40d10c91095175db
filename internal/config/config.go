// internal/config/config.go
package config

import (
    "encoding/json"
    "fmt"
    "os"
)

type Config struct {
    Server struct {
        Host string `json:"host"`
        Port int    `json:"port"`
    } `json:"server"`

    Database struct {
        Path string `json:"path"`
    } `json:"database"`

    Environment string `json:"environment"` // dev, prod
    LogLevel    string `json:"log_level"`   // debug, info, warn, error

    WorkTree WorkTreeConfig `json:"work_tree"`
}

// WorkTreeConfig holds defaults for the work-tree engine itself, beyond
// what any single work tree's dot-directory records.
type WorkTreeConfig struct {
    // DotName is the dot-directory name used by Init when the caller
    // doesn't override it. Defaults to "tig".
    DotName string `json:"dot_name"`
    // DiffContextLines is the number of unchanged context lines the
    // diff engine keeps around a hunk.
    DiffContextLines int `json:"diff_context_lines"`
    // LockWaitNonBlocking, when true (the default, per the spec), makes
    // every lock acquisition attempt non-blocking and fail with Busy
    // instead of waiting.
    LockWaitNonBlocking bool `json:"lock_wait_non_blocking"`
}

func DefaultWorkTreeConfig() WorkTreeConfig {
    return WorkTreeConfig{
        DotName:             "tig",
        DiffContextLines:    3,
        LockWaitNonBlocking: true,
    }
}

func getConfigPath() string {
    env := os.Getenv("TIG_ENV")
    if env == "" {
        env = "development"
    }
    return fmt.Sprintf("config/config.%s.json", env)
}

func Load(path string) (*Config, error) {
    file, err := os.Open(path)
    if err != nil {
        return nil, err
    }
    defer file.Close()

    config := Config{WorkTree: DefaultWorkTreeConfig()}
    if err := json.NewDecoder(file).Decode(&config); err != nil {
        return nil, err
    }

    return &config, nil
}
