//                           _       _
// __      _____  __ ___   ___  __ _| |_ ___
// \ \ /\ / / _ \/ _` \ \ / / |/ _` | __/ _ \
//  \ V  V /  __/ (_| |\ V /| | (_| | ||  __/
//   \_/\_/ \___|\__,_| \_/ |_|\__,_|\__\___|
//
//  Copyright © 2016 - 2024 Weaviate B.V. All rights reserved.
//
//  CONTACT: hello@weaviate.io
//

package config

import (
	"fmt"
	"time"
)

const (
	KiB = 1024
	MiB = 1024 * KiB

	// minimalJournalSize is the smallest journal that holds the file
	// framing and a reasonable number of markers.
	minimalJournalSize = 1 * MiB
)

type Config struct {
	DataPath    string     `json:"data_path" yaml:"data_path"`
	JournalSize uint32     `json:"journal_size" yaml:"journal_size"`
	WAL         WAL        `json:"wal" yaml:"wal"`
	Compaction  Compaction `json:"compaction" yaml:"compaction"`
}

type WAL struct {
	LogfileSize      uint32 `json:"logfile_size" yaml:"logfile_size"`
	HistoricLogfiles int    `json:"historic_logfiles" yaml:"historic_logfiles"`
	SyncOnWrite      bool   `json:"sync_on_write" yaml:"sync_on_write"`
}

type Compaction struct {
	Disabled bool `json:"disabled" yaml:"disabled"`

	// SleepTime is the pause of the compaction loop after a round without
	// work, WorkedSleepTime the pause after a round that compacted files.
	SleepTime       time.Duration `json:"sleep_time" yaml:"sleep_time"`
	WorkedSleepTime time.Duration `json:"worked_sleep_time" yaml:"worked_sleep_time"`
	// CollectionInterval is the minimum time between two inspections of the
	// same collection that found nothing to do.
	CollectionInterval time.Duration `json:"collection_interval" yaml:"collection_interval"`
	// ReadLockTimeout bounds the wait for the collection read lock during
	// the size estimation pass.
	ReadLockTimeout time.Duration `json:"read_lock_timeout" yaml:"read_lock_timeout"`

	MaxFiles            int     `json:"max_files" yaml:"max_files"`
	MaxSizeFactor       float64 `json:"max_size_factor" yaml:"max_size_factor"`
	SmallDatafileSize   uint64  `json:"small_datafile_size" yaml:"small_datafile_size"`
	DeadSizeThreshold   int64   `json:"dead_size_threshold" yaml:"dead_size_threshold"`
	DeadShare           float64 `json:"dead_share" yaml:"dead_share"`
	DeadNumberThreshold int64   `json:"dead_number_threshold" yaml:"dead_number_threshold"`
	MaxResultFilesize   uint64  `json:"max_result_filesize" yaml:"max_result_filesize"`
}

func Default() Config {
	return Config{
		DataPath:    "./data",
		JournalSize: 32 * MiB,
		WAL: WAL{
			LogfileSize:      32 * MiB,
			HistoricLogfiles: 10,
		},
		Compaction: Compaction{
			SleepTime:           time.Second,
			WorkedSleepTime:     time.Millisecond,
			CollectionInterval:  10 * time.Second,
			ReadLockTimeout:     24 * time.Hour,
			MaxFiles:            3,
			MaxSizeFactor:       1.0,
			SmallDatafileSize:   128 * KiB,
			DeadSizeThreshold:   128 * KiB,
			DeadShare:           0.1,
			DeadNumberThreshold: 16384,
			MaxResultFilesize:   128 * MiB,
		},
	}
}

func (c Config) Validate() error {
	if c.DataPath == "" {
		return fmt.Errorf("data_path must be set")
	}
	if c.JournalSize < minimalJournalSize {
		return fmt.Errorf("journal_size must be at least %d, got %d", minimalJournalSize, c.JournalSize)
	}
	if c.WAL.LogfileSize < minimalJournalSize {
		return fmt.Errorf("wal.logfile_size must be at least %d, got %d", minimalJournalSize, c.WAL.LogfileSize)
	}
	if c.WAL.HistoricLogfiles < 0 {
		return fmt.Errorf("wal.historic_logfiles must not be negative")
	}
	return c.Compaction.Validate()
}

func (c Compaction) Validate() error {
	if c.SleepTime <= 0 || c.WorkedSleepTime <= 0 {
		return fmt.Errorf("compaction sleep times must be positive")
	}
	if c.CollectionInterval < 0 {
		return fmt.Errorf("compaction.collection_interval must not be negative")
	}
	if c.ReadLockTimeout <= 0 {
		return fmt.Errorf("compaction.read_lock_timeout must be positive")
	}
	if c.MaxFiles < 1 {
		return fmt.Errorf("compaction.max_files must be at least 1, got %d", c.MaxFiles)
	}
	if c.MaxSizeFactor <= 0 {
		return fmt.Errorf("compaction.max_size_factor must be positive")
	}
	if c.SmallDatafileSize == 0 || c.DeadSizeThreshold <= 0 ||
		c.DeadNumberThreshold <= 0 || c.MaxResultFilesize == 0 {
		return fmt.Errorf("compaction thresholds must be positive")
	}
	if c.DeadShare <= 0 || c.DeadShare > 1 {
		return fmt.Errorf("compaction.dead_share must be in (0,1], got %v", c.DeadShare)
	}
	return nil
}
