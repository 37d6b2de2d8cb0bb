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
	"os"
	"strconv"
	"time"

	"github.com/pkg/errors"
)

// FromEnv overrides values in config with values from the environment.
func FromEnv(config *Config) error {
	if v := os.Getenv("PERSISTENCE_DATA_PATH"); v != "" {
		config.DataPath = v
	}

	if err := parseUint32("DOCSTORE_JOURNAL_SIZE", &config.JournalSize); err != nil {
		return err
	}
	if err := parseUint32("DOCSTORE_WAL_LOGFILE_SIZE", &config.WAL.LogfileSize); err != nil {
		return err
	}
	if err := parseInt("DOCSTORE_WAL_HISTORIC_LOGFILES", &config.WAL.HistoricLogfiles); err != nil {
		return err
	}
	if v := os.Getenv("DOCSTORE_WAL_SYNC_ON_WRITE"); v != "" {
		config.WAL.SyncOnWrite = enabled(v)
	}

	c := &config.Compaction
	if v := os.Getenv("DOCSTORE_COMPACTION_DISABLED"); v != "" {
		c.Disabled = enabled(v)
	}
	durations := []struct {
		name   string
		target *time.Duration
	}{
		{"DOCSTORE_COMPACTION_SLEEP_TIME", &c.SleepTime},
		{"DOCSTORE_COMPACTION_WORKED_SLEEP_TIME", &c.WorkedSleepTime},
		{"DOCSTORE_COMPACTION_COLLECTION_INTERVAL", &c.CollectionInterval},
		{"DOCSTORE_COMPACTION_READ_LOCK_TIMEOUT", &c.ReadLockTimeout},
	}
	for _, d := range durations {
		if err := parseDuration(d.name, d.target); err != nil {
			return err
		}
	}

	if err := parseInt("DOCSTORE_COMPACTION_MAX_FILES", &c.MaxFiles); err != nil {
		return err
	}
	if err := parseFloat("DOCSTORE_COMPACTION_MAX_SIZE_FACTOR", &c.MaxSizeFactor); err != nil {
		return err
	}
	if err := parseUint64("DOCSTORE_COMPACTION_SMALL_DATAFILE_SIZE", &c.SmallDatafileSize); err != nil {
		return err
	}
	if err := parseInt64("DOCSTORE_COMPACTION_DEAD_SIZE_THRESHOLD", &c.DeadSizeThreshold); err != nil {
		return err
	}
	if err := parseFloat("DOCSTORE_COMPACTION_DEAD_SHARE", &c.DeadShare); err != nil {
		return err
	}
	if err := parseInt64("DOCSTORE_COMPACTION_DEAD_NUMBER_THRESHOLD", &c.DeadNumberThreshold); err != nil {
		return err
	}
	if err := parseUint64("DOCSTORE_COMPACTION_MAX_RESULT_FILESIZE", &c.MaxResultFilesize); err != nil {
		return err
	}

	return nil
}

func parseInt(name string, target *int) error {
	if v := os.Getenv(name); v != "" {
		asInt, err := strconv.Atoi(v)
		if err != nil {
			return errors.Wrapf(err, "parse %s as int", name)
		}
		*target = asInt
	}
	return nil
}

func parseInt64(name string, target *int64) error {
	if v := os.Getenv(name); v != "" {
		asInt, err := strconv.ParseInt(v, 10, 64)
		if err != nil {
			return errors.Wrapf(err, "parse %s as int", name)
		}
		*target = asInt
	}
	return nil
}

func parseUint32(name string, target *uint32) error {
	if v := os.Getenv(name); v != "" {
		asUint, err := strconv.ParseUint(v, 10, 32)
		if err != nil {
			return errors.Wrapf(err, "parse %s as uint32", name)
		}
		*target = uint32(asUint)
	}
	return nil
}

func parseUint64(name string, target *uint64) error {
	if v := os.Getenv(name); v != "" {
		asUint, err := strconv.ParseUint(v, 10, 64)
		if err != nil {
			return errors.Wrapf(err, "parse %s as uint64", name)
		}
		*target = asUint
	}
	return nil
}

func parseFloat(name string, target *float64) error {
	if v := os.Getenv(name); v != "" {
		asFloat, err := strconv.ParseFloat(v, 64)
		if err != nil {
			return errors.Wrapf(err, "parse %s as float", name)
		}
		*target = asFloat
	}
	return nil
}

func parseDuration(name string, target *time.Duration) error {
	if v := os.Getenv(name); v != "" {
		d, err := time.ParseDuration(v)
		if err != nil {
			return errors.Wrapf(err, "parse %s as duration", name)
		}
		*target = d
	}
	return nil
}

func enabled(value string) bool {
	if value == "" {
		return false
	}

	if value == "on" ||
		value == "enabled" ||
		value == "1" ||
		value == "true" {
		return true
	}

	return false
}
