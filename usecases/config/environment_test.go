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
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestEnvironmentOverrides(t *testing.T) {
	type test struct {
		name     string
		env      map[string]string
		expected func(c *Config)
	}

	tests := []test{
		{
			name:     "no variables keep defaults",
			env:      map[string]string{},
			expected: func(c *Config) {},
		},
		{
			name: "data path",
			env:  map[string]string{"PERSISTENCE_DATA_PATH": "/var/lib/docstore"},
			expected: func(c *Config) {
				c.DataPath = "/var/lib/docstore"
			},
		},
		{
			name: "journal and wal sizes",
			env: map[string]string{
				"DOCSTORE_JOURNAL_SIZE":          "4194304",
				"DOCSTORE_WAL_LOGFILE_SIZE":      "2097152",
				"DOCSTORE_WAL_HISTORIC_LOGFILES": "3",
				"DOCSTORE_WAL_SYNC_ON_WRITE":     "on",
			},
			expected: func(c *Config) {
				c.JournalSize = 4 * MiB
				c.WAL.LogfileSize = 2 * MiB
				c.WAL.HistoricLogfiles = 3
				c.WAL.SyncOnWrite = true
			},
		},
		{
			name: "compaction thresholds",
			env: map[string]string{
				"DOCSTORE_COMPACTION_DISABLED":              "true",
				"DOCSTORE_COMPACTION_SLEEP_TIME":            "250ms",
				"DOCSTORE_COMPACTION_COLLECTION_INTERVAL":   "1m",
				"DOCSTORE_COMPACTION_MAX_FILES":             "5",
				"DOCSTORE_COMPACTION_MAX_SIZE_FACTOR":       "3",
				"DOCSTORE_COMPACTION_DEAD_SHARE":            "0.25",
				"DOCSTORE_COMPACTION_DEAD_NUMBER_THRESHOLD": "100",
				"DOCSTORE_COMPACTION_MAX_RESULT_FILESIZE":   "1048576",
			},
			expected: func(c *Config) {
				c.Compaction.Disabled = true
				c.Compaction.SleepTime = 250 * time.Millisecond
				c.Compaction.CollectionInterval = time.Minute
				c.Compaction.MaxFiles = 5
				c.Compaction.MaxSizeFactor = 3
				c.Compaction.DeadShare = 0.25
				c.Compaction.DeadNumberThreshold = 100
				c.Compaction.MaxResultFilesize = MiB
			},
		},
	}

	for _, test := range tests {
		t.Run(test.name, func(t *testing.T) {
			os.Clearenv()
			for k, v := range test.env {
				t.Setenv(k, v)
			}

			expected := Default()
			test.expected(&expected)

			actual := Default()
			require.Nil(t, FromEnv(&actual))
			assert.Equal(t, expected, actual)
		})
	}
}

func TestEnvironmentInvalidValues(t *testing.T) {
	tests := map[string]string{
		"DOCSTORE_JOURNAL_SIZE":               "big",
		"DOCSTORE_WAL_HISTORIC_LOGFILES":      "many",
		"DOCSTORE_COMPACTION_SLEEP_TIME":      "5",
		"DOCSTORE_COMPACTION_MAX_SIZE_FACTOR": "x",
	}

	for name, value := range tests {
		t.Run(name, func(t *testing.T) {
			os.Clearenv()
			t.Setenv(name, value)

			c := Default()
			err := FromEnv(&c)
			require.NotNil(t, err)
			assert.Contains(t, err.Error(), name)
		})
	}
}

func TestEnabled(t *testing.T) {
	for _, v := range []string{"on", "enabled", "1", "true"} {
		assert.True(t, enabled(v), v)
	}
	for _, v := range []string{"", "off", "0", "false", "yes"} {
		assert.False(t, enabled(v), v)
	}
}
