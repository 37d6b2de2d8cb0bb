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
	"path/filepath"
	"testing"
	"time"

	"github.com/sirupsen/logrus/hooks/test"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDefaultIsValid(t *testing.T) {
	require.Nil(t, Default().Validate())
}

func TestValidate(t *testing.T) {
	type test struct {
		name   string
		modify func(c *Config)
	}

	tests := []test{
		{name: "empty data path", modify: func(c *Config) { c.DataPath = "" }},
		{name: "tiny journal", modify: func(c *Config) { c.JournalSize = 1024 }},
		{name: "tiny logfile", modify: func(c *Config) { c.WAL.LogfileSize = 1024 }},
		{name: "negative history", modify: func(c *Config) { c.WAL.HistoricLogfiles = -1 }},
		{name: "no sleep", modify: func(c *Config) { c.Compaction.SleepTime = 0 }},
		{name: "no files", modify: func(c *Config) { c.Compaction.MaxFiles = 0 }},
		{name: "zero factor", modify: func(c *Config) { c.Compaction.MaxSizeFactor = 0 }},
		{name: "share above one", modify: func(c *Config) { c.Compaction.DeadShare = 1.5 }},
		{name: "zero dead count", modify: func(c *Config) { c.Compaction.DeadNumberThreshold = 0 }},
	}

	for _, test := range tests {
		t.Run(test.name, func(t *testing.T) {
			c := Default()
			test.modify(&c)
			assert.NotNil(t, c.Validate())
		})
	}
}

func TestLoadConfigFile(t *testing.T) {
	logger, _ := test.NewNullLogger()

	t.Run("yaml", func(t *testing.T) {
		os.Clearenv()
		path := filepath.Join(t.TempDir(), "docstore.yaml")
		content := []byte(`
data_path: /tmp/docstore
journal_size: 2097152
wal:
  historic_logfiles: 2
compaction:
  sleep_time: 2s
  max_files: 4
`)
		require.Nil(t, os.WriteFile(path, content, 0o644))

		c, err := Load(path, logger)
		require.Nil(t, err)
		assert.Equal(t, "/tmp/docstore", c.DataPath)
		assert.Equal(t, uint32(2*MiB), c.JournalSize)
		assert.Equal(t, 2, c.WAL.HistoricLogfiles)
		assert.Equal(t, 2*time.Second, c.Compaction.SleepTime)
		assert.Equal(t, 4, c.Compaction.MaxFiles)
		// untouched values keep their defaults
		assert.Equal(t, Default().Compaction.DeadShare, c.Compaction.DeadShare)
	})

	t.Run("json", func(t *testing.T) {
		os.Clearenv()
		path := filepath.Join(t.TempDir(), "docstore.json")
		content := []byte(`{"data_path": "/tmp/json", "compaction": {"dead_share": 0.5}}`)
		require.Nil(t, os.WriteFile(path, content, 0o644))

		c, err := Load(path, logger)
		require.Nil(t, err)
		assert.Equal(t, "/tmp/json", c.DataPath)
		assert.Equal(t, 0.5, c.Compaction.DeadShare)
	})

	t.Run("environment wins over file", func(t *testing.T) {
		os.Clearenv()
		t.Setenv("PERSISTENCE_DATA_PATH", "/from/env")
		path := filepath.Join(t.TempDir(), "docstore.yml")
		require.Nil(t, os.WriteFile(path, []byte("data_path: /from/file\n"), 0o644))

		c, err := Load(path, logger)
		require.Nil(t, err)
		assert.Equal(t, "/from/env", c.DataPath)
	})

	t.Run("unsupported extension", func(t *testing.T) {
		os.Clearenv()
		path := filepath.Join(t.TempDir(), "docstore.toml")
		require.Nil(t, os.WriteFile(path, []byte("x = 1"), 0o644))

		_, err := Load(path, logger)
		require.NotNil(t, err)
		assert.Contains(t, err.Error(), "invalid config")
	})

	t.Run("invalid result", func(t *testing.T) {
		os.Clearenv()
		path := filepath.Join(t.TempDir(), "docstore.yaml")
		require.Nil(t, os.WriteFile(path, []byte("compaction:\n  max_files: 0\n"), 0o644))

		_, err := Load(path, logger)
		assert.NotNil(t, err)
	})

	t.Run("no file", func(t *testing.T) {
		os.Clearenv()
		c, err := Load("", logger)
		require.Nil(t, err)
		assert.Equal(t, Default(), c)
	})
}
