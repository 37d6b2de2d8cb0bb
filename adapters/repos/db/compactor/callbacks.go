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

package compactor

import (
	"os"
	"path/filepath"

	"github.com/sirupsen/logrus"

	"github.com/weaviate/docstore/adapters/repos/db/collection"
	"github.com/weaviate/docstore/adapters/repos/db/datafile"
	"github.com/weaviate/docstore/entities/diskio"
)

// dropDatafile disposes of a retired datafile. The file is moved to its
// deleted-<fid> name before it is closed and unlinked, so that an
// interrupted disposal leaves a file that startup recognizes.
func (cp *Compactor) dropDatafile(c *collection.Collection, df *datafile.Datafile) {
	logger := cp.logger.WithFields(logrus.Fields{
		"action":     "ditch_drop",
		"database":   c.DatabaseName(),
		"collection": c.Name(),
		"fid":        df.Fid(),
	})

	original := df.Path()
	deleted := filepath.Join(c.Path(), datafile.Name(datafile.PrefixDeleted, df.Fid()))

	renamed := true
	if err := df.Rename(deleted); err != nil {
		logger.WithError(err).Errorf("cannot rename obsolete datafile %s", original)
		renamed = false
	}

	if err := df.Close(); err != nil {
		logger.WithError(err).Errorf("cannot close obsolete datafile %s", df.Path())
		return
	}

	if renamed {
		if err := os.Remove(deleted); err != nil {
			logger.WithError(err).Errorf("cannot wipe obsolete datafile %s", deleted)
		}
	}

	if err := diskio.RemoveIfExists(datafile.DeadName(original)); err != nil {
		logger.WithError(err).Warn("cannot remove dead marker file")
	}

	logger.WithField("path", original).Debug("dropped compacted datafile")
}

// renameDatafile swaps df for its compactor file. df is first moved to its
// temp-<fid> name, then the compactor takes over the original name. If the
// first rename fails both files stay and startup prefers the datafile. If
// the second fails, the datafile is moved back.
func (cp *Compactor) renameDatafile(c *collection.Collection, df, compactor *datafile.Datafile) {
	logger := cp.logger.WithFields(logrus.Fields{
		"action":     "ditch_rename",
		"database":   c.DatabaseName(),
		"collection": c.Name(),
		"fid":        df.Fid(),
	})

	original := df.Path()
	temp := filepath.Join(c.Path(), datafile.Name(datafile.PrefixTemp, df.Fid()))

	if err := df.Rename(temp); err != nil {
		logger.WithError(err).Errorf("unable to rename datafile %s", original)
		return
	}

	if err := compactor.Rename(original); err != nil {
		logger.WithError(err).Errorf("unable to rename compaction file %s", compactor.Path())
		if err := df.Rename(original); err != nil {
			logger.WithError(err).Errorf("unable to move datafile %s back", temp)
		}
		return
	}

	if err := diskio.SyncDir(c.Path()); err != nil {
		logger.WithError(err).Warn("cannot sync collection directory")
	}

	if !c.ReplaceDatafileWithCompactor(df, compactor) {
		logger.Error("logic error: could not swap datafile and compactor files")
		return
	}

	cp.dropDatafile(c, df)
}
