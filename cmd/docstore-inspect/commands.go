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

package main

import (
	"context"
	"fmt"
	"io"
	"path/filepath"

	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"
	"github.com/urfave/cli/v2"
	"gopkg.in/yaml.v3"

	"github.com/weaviate/docstore/adapters/repos/db/collection"
	"github.com/weaviate/docstore/adapters/repos/db/datafile"
	"github.com/weaviate/docstore/adapters/repos/db/marker"
	"github.com/weaviate/docstore/adapters/repos/db/wal"
	"github.com/weaviate/docstore/usecases/config"
)

func markersCommand() *cli.Command {
	return &cli.Command{
		Name:      "markers",
		Usage:     "list the markers of a datafile or logfile",
		ArgsUsage: "<file>",
		Action: func(c *cli.Context) error {
			if c.NArg() != 1 {
				return errors.New("expected exactly one file")
			}
			d, err := datafile.Open(c.Args().First())
			if err != nil {
				return err
			}
			defer d.Close()

			return printMarkers(c.App.Writer, d)
		},
	}
}

func printMarkers(w io.Writer, d *datafile.Datafile) error {
	fmt.Fprintf(w, "fid %d, %d of %d bytes used, sealed: %v\n",
		d.Fid(), d.CurrentSize(), d.MaximalSize(), d.IsSealed())

	var printErr error
	err := d.Iterate(func(m marker.Marker, loc datafile.Location) bool {
		line := fmt.Sprintf("%8d %-20s tick=%d size=%d", loc.Offset(), m.Type(), m.Tick(), m.Size())
		switch {
		case m.Type().IsData():
			key, rev, err := marker.DocumentKey(m)
			if err != nil {
				line += fmt.Sprintf(" undecodable payload: %v", err)
				break
			}
			line += fmt.Sprintf(" tid=%d key=%q rev=%d", m.TransactionID(), key, rev)
		case m.Type().IsTransactionBoundary():
			line += fmt.Sprintf(" db=%d tid=%d", m.DatabaseID(), m.TransactionID())
		case m.Type() == marker.TypePrologue || !m.Type().IsStructural():
			line += fmt.Sprintf(" db=%d cid=%d", m.DatabaseID(), m.CollectionID())
		}
		if !m.Verify() {
			line += " CHECKSUM MISMATCH"
		}
		if _, err := fmt.Fprintln(w, line); err != nil {
			printErr = err
			return false
		}
		return true
	})
	if err != nil {
		return err
	}
	return printErr
}

func statsCommand(log *logrus.Logger) *cli.Command {
	return &cli.Command{
		Name:      "stats",
		Usage:     "load a collection directory and print its per datafile statistics",
		ArgsUsage: "<collection-dir>",
		Action: func(c *cli.Context) error {
			if c.NArg() != 1 {
				return errors.New("expected exactly one directory")
			}
			dir := c.Args().First()

			col, err := collection.Open(collection.Config{
				Name: filepath.Base(dir),
				Path: dir,
			}, log)
			if err != nil {
				return err
			}
			defer col.Close(context.Background())

			w := c.App.Writer
			files := col.Files()
			fmt.Fprintf(w, "%d documents, %d datafiles, journal: %v, compactors: %d\n",
				col.NumberOfDocuments(), len(files.Datafiles), files.Journal != nil, len(files.Compactors))

			st := col.Statistics()
			for _, fid := range st.Fids() {
				fmt.Fprintf(w, "%-10d %s\n", fid, st.Get(fid))
			}
			fmt.Fprintf(w, "%-10s %s\n", "total", st.All())
			return nil
		},
	}
}

func tailCommand(log *logrus.Logger) *cli.Command {
	return &cli.Command{
		Name:      "tail",
		Usage:     "print the replication events of a logfile directory",
		ArgsUsage: "<logfile-dir>",
		Flags: []cli.Flag{
			&cli.Uint64Flag{Name: "from", Usage: "first tick to include"},
			&cli.Uint64Flag{Name: "to", Usage: "first tick to exclude, 0 for the end of the log"},
			&cli.Uint64Flag{Name: "database", Usage: "database id, 0 for all"},
			&cli.BoolFlag{Name: "include-system", Usage: "include system collections"},
		},
		Action: func(c *cli.Context) error {
			if c.NArg() != 1 {
				return errors.New("expected exactly one directory")
			}

			m, err := wal.Open(wal.Config{
				Path:             c.Args().First(),
				HistoricLogfiles: int(^uint(0) >> 1),
			}, log)
			if err != nil {
				return err
			}
			defer m.Close(context.Background())

			to := c.Uint64("to")
			if to == 0 {
				to = m.LastTick() + 1
			}
			filter := wal.Filter{
				DatabaseID:    c.Uint64("database"),
				IncludeSystem: c.Bool("include-system"),
			}

			w := c.App.Writer
			res, err := wal.NewAccess(m, nil, log).Tail(c.Uint64("from"), to, int(^uint(0)>>1), filter,
				func(_ wal.Database, raw []byte) error {
					e, err := wal.DecodeEvent(raw)
					if err != nil {
						return err
					}
					_, err = fmt.Fprintf(w, "%d type=%d db=%d cuid=%s tid=%d data=%d bytes\n",
						e.Tick, e.Type, e.DatabaseID, e.CollectionGUID, e.TransactionID, len(e.Data))
					return err
				})
			if err != nil {
				return errors.Wrap(err, "tail")
			}
			fmt.Fprintf(w, "last included tick %d, complete: %v\n", res.LastIncludedTick, res.FromTickIncluded)
			return nil
		},
	}
}

func configCommand(log *logrus.Logger) *cli.Command {
	return &cli.Command{
		Name:      "config",
		Usage:     "print the effective configuration",
		ArgsUsage: "[config-file]",
		Action: func(c *cli.Context) error {
			cfg, err := config.Load(c.Args().First(), log)
			if err != nil {
				return err
			}
			out, err := yaml.Marshal(cfg)
			if err != nil {
				return errors.Wrap(err, "encode config")
			}
			_, err = c.App.Writer.Write(out)
			return err
		},
	}
}
