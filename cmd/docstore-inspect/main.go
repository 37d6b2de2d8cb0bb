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
	"os"

	"github.com/sirupsen/logrus"
	"github.com/urfave/cli/v2"
)

func main() {
	log := logrus.WithFields(logrus.Fields{"app": "docstore-inspect"}).Logger

	app := newApp(log)
	if err := app.Run(os.Args); err != nil {
		log.WithError(err).Fatal("inspection failed")
	}
}

func newApp(log *logrus.Logger) *cli.App {
	return &cli.App{
		Name:  "docstore-inspect",
		Usage: "offline inspection of docstore datafiles, logfiles and configuration",
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:  "log-level",
				Value: "warning",
				Usage: "log level of the inspection tool",
			},
		},
		Before: func(c *cli.Context) error {
			level, err := logrus.ParseLevel(c.String("log-level"))
			if err != nil {
				return err
			}
			log.SetLevel(level)
			return nil
		},
		Commands: []*cli.Command{
			markersCommand(),
			statsCommand(log),
			tailCommand(log),
			configCommand(log),
		},
	}
}
