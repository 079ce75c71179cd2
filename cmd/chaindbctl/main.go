// Copyright (c) 2025 Sonic Operations Ltd
//
// Use of this software is governed by the Business Source License included
// in the LICENSE file and at soniclabs.com/bsl11.
//
// Change Date: 2028-4-16
//
// On the date above, in accordance with the Business Source License, use of
// this software will be governed by the GNU Lesser General Public License v3.

// Command chaindbctl is a small operational CLI over a chaindb database:
// crash-recovery restore, an offline undo-stream consistency check, and
// dropping a table's persisted rows.
package main

import (
	"fmt"
	"log"
	"os"

	"github.com/urfave/cli/v2"
)

func main() {
	app := &cli.App{
		Name:  "chaindbctl",
		Usage: "operate on a chaindb LevelDB database",
		Commands: []*cli.Command{
			&Restore,
			&Check,
			&Drop,
		},
	}
	if err := app.Run(os.Args); err != nil {
		log.Fatal(err)
	}
}

func requireArgs(context *cli.Context, n int, usage string) error {
	if context.Args().Len() != n {
		return fmt.Errorf("usage: %s", usage)
	}
	return nil
}
