// Copyright (c) 2025 Sonic Operations Ltd
//
// Use of this software is governed by the Business Source License included
// in the LICENSE file and at soniclabs.com/bsl11.
//
// Change Date: 2028-4-16
//
// On the date above, in accordance with the Business Source License, use of
// this software will be governed by the GNU Lesser General Public License v3.

package main

import (
	"fmt"

	"github.com/urfave/cli/v2"

	"github.com/carmen-db/chaindb/chaindb"
	"github.com/carmen-db/chaindb/resource"
)

// Restore reconstructs and immediately discards the in-memory undo stack
// for every table in the schema, which is enough to prove the persisted
// undo stream is internally consistent after an unclean shutdown: a
// corrupt stream surfaces as an error here instead of on the next write.
var Restore = cli.Command{
	Action:    restore,
	Name:      "restore",
	Usage:     "replays the persisted undo stream and reports success",
	ArgsUsage: "<db-dir> <schema.json>",
}

func restore(context *cli.Context) error {
	if err := requireArgs(context, 2, "restore <db-dir> <schema.json>"); err != nil {
		return err
	}
	dbDir := context.Args().Get(0)
	schemaPath := context.Args().Get(1)

	drv, sch, tables, err := openLeveldb(dbDir, schemaPath)
	if err != nil {
		return err
	}
	defer drv.Close()

	c := chaindb.New(drv, sch, resource.NewMemoryManager())
	if err := c.Restore(tableKeysOf(sch, tables)); err != nil {
		return fmt.Errorf("restore failed: %w", err)
	}
	fmt.Printf("restored %d table(s) from %s\n", len(tables), dbDir)
	return nil
}
