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
	"strconv"

	"github.com/urfave/cli/v2"

	"github.com/carmen-db/chaindb/object"
)

// Drop removes one table's persisted rows and undo stream outright; used
// to reclaim space for a table a contract no longer needs, outside of any
// session (there is nothing to undo a drop).
var Drop = cli.Command{
	Action:    drop,
	Name:      "drop",
	Usage:     "removes a table's persisted rows and undo stream",
	ArgsUsage: "<db-dir> <schema.json> <code> <table>",
}

func drop(context *cli.Context) error {
	if err := requireArgs(context, 4, "drop <db-dir> <schema.json> <code> <table>"); err != nil {
		return err
	}
	dbDir := context.Args().Get(0)
	schemaPath := context.Args().Get(1)
	code, err := strconv.ParseUint(context.Args().Get(2), 10, 64)
	if err != nil {
		return fmt.Errorf("bad code: %w", err)
	}
	table, err := strconv.ParseUint(context.Args().Get(3), 10, 64)
	if err != nil {
		return fmt.Errorf("bad table: %w", err)
	}

	drv, _, _, err := openLeveldb(dbDir, schemaPath)
	if err != nil {
		return err
	}
	defer drv.Close()

	key := object.TableKey{Code: object.Code(code), Table: object.TableID(table)}
	if err := drv.DropTable(key); err != nil {
		return fmt.Errorf("drop failed: %w", err)
	}
	fmt.Printf("dropped table %d/%d\n", code, table)
	return nil
}
