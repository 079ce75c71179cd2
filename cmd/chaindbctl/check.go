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
	"errors"
	"fmt"

	"github.com/urfave/cli/v2"

	"github.com/carmen-db/chaindb/chaindb"
	"github.com/carmen-db/chaindb/resource"
)

// Check performs the invariant checks an operator would run before
// bringing a database back online: the driver's physical indexes match
// the schema's declarations, and the persisted undo stream replays
// without error.
var Check = cli.Command{
	Action:    check,
	Name:      "check",
	Usage:     "performs extensive invariant checks",
	ArgsUsage: "<db-dir> <schema.json>",
}

func check(context *cli.Context) error {
	if err := requireArgs(context, 2, "check <db-dir> <schema.json>"); err != nil {
		return err
	}
	dbDir := context.Args().Get(0)
	schemaPath := context.Args().Get(1)

	drv, sch, tables, err := openLeveldb(dbDir, schemaPath)
	if err != nil {
		return err
	}
	defer drv.Close()

	structureErr := sch.VerifyTablesStructure(chaindb.DriverStructureVerifier{Driver: drv})
	c := chaindb.New(drv, sch, resource.NewMemoryManager())
	keys := tableKeysOf(sch, tables)
	restoreErr := c.Restore(keys)

	if err := errors.Join(structureErr, restoreErr); err != nil {
		return fmt.Errorf("check failed: %w", err)
	}

	for _, key := range keys {
		sum, err := c.TableChecksum(key)
		if err != nil {
			return fmt.Errorf("checksum table %v: %w", key, err)
		}
		fmt.Printf("table %v checksum %x\n", key, sum)
	}
	fmt.Println("all checks passed")
	return nil
}
