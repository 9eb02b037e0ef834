package main

import (
	"fmt"

	"github.com/fortiblox/X1-Engine/pkg/ledger"
	"github.com/fortiblox/X1-Engine/pkg/node"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
)

func snapshotCommand(a *app) *cobra.Command {
	c := &cobra.Command{
		Use:   "snapshot",
		Short: "Export or import ledger snapshots",
	}
	c.AddCommand(
		&cobra.Command{
			Use:   "export <path>",
			Short: "Write every substate of the ledger to a snapshot file",
			Args:  cobra.ExactArgs(1),
			RunE: func(c *cobra.Command, args []string) error {
				store, closer, err := node.OpenLedger(a.cfg.Ledger, a.logger)
				if err != nil {
					return err
				}
				defer closer.Close()

				if cached, ok := store.(*ledger.CachedStore); ok {
					store = cached.Inner()
				}
				src, ok := store.(ledger.Iterable)
				if !ok {
					return fmt.Errorf("ledger backend %q cannot be iterated", a.cfg.Ledger.Backend)
				}
				header, err := ledger.CreateSnapshot(src, args[0])
				if err != nil {
					return err
				}
				a.logger.Info("snapshot exported",
					zap.String("path", args[0]),
					zap.Uint64("substates", header.Count),
					zap.Stringer("root", header.Root))
				return nil
			},
		},
		&cobra.Command{
			Use:   "import <path>",
			Short: "Load a snapshot file into the ledger",
			Args:  cobra.ExactArgs(1),
			RunE: func(c *cobra.Command, args []string) error {
				store, closer, err := node.OpenLedger(a.cfg.Ledger, a.logger)
				if err != nil {
					return err
				}
				defer closer.Close()

				header, err := ledger.LoadSnapshot(store, args[0])
				if err != nil {
					return err
				}
				a.logger.Info("snapshot imported",
					zap.String("path", args[0]),
					zap.Uint64("substates", header.Count),
					zap.Stringer("root", header.Root))
				return nil
			},
		},
	)
	return c
}
