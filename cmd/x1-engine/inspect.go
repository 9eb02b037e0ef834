package main

import (
	"encoding/json"
	"fmt"
	"io"
	"text/tabwriter"

	"github.com/fortiblox/X1-Engine/internal/types"
	"github.com/fortiblox/X1-Engine/pkg/fee"
	"github.com/fortiblox/X1-Engine/pkg/ledger"
	"github.com/fortiblox/X1-Engine/pkg/node"
	"github.com/fortiblox/X1-Engine/pkg/receipts"
	"github.com/fortiblox/X1-Engine/pkg/substate"
	"github.com/spf13/cobra"
)

func printJSON(w io.Writer, v any) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

func feeTableCommand(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "fee-table",
		Short: "Print the fee parameters and cost unit table",
		Args:  cobra.NoArgs,
		RunE: func(c *cobra.Command, _ []string) error {
			return writeFeeTable(c.OutOrStdout(), a.cfg.Fee.Params(), &a.cfg.FeeTable)
		},
	}
}

func writeFeeTable(out io.Writer, p fee.Params, t *fee.Table) error {
	w := tabwriter.NewWriter(out, 0, 4, 2, ' ', 0)
	rows := []struct {
		name  string
		value any
	}{
		{"cost unit price", p.CostUnitPrice},
		{"tip percentage", p.TipPercentage},
		{"cost unit limit", p.CostUnitLimit},
		{"system loan", p.SystemLoan},
		{"abort when loan repaid", p.AbortWhenLoanRepaid},
		{"", ""},
		{"tx base fee", t.TxBaseFee},
		{"manifest decoding per byte", t.TxManifestDecodingPerByte},
		{"manifest verify per byte", t.TxManifestVerifyPerByte},
		{"signature verification", t.TxSignatureVerification},
		{"blob price per byte", t.TxBlobPricePerByte},
		{"invoke base", t.InvokeBase},
		{"invoke input per byte", t.InvokeInputPerByte},
		{"create node", t.CreateNode},
		{"drop node", t.DropNode},
		{"lock substate", t.LockSubstate},
		{"read substate", t.ReadSubstate},
		{"write substate", t.WriteSubstate},
		{"drop lock", t.DropLock},
		{"run native base", t.RunNativeBase},
		{"wasm units divider", t.WasmUnitsDivider},
	}
	for _, r := range rows {
		fmt.Fprintf(w, "%s\t%v\n", r.name, r.value)
	}
	return w.Flush()
}

func substateCommand(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "substate <id>",
		Short: "Print a substate from the ledger",
		Args:  cobra.ExactArgs(1),
		RunE: func(c *cobra.Command, args []string) error {
			id, err := substate.ParseID(args[0])
			if err != nil {
				return err
			}
			store, closer, err := node.OpenLedger(a.cfg.Ledger, a.logger)
			if err != nil {
				return err
			}
			defer closer.Close()

			out, err := store.GetSubstate(id)
			if err != nil {
				return err
			}
			hash, err := ledger.HashSubstate(out.Substate)
			if err != nil {
				return err
			}
			return printJSON(c.OutOrStdout(), struct {
				ID      string            `json:"id"`
				Kind    string            `json:"kind"`
				Version uint32            `json:"version"`
				Hash    types.Hash        `json:"hash"`
				Value   substate.Substate `json:"value"`
			}{args[0], out.Substate.Kind().String(), out.Version, hash, out.Substate})
		},
	}
}

// openReceipts opens the configured receipt archive read-only.
func openReceipts(a *app) (*receipts.BoltStore, error) {
	if a.cfg.Receipts.Path == "" {
		return nil, fmt.Errorf("receipt archive is disabled: receipts.Path is empty")
	}
	cfg := receipts.DefaultConfig(a.cfg.Receipts.Path)
	cfg.ReadOnly = true
	return receipts.Open(cfg, a.logger)
}

func receiptCommand(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "receipt <tx-hash>",
		Short: "Print the archived receipt of a transaction",
		Args:  cobra.ExactArgs(1),
		RunE: func(c *cobra.Command, args []string) error {
			hash, err := types.HashFromBase58(args[0])
			if err != nil {
				return err
			}
			store, err := openReceipts(a)
			if err != nil {
				return err
			}
			defer store.Close()

			rec, err := store.Get(hash)
			if err != nil {
				return err
			}
			return printJSON(c.OutOrStdout(), rec)
		},
	}
}

func receiptsCommand(a *app) *cobra.Command {
	var limit int
	c := &cobra.Command{
		Use:   "receipts",
		Short: "List the most recent archived receipts",
		Args:  cobra.NoArgs,
		RunE: func(c *cobra.Command, _ []string) error {
			store, err := openReceipts(a)
			if err != nil {
				return err
			}
			defer store.Close()

			recs, err := store.Latest(limit)
			if err != nil {
				return err
			}
			w := tabwriter.NewWriter(c.OutOrStdout(), 0, 4, 2, ' ', 0)
			fmt.Fprintln(w, "SEQ\tTX\tOUTCOME\tCOST UNITS\tFEE")
			for _, r := range recs {
				fmt.Fprintf(w, "%d\t%s\t%s\t%d\t%s\n",
					r.Sequence, r.TxHash, r.Outcome, r.CostUnitsConsumed, r.FeeCollected)
			}
			return w.Flush()
		},
	}
	c.Flags().IntVar(&limit, "limit", 20, "Number of receipts to list")
	return c
}
