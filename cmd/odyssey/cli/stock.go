package cli

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"sort"
	"text/tabwriter"

	"github.com/odyssey-erp/odyssey-scm/internal/inventory"
)

// StockMaintainer exposes the balance cache maintenance operations.
type StockMaintainer interface {
	VerifyBalances(ctx context.Context) ([]inventory.Drift, error)
	RebuildBalances(ctx context.Context) (int, error)
}

// StockCLI wraps balance maintenance for operators.
type StockCLI struct {
	inventory StockMaintainer
}

// NewStockCLI constructs the helper.
func NewStockCLI(inv StockMaintainer) *StockCLI {
	return &StockCLI{inventory: inv}
}

// StockOptions defines flags shared by the stock commands.
type StockOptions struct {
	JSONOutput bool
	Stdout     io.Writer
	Stderr     io.Writer
}

// DriftRow is one line of the verify output.
type DriftRow struct {
	LocationID int64  `json:"location_id"`
	ItemID     int64  `json:"item_id"`
	UOMID      int64  `json:"uom_id"`
	Ledger     string `json:"ledger"`
	Cached     string `json:"cached"`
}

// VerifySummary is the JSON output of stock verify.
type VerifySummary struct {
	OK     bool       `json:"ok"`
	Drifts []DriftRow `json:"drifts"`
}

// VerifyCommand prints cache drifts. It exits 10 when any drift exists.
func (c *StockCLI) VerifyCommand(ctx context.Context, opts StockOptions) int {
	stdout, stderr := writers(opts.Stdout, opts.Stderr)
	drifts, err := c.inventory.VerifyBalances(ctx)
	if err != nil {
		_, _ = fmt.Fprintf(stderr, "stock verify: %v\n", err)
		return 1
	}
	rows := make([]DriftRow, 0, len(drifts))
	for _, d := range drifts {
		rows = append(rows, DriftRow{
			LocationID: d.Key.LocationID,
			ItemID:     d.Key.ItemID,
			UOMID:      d.Key.UOMID,
			Ledger:     d.Ledger.String(),
			Cached:     d.Cached.String(),
		})
	}
	sort.Slice(rows, func(i, j int) bool {
		if rows[i].LocationID != rows[j].LocationID {
			return rows[i].LocationID < rows[j].LocationID
		}
		if rows[i].ItemID != rows[j].ItemID {
			return rows[i].ItemID < rows[j].ItemID
		}
		return rows[i].UOMID < rows[j].UOMID
	})
	if opts.JSONOutput {
		if err := json.NewEncoder(stdout).Encode(VerifySummary{OK: len(rows) == 0, Drifts: rows}); err != nil {
			_, _ = fmt.Fprintf(stderr, "stock verify: encode json: %v\n", err)
			return 1
		}
	} else {
		renderDrifts(stdout, rows)
	}
	if len(rows) > 0 {
		return 10
	}
	return 0
}

// RebuildCommand recomputes the balance cache from the ledger.
func (c *StockCLI) RebuildCommand(ctx context.Context, opts StockOptions) int {
	stdout, stderr := writers(opts.Stdout, opts.Stderr)
	n, err := c.inventory.RebuildBalances(ctx)
	if err != nil {
		_, _ = fmt.Fprintf(stderr, "stock rebuild: %v\n", err)
		return 1
	}
	_, _ = fmt.Fprintf(stdout, "rebuilt %d balance rows\n", n)
	return 0
}

func renderDrifts(w io.Writer, rows []DriftRow) {
	if len(rows) == 0 {
		_, _ = fmt.Fprintln(w, "stock balances match the ledger")
		return
	}
	tw := tabwriter.NewWriter(w, 0, 4, 2, ' ', 0)
	_, _ = fmt.Fprintln(tw, "LOCATION\tITEM\tUOM\tLEDGER\tCACHED")
	for _, r := range rows {
		_, _ = fmt.Fprintf(tw, "%d\t%d\t%d\t%s\t%s\n", r.LocationID, r.ItemID, r.UOMID, r.Ledger, r.Cached)
	}
	_ = tw.Flush()
}
