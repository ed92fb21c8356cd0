// Copyright (C) 2019-2025, Lux Industries, Inc. All rights reserved.
// See the file LICENSE for licensing terms.

package inspect

import (
	"context"
	"encoding/json"
	"fmt"
	"io"

	"github.com/spf13/cobra"

	"github.com/luxfi/database"
	"github.com/luxfi/database/badgerdb"
	"github.com/luxfi/log"
	"github.com/luxfi/metric"

	"github.com/luxfi/parlia"
	"github.com/luxfi/parlia/cmd/parlia/devnet"
	"github.com/luxfi/parlia/config"
	"github.com/luxfi/parlia/headerchain"
	"github.com/luxfi/parlia/snapshot"
	"github.com/luxfi/parlia/utils/timer/mockable"
)

func Command() *cobra.Command {
	c := &cobra.Command{
		Use:   "inspect",
		Short: "Prints the consensus snapshot of a stored chain",
		RunE:  inspectFunc,
	}
	flags := c.Flags()
	AddFlags(flags)
	return c
}

// Report is the consensus state after a block.
type Report struct {
	Snapshot  *snapshot.Snapshot `json:"snapshot"`
	Justified uint64             `json:"justified"`
	Finalized uint64             `json:"finalized"`
}

func inspectFunc(c *cobra.Command, args []string) error {
	config, err := ParseFlags(c.Flags(), args)
	if err != nil {
		return err
	}
	db, err := badgerdb.New(
		config.DBDir,
		nil, // configBytes - use default
		"",  // namespace
		nil, // metrics
	)
	if err != nil {
		return err
	}
	defer db.Close()

	return Inspect(c.Context(), log.NewLogger("parlia"), db, config.Number, c.OutOrStdout())
}

// Inspect writes the report for the block at number, or the head if number
// is nil, of the chain stored in db.
func Inspect(ctx context.Context, logger log.Logger, db database.Database, number *uint64, w io.Writer) error {
	chainBytes, err := db.Get(devnet.ChainConfigKey)
	if err != nil {
		return fmt.Errorf("failed to read chain config: %w", err)
	}
	chain, err := config.GetChainConfig(chainBytes)
	if err != nil {
		return err
	}
	headers, err := headerchain.New(db)
	if err != nil {
		return err
	}
	if headers.Head() == nil {
		return headerchain.ErrNoGenesis
	}

	engine, err := parlia.New(logger, &config.Default, chain, headers, db, &mockable.Clock{}, nil, metric.NewRegistry())
	if err != nil {
		return err
	}

	h := headers.Head()
	if number != nil {
		h, err = headers.GetHeaderByNumber(*number)
		if err != nil {
			return fmt.Errorf("block %d: %w", *number, err)
		}
	}
	snap, err := engine.Snapshot(ctx, h.Number.Uint64(), h.Hash())
	if err != nil {
		return err
	}
	justified, _, err := engine.GetJustifiedNumberAndHash(ctx, h)
	if err != nil {
		return err
	}
	finalized, err := engine.GetFinalizedHeader(ctx, h)
	if err != nil {
		return err
	}

	b, err := json.MarshalIndent(Report{
		Snapshot:  snap,
		Justified: justified,
		Finalized: finalized.Number.Uint64(),
	}, "", "  ")
	if err != nil {
		return err
	}
	_, err = fmt.Fprintln(w, string(b))
	return err
}
