// Copyright (C) 2019-2025, Lux Industries, Inc. All rights reserved.
// See the file LICENSE for licensing terms.

package devnet

import (
	"github.com/spf13/cobra"

	"github.com/luxfi/log"
)

func Command() *cobra.Command {
	c := &cobra.Command{
		Use:   "devnet",
		Short: "Produces a chain with in-process validators",
		RunE:  devnetFunc,
	}
	flags := c.Flags()
	AddFlags(flags)
	return c
}

func devnetFunc(c *cobra.Command, args []string) error {
	config, err := ParseFlags(c.Flags(), args)
	if err != nil {
		return err
	}
	_, err = Run(c.Context(), log.NewLogger("parlia"), config)
	return err
}
