package entity

import (
	"fmt"
	"io"

	"github.com/spf13/cobra"

	"reliefsync/cmd/client/cmd/cli"
	"reliefsync/internal/app/client"
)

var ListCmd = &cobra.Command{
	Use:   "list",
	Short: "Список локальных копий",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		env, err := cli.FromCommand(cmd)
		if err != nil {
			return err
		}
		typ, err := parseType()
		if err != nil {
			return err
		}

		snaps, err := env.App.List(cmd.Context(), typ)
		if err != nil {
			return fmt.Errorf("ошибка получения списка: %w", err)
		}
		return env.Printer.Print(snaps, snapshotView(snaps))
	},
}

var ShowCmd = &cobra.Command{
	Use:   "show <uuid>",
	Short: "Показать локальную копию",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		env, err := cli.FromCommand(cmd)
		if err != nil {
			return err
		}
		typ, err := parseType()
		if err != nil {
			return err
		}

		snap, err := env.App.Get(cmd.Context(), typ, args[0])
		if err != nil {
			return fmt.Errorf("ошибка получения записи: %w", err)
		}

		view := snapshotView([]*client.Snapshot{snap})
		text := view.Text
		view.Text = func(w io.Writer) {
			text(w)
			fmt.Fprintf(w, "   Данные: %s\n", snap.Data)
		}
		return env.Printer.Print(snap, view)
	},
}
