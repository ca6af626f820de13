package entity

import (
	"fmt"

	"github.com/spf13/cobra"

	"reliefsync/cmd/client/cmd/cli"
	"reliefsync/internal/domain/payload"
)

var AddCmd = &cobra.Command{
	Use:   "add",
	Short: "Создать сущность",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		return save(cmd, payload.ActionCreate)
	},
}

var UpdateCmd = &cobra.Command{
	Use:   "update",
	Short: "Обновить сущность",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		return save(cmd, payload.ActionUpdate)
	},
}

var DeleteCmd = &cobra.Command{
	Use:   "delete <uuid>",
	Short: "Удалить сущность",
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

		id, err := env.App.Delete(cmd.Context(), typ, args[0], priority)
		if err != nil {
			return fmt.Errorf("ошибка удаления: %w", err)
		}
		return queued(env.Printer, payload.ActionDelete, typ, args[0], id)
	},
}

func save(cmd *cobra.Command, action payload.Action) error {
	env, err := cli.FromCommand(cmd)
	if err != nil {
		return err
	}
	typ, err := parseType()
	if err != nil {
		return err
	}

	data, err := cli.ReadData(dataFile, cmd.InOrStdin())
	if err != nil {
		return err
	}

	id, err := env.App.Save(cmd.Context(), typ, action, data, priority)
	if err != nil {
		return fmt.Errorf("ошибка сохранения: %w", err)
	}
	return queued(env.Printer, action, typ, "", id)
}
