package main

import (
	"fmt"

	"github.com/spf13/cobra"
	"github.com/warp/clockd/auth"
	"github.com/warp/clockd/generic"
)

var (
	tokenEmployee string
	tokenRoles    []string
)

var tokenCmd = &cobra.Command{
	Use:   "token",
	Short: "Issue a development JWT",
	Example: `
  clockd token --employee emp-1
  clockd token --employee mgr-1 --role admin`,
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := loadConfig()
		if err != nil {
			return err
		}
		tokens := auth.NewTokens(cfg.Auth.JWTSecret, cfg.Auth.Issuer, cfg.Auth.TokenTTL)
		token, err := tokens.Issue(generic.Principal{
			EmployeeID: generic.EmployeeID(tokenEmployee),
			Roles:      tokenRoles,
		})
		if err != nil {
			return err
		}
		fmt.Fprintln(cmd.OutOrStdout(), token)
		return nil
	},
}

func init() {
	tokenCmd.Flags().StringVarP(&tokenEmployee, "employee", "e", "", "employee id (token subject)")
	tokenCmd.Flags().StringSliceVar(&tokenRoles, "role", nil, "role to embed, repeatable")
	_ = tokenCmd.MarkFlagRequired("employee")
}
