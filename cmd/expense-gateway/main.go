package main

import (
	"fmt"
	"os"

	"github.com/expensegraph/expense-gateway/gateway"
	"github.com/expensegraph/expense-gateway/server"
	"github.com/expensegraph/expense-gateway/subgraph/expense"
	"github.com/expensegraph/expense-gateway/subgraph/user"
	"github.com/spf13/cobra"
)

var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "Print the version number of Expense Gateway",
	Run: func(cmd *cobra.Command, args []string) {
		fmt.Println("Expense Gateway v0.1.0")
	},
}

func serveCmd() *cobra.Command {
	var configPath string
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Start the federation gateway",
		RunE: func(cmd *cobra.Command, args []string) error {
			opt, err := gateway.LoadConfig(configPath)
			if err != nil {
				return err
			}
			return server.Run(opt)
		},
	}
	cmd.Flags().StringVarP(&configPath, "config", "c", "gateway.yaml", "path to the gateway configuration file")
	return cmd
}

func userServiceCmd() *cobra.Command {
	var port int
	cmd := &cobra.Command{
		Use:   "user-service",
		Short: "Start the demo User subgraph",
		RunE: func(cmd *cobra.Command, args []string) error {
			return server.RunService("user-service", port, user.NewHandler(user.NewSeededStore()))
		},
	}
	cmd.Flags().IntVar(&port, "port", 4001, "listen port")
	return cmd
}

func expenseServiceCmd() *cobra.Command {
	var port int
	cmd := &cobra.Command{
		Use:   "expense-service",
		Short: "Start the demo Expense subgraph",
		RunE: func(cmd *cobra.Command, args []string) error {
			return server.RunService("expense-service", port, expense.NewHandler(expense.NewSeededStore()))
		},
	}
	cmd.Flags().IntVar(&port, "port", 4002, "listen port")
	return cmd
}

func main() {
	rootCmd := &cobra.Command{Use: "expense-gateway"}

	rootCmd.AddCommand(versionCmd)
	rootCmd.AddCommand(serveCmd())
	rootCmd.AddCommand(userServiceCmd())
	rootCmd.AddCommand(expenseServiceCmd())

	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}
