package main

import (
	"fmt"

	"github.com/fatih/color"
	"github.com/spf13/cobra"
)

var logo = "\n" +
	" _______       ______ _______ _____ ______ \n" +
	" |______ |         |  |_____|   |   |_____/\n" +
	" ______| |_____    |  |     | __|__ |    \\_\n"

var rootCmd = &cobra.Command{
	Use:   "swarmd",
	Short: "swarmd - self-scaling agent fleet supervisor",
	Long:  color.CyanString(logo) + "\nRuns and controls a fleet of coding-agent daemons from one binary.",
	Run: func(cmd *cobra.Command, args []string) {
		cmd.Help()
	},
}

func init() {
	rootCmd.AddCommand(startCmd)
	rootCmd.AddCommand(statusCmd)
	rootCmd.AddCommand(scaleCmd)
	rootCmd.AddCommand(stopCmd)
}

func printHeader(title string) {
	fmt.Println(color.CyanString(logo))
	if title != "" {
		fmt.Println(title)
		fmt.Println("─────────────────────")
	}
}
