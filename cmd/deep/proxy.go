package main

import (
	"fmt"
	"strings"

	"github.com/spf13/cobra"
)

var proxyCmd = &cobra.Command{
	Use:     "proxy",
	Aliases: []string{"p"},
	Short:   "Inspect the reverse proxy",
}

var proxyStatusCmd = &cobra.Command{
	Use:     "status",
	Aliases: []string{"st"},
	Short:   "List configured proxy routes",
	RunE: func(cmd *cobra.Command, args []string) error {
		proxyClient, err := openProxy(cmd)
		if err != nil {
			return err
		}
		routes, err := proxyClient.ListRoutes()
		if err != nil {
			return err
		}
		if len(routes) == 0 {
			fmt.Println("no routes found")
			return nil
		}
		for _, r := range routes {
			fmt.Printf("%s  hosts=%s  upstreams=%s\n", r.ID, strings.Join(r.Hosts, ","), strings.Join(r.Upstreams, ","))
			if len(r.Hosts) == 0 || len(r.Upstreams) == 0 {
				fmt.Printf("warning: route %s is missing hosts or upstreams\n", r.ID)
			}
		}
		return nil
	},
}

func init() {
	proxyFlags(proxyStatusCmd)
	proxyCmd.AddCommand(proxyStatusCmd)
}
