// Command iiopctl is a small command-line tool for working with CORBA
// object references and probing IIOP endpoints.
package main

import (
	"fmt"
	"os"
	"time"

	"github.com/spf13/cobra"

	"github.com/corbaworks/goiiop/corba"
	"github.com/corbaworks/goiiop/giop"
	"github.com/corbaworks/goiiop/transport"
)

func main() {
	if err := newRootCmd().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	root := &cobra.Command{
		Use:   "iiopctl",
		Short: "Inspect and probe CORBA IIOP object references",
	}
	root.AddCommand(newStringifyCmd(), newParseIORCmd(), newPingCmd())
	return root
}

func newStringifyCmd() *cobra.Command {
	var host string
	var port uint16
	var objectKey string
	var major, minor uint8

	cmd := &cobra.Command{
		Use:   "stringify",
		Short: "Build an IOR: string for a host/port/object-key",
		RunE: func(cmd *cobra.Command, args []string) error {
			ior := corba.NewIOR("")
			ior.AddIIOPProfile(corba.IIOPVersion{Major: byte(major), Minor: byte(minor)}, host, port, []byte(objectKey))
			fmt.Println(ior.ToString())
			return nil
		},
	}
	cmd.Flags().StringVar(&host, "host", "localhost", "target host")
	cmd.Flags().Uint16Var(&port, "port", 2809, "target port")
	cmd.Flags().StringVar(&objectKey, "key", "", "object key")
	cmd.Flags().Uint8Var(&major, "giop-major", 1, "GIOP major version")
	cmd.Flags().Uint8Var(&minor, "giop-minor", 2, "GIOP minor version")
	return cmd
}

func newParseIORCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "parse-ior <IOR: or corbaloc: string>",
		Short: "Decode a stringified object reference and print its profiles",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ior, err := parseReference(args[0])
			if err != nil {
				return err
			}
			fmt.Printf("type_id: %q\n", ior.TypeID)
			profiles, err := ior.GetIIOPProfiles()
			if err != nil {
				return err
			}
			for i, p := range profiles {
				fmt.Printf("profile[%d]: iiop %s %s:%d key=%q components=%d\n",
					i, p.Version, p.Host, p.Port, string(p.ObjectKey), len(p.Components))
			}
			return nil
		},
	}
	return cmd
}

func newPingCmd() *cobra.Command {
	var timeoutMS int
	cmd := &cobra.Command{
		Use:   "ping <IOR: or corbaloc: string>",
		Short: "Send a LocateRequest to the reference's primary endpoint",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ior, err := parseReference(args[0])
			if err != nil {
				return err
			}
			connCfg := transport.DefaultConnectionConfig()
			connCfg.ConnectTimeout = time.Duration(timeoutMS) * time.Millisecond
			pool := transport.NewPool(connCfg, transport.DefaultPoolConfig())
			defer pool.CloseAll()
			dispatchCfg := transport.DefaultDispatchConfig()
			dispatchCfg.RequestTimeout = time.Duration(timeoutMS) * time.Millisecond
			client := transport.NewClient(pool, dispatchCfg)
			status, err := client.LocateObject(ior, giop.Version1_2)
			if err != nil {
				return fmt.Errorf("ping failed: %w", err)
			}
			fmt.Printf("locate status: %d\n", status)
			return nil
		},
	}
	cmd.Flags().IntVar(&timeoutMS, "timeout", 5000, "request timeout in milliseconds")
	return cmd
}

func parseReference(s string) (*corba.IOR, error) {
	if len(s) >= 4 && (s[:4] == "IOR:" || s[:4] == "ior:") {
		return corba.ParseIOR(s)
	}
	return corba.ParseCorbaloc(s)
}
