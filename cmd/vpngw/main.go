// Command vpngw runs the IKEv1/IKEv2 gateway core standalone, listening on
// UDP/500 and UDP/4500 and forwarding decrypted traffic out via direct
// dials. It is the external launcher the core treats as a collaborator:
// argument parsing and process startup live here, not in the ike package.
package main

import (
	"fmt"
	"net"
	"os"

	"github.com/msgboxio/log"
	"github.com/spf13/cobra"
	"github.com/vpngw/ike"
)

func main() {
	var (
		passwd  string
		dns     string
		nocache bool
	)

	cmd := &cobra.Command{
		Use:   "vpngw",
		Short: "user-space IKEv1/IKEv2 VPN gateway",
		RunE: func(cmd *cobra.Command, args []string) error {
			dnsIP := net.ParseIP(dns)
			if dnsIP == nil {
				return fmt.Errorf("vpngw: invalid --dns address %q", dns)
			}

			cfg := ike.DefaultConfig()
			cfg.PSK = []byte(passwd)
			cfg.DNS = dnsIP

			udp500, err := ike.Listen("udp", ":500")
			if err != nil {
				return fmt.Errorf("vpngw: listen :500: %w", err)
			}
			udp4500, err := ike.Listen("udp", ":4500")
			if err != nil {
				return fmt.Errorf("vpngw: listen :4500: %w", err)
			}

			router := &ike.Router{Connector: directConnector{}}
			if !nocache {
				router.DNS = newMemDNSCache()
			}

			gw := ike.NewGateway(cfg, udp500, udp4500, router)
			log.Infof("vpngw: serving on udp :500 :4500")
			return gw.Run()
		},
	}

	cmd.Flags().StringVarP(&passwd, "passwd", "p", "test", "pre-shared key")
	cmd.Flags().StringVar(&dns, "dns", "1.1.1.1", "dns server handed to clients via mode config / cp")
	cmd.Flags().BoolVar(&nocache, "nc", false, "disable the dns answer cache")

	if err := cmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
