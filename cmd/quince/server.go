package main

import (
	"crypto/tls"
	"log"
	"os"

	"github.com/spf13/cobra"

	"github.com/goburrow/quic"
	"github.com/goburrow/quic/transport"
)

func newServerCmd() *cobra.Command {
	var listenAddr string
	var certFile, keyFile string
	var logLevel int
	var requireRetry bool
	var connRate float64
	var connBurst int

	cmd := &cobra.Command{
		Use:   "server",
		Short: "Run a QUIC echo server",
		RunE: func(cmd *cobra.Command, args []string) error {
			cert, err := tls.LoadX509KeyPair(certFile, keyFile)
			if err != nil {
				return err
			}
			config := newConfig()
			config.TLS.Certificates = []tls.Certificate{cert}
			config.Transport.RequireAddressValidation = requireRetry

			server := quic.NewServer(config)
			server.SetHandler(quic.HandlerFunc(serveEcho))
			server.SetLogger(logLevel, os.Stdout)
			server.SetConnRateLimit(connRate, connBurst)
			if err := server.ListenAndServe(listenAddr); err != nil {
				return err
			}
			log.Printf("listening on %s", listenAddr)
			select {}
		},
	}
	cmd.Flags().StringVar(&listenAddr, "listen", "0.0.0.0:4433", "listen on the given IP:port")
	cmd.Flags().StringVar(&certFile, "cert", "", "TLS certificate file")
	cmd.Flags().StringVar(&keyFile, "key", "", "TLS key file")
	cmd.Flags().IntVar(&logLevel, "v", 2, "log verbose: 0=off 1=error 2=info 3=debug 4=trace")
	cmd.Flags().BoolVar(&requireRetry, "retry", false, "require address validation via Retry before accepting a connection")
	cmd.Flags().Float64Var(&connRate, "conn-rate", 100, "new connections allowed per second, per source address")
	cmd.Flags().IntVar(&connBurst, "conn-burst", 50, "burst of new connections allowed at once, per source address")
	cmd.MarkFlagRequired("cert")
	cmd.MarkFlagRequired("key")
	return cmd
}

// serveEcho writes every byte it reads on a stream back to the same
// stream, closing it once the peer does.
func serveEcho(c quic.Conn, events []transport.Event) {
	for _, e := range events {
		if e.Type != transport.EventStreamRecv {
			continue
		}
		st := c.Stream(e.StreamID)
		if st == nil {
			continue
		}
		buf := make([]byte, 4096)
		n, err := st.Read(buf)
		if n > 0 {
			st.Write(buf[:n])
		}
		if err != nil {
			st.Close()
		}
	}
}
