package main

import (
	"context"
	"errors"
	"fmt"

	"github.com/charmbracelet/log"
	"github.com/spf13/cobra"

	"github.com/voicenexus/voicenexus/internal/cluster"
)

var (
	proxyBackends []string
	proxyPort     int

	proxyCmd = &cobra.Command{
		Use:     "proxy",
		Short:   "Run the round-robin dispatcher alone",
		Long:    paragraph(fmt.Sprintf("\n%s requests across running instances in strict rotation. A backend that is down answers 502; nothing is retried.", keyword("Dispatch"))),
		Example: paragraph("voicenexus proxy --backends http://127.0.0.1:8080,http://127.0.0.1:8081"),
		Args:    cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			ctx, stop := cluster.SignalContext(cmd.Context())
			defer stop()
			return runProxy(ctx, cmd)
		},
	}
)

func init() {
	proxyCmd.Flags().StringSliceVar(&proxyBackends, "backends", nil, "backend base URLs, in dispatch order")
	proxyCmd.Flags().IntVar(&proxyPort, "port", 0, "dispatcher port (default cluster.proxy_port)")
	_ = proxyCmd.MarkFlagRequired("backends")
}

func runProxy(ctx context.Context, cmd *cobra.Command) error {
	port := cfg.Cluster.ProxyPort
	if cmd.Flags().Changed("port") {
		port = proxyPort
	}
	if port < 1 || port > 65535 {
		return errors.New("dispatcher port must be between 1 and 65535")
	}

	d, err := cluster.NewDispatcher(proxyBackends, cfg.Cluster.ProxyTimeout)
	if err != nil {
		return err
	}
	proxy := cluster.NewProxyServer(fmt.Sprintf("%s:%d", cfg.Server.Host, port), d)
	lc := cluster.NewLifecycle(0)
	lc.Register(proxy)

	served := make(chan error, 1)
	go func() { served <- proxy.ListenAndServe() }()
	log.Info("Dispatching", "backends", d.Backends(), "addr", proxy.Addr())

	select {
	case <-ctx.Done():
	case err := <-served:
		if err != nil {
			return err
		}
	}
	return lc.Shutdown(context.Background())
}
