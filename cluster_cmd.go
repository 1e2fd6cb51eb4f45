package main

import (
	"context"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/charmbracelet/lipgloss"
	"github.com/charmbracelet/log"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/voicenexus/voicenexus/internal/cluster"
	"github.com/voicenexus/voicenexus/internal/config"
)

// Beyond this many instances a single GPU usually runs out of memory.
const recommendedMaxInstances = 4

var clusterCmd = &cobra.Command{
	Use:     "cluster",
	Short:   "Run several instances, optionally behind a dispatcher",
	Long:    paragraph(fmt.Sprintf("\n%s several synthesis instances on consecutive ports. Each instance loads its own engine, so starts are staggered. With --with-proxy a round-robin dispatcher is put in front of them.", keyword("Supervise"))),
	Example: paragraph("voicenexus cluster -n 3\nvoicenexus cluster -n 2 -p 9000 --with-proxy --proxy-port 8000"),
	Args:    cobra.NoArgs,
	RunE: func(cmd *cobra.Command, _ []string) error {
		ctx, stop := cluster.SignalContext(cmd.Context())
		defer stop()
		return runCluster(ctx, cfg)
	},
}

func init() {
	clusterCmd.Flags().IntP("instances", "n", 0, "number of instances to run")
	clusterCmd.Flags().IntP("base-port", "p", 0, "port of the first instance")
	clusterCmd.Flags().Bool("with-proxy", false, "run the round-robin dispatcher")
	clusterCmd.Flags().Int("proxy-port", 0, "dispatcher port")
	clusterCmd.Flags().Duration("stagger", 0, "delay between instance starts")

	_ = viper.BindPFlag("cluster.instances", clusterCmd.Flags().Lookup("instances"))
	_ = viper.BindPFlag("cluster.base_port", clusterCmd.Flags().Lookup("base-port"))
	_ = viper.BindPFlag("cluster.with_proxy", clusterCmd.Flags().Lookup("with-proxy"))
	_ = viper.BindPFlag("cluster.proxy_port", clusterCmd.Flags().Lookup("proxy-port"))
	_ = viper.BindPFlag("cluster.stagger", clusterCmd.Flags().Lookup("stagger"))
}

func runCluster(ctx context.Context, c config.Config) error {
	cc := c.Cluster
	if cc.Instances > recommendedMaxInstances {
		log.Warn("Running more instances than a single GPU usually holds",
			"instances", cc.Instances, "recommended_max", recommendedMaxInstances)
	}

	exe, err := os.Executable()
	if err != nil {
		return fmt.Errorf("unable to locate own binary: %w", err)
	}
	args := []string{"serve"}
	if used := viper.ConfigFileUsed(); used != "" {
		args = append(args, "--config", used)
	}

	sup, err := cluster.New(cluster.Config{
		Instances:    cc.Instances,
		BasePort:     cc.BasePort,
		Stagger:      cc.Stagger,
		GracePeriod:  cc.GracePeriod,
		PollInterval: cc.PollInterval,
		LogDir:       c.Paths.Logs,
	}, cluster.ExecLauncher{Binary: exe, Args: args})
	if err != nil {
		return err
	}

	lc := cluster.NewLifecycle(cc.GracePeriod + 10*time.Second)
	lc.Register(sup)
	defer func() {
		if err := lc.Shutdown(context.Background()); err != nil {
			log.Error("Cluster shutdown incomplete", "error", err)
		}
	}()

	if err := sup.Start(ctx); err != nil {
		return err
	}
	go sup.Monitor(ctx)

	proxyErr := make(chan error, 1)
	var proxyAddr string
	if cc.WithProxy {
		d, err := cluster.NewDispatcher(sup.Backends(), cc.ProxyTimeout)
		if err != nil {
			return err
		}
		proxy := cluster.NewProxyServer(fmt.Sprintf("%s:%d", c.Server.Host, cc.ProxyPort), d)
		lc.Register(proxy)
		proxyAddr = fmt.Sprintf("http://localhost:%d", cc.ProxyPort)
		go func() { proxyErr <- proxy.ListenAndServe() }()
	}

	fmt.Println(clusterBanner(sup, proxyAddr))

	for {
		select {
		case <-ctx.Done():
			log.Info("Stopping cluster")
			return nil
		case ev := <-sup.Exits():
			log.Error("Instance is down, its share of requests will fail",
				"instance", ev.Ordinal, "port", ev.Port, "log", sup.LogPath(ev.Ordinal))
		case err := <-proxyErr:
			if err != nil {
				return fmt.Errorf("dispatcher stopped: %w", err)
			}
			return nil
		}
	}
}

func clusterBanner(sup *cluster.Supervisor, proxyAddr string) string {
	var b strings.Builder
	b.WriteString(keyword("VoiceNexus cluster is running") + "\n\n")
	for _, inst := range sup.Instances() {
		fmt.Fprintf(&b, "%s%s\n", labelStyle.Render(fmt.Sprintf("Instance %d", inst.Ordinal)), inst.URL)
	}
	if proxyAddr != "" {
		fmt.Fprintf(&b, "%s%s\n", labelStyle.Render("Dispatcher"), proxyAddr)
	}
	fmt.Fprintf(&b, "%s%s", labelStyle.Render("Logs"), lipgloss.NewStyle().Faint(true).Render(sup.LogPath(1)+" ..."))
	return bannerStyle.Render(b.String())
}
