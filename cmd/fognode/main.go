// Package main implements the fog node CLI: the process that runs one
// node of the fog-computing control plane, market or interior, per
// spec.md §6's environment and exit-code contract.
package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/fogauction/control-plane/pkg/auction"
	"github.com/fogauction/control-plane/pkg/faas"
	"github.com/fogauction/control-plane/pkg/fogconfig"
	"github.com/fogauction/control-plane/pkg/fogtypes"
	"github.com/fogauction/control-plane/pkg/functionlife"
	"github.com/fogauction/control-plane/pkg/gateway"
	"github.com/fogauction/control-plane/pkg/latency"
	"github.com/fogauction/control-plane/pkg/market"
	"github.com/fogauction/control-plane/pkg/nodelife"
	"github.com/fogauction/control-plane/pkg/obs"
	"github.com/fogauction/control-plane/pkg/peerclient"
	"github.com/fogauction/control-plane/pkg/provisioned"
	"github.com/fogauction/control-plane/pkg/resources"
	"github.com/fogauction/control-plane/pkg/routing"
)

var v = viper.New()

var rootCmd = &cobra.Command{
	Use:   "fognode",
	Short: "Fog auction control plane node",
	Long: `fognode runs one node of a hierarchical fog-computing control plane:
it bids on SLAs, provisions functions on a local FaaS backend, and routes
invocations through the tree. A node with no parent (is_market) additionally
accepts client SLA submissions and runs second-price selection.`,
	RunE: runStart,
}

func init() {
	flags := rootCmd.PersistentFlags()
	flags.String(fogconfig.FlagConfig, "", "base64-encoded node situation JSON (env CONFIG)")
	flags.Uint16(fogconfig.FlagListenPort, 8080, "listen port (env ROCKET_PORT)")
	flags.String(fogconfig.FlagPublicIP, "127.0.0.1", "this node's advertised public IP")
	flags.String(fogconfig.FlagOpenFaaSIP, "", "OpenFaaS gateway IP (env OPENFAAS_IP)")
	flags.String(fogconfig.FlagOpenFaaSPort, "8080", "OpenFaaS gateway port (env OPENFAAS_PORT)")
	flags.String(fogconfig.FlagOpenFaaSUsername, "", "OpenFaaS basic-auth username (env OPENFAAS_USERNAME)")
	flags.String(fogconfig.FlagOpenFaaSPassword, "", "OpenFaaS basic-auth password (env OPENFAAS_PASSWORD)")
	flags.Duration(fogconfig.FlagBidTTL, auction.DefaultBidTTL, "pending-bid expiry before the janitor releases it")
	flags.Duration(fogconfig.FlagBidDeadline, functionlife.DefaultBidDeadline, "per-child bid fan-out deadline")
	flags.String(fogconfig.FlagPricingBase, "0.1", "pricing formula base term")
	flags.String(fogconfig.FlagPricingAlpha, "1.0", "pricing formula utilization multiplier")
	flags.String(fogconfig.FlagPlacementPolicy, "top-down", "bid placement policy: top-down or bottom-up")
	flags.Int64(fogconfig.FlagCapacityCPU, 4000, "this node's allocatable millicpu")
	flags.Int64(fogconfig.FlagCapacityRAM, 4<<30, "this node's allocatable memory bytes")

	_ = v.BindPFlag(fogconfig.FlagConfig, flags.Lookup(fogconfig.FlagConfig))
	_ = v.BindPFlag(fogconfig.FlagListenPort, flags.Lookup(fogconfig.FlagListenPort))
	_ = v.BindPFlag(fogconfig.FlagPublicIP, flags.Lookup(fogconfig.FlagPublicIP))
	_ = v.BindPFlag(fogconfig.FlagOpenFaaSIP, flags.Lookup(fogconfig.FlagOpenFaaSIP))
	_ = v.BindPFlag(fogconfig.FlagOpenFaaSPort, flags.Lookup(fogconfig.FlagOpenFaaSPort))
	_ = v.BindPFlag(fogconfig.FlagOpenFaaSUsername, flags.Lookup(fogconfig.FlagOpenFaaSUsername))
	_ = v.BindPFlag(fogconfig.FlagOpenFaaSPassword, flags.Lookup(fogconfig.FlagOpenFaaSPassword))
	_ = v.BindPFlag(fogconfig.FlagBidTTL, flags.Lookup(fogconfig.FlagBidTTL))
	_ = v.BindPFlag(fogconfig.FlagBidDeadline, flags.Lookup(fogconfig.FlagBidDeadline))
	_ = v.BindPFlag(fogconfig.FlagPricingBase, flags.Lookup(fogconfig.FlagPricingBase))
	_ = v.BindPFlag(fogconfig.FlagPricingAlpha, flags.Lookup(fogconfig.FlagPricingAlpha))
	_ = v.BindPFlag(fogconfig.FlagPlacementPolicy, flags.Lookup(fogconfig.FlagPlacementPolicy))
	_ = v.BindPFlag(fogconfig.FlagCapacityCPU, flags.Lookup(fogconfig.FlagCapacityCPU))
	_ = v.BindPFlag(fogconfig.FlagCapacityRAM, flags.Lookup(fogconfig.FlagCapacityRAM))

	_ = v.BindEnv(fogconfig.FlagConfig, "CONFIG")
	_ = v.BindEnv(fogconfig.FlagListenPort, "ROCKET_PORT")
	_ = v.BindEnv(fogconfig.FlagOpenFaaSIP, "OPENFAAS_IP")
	_ = v.BindEnv(fogconfig.FlagOpenFaaSPort, "OPENFAAS_PORT")
	_ = v.BindEnv(fogconfig.FlagOpenFaaSUsername, "OPENFAAS_USERNAME")
	_ = v.BindEnv(fogconfig.FlagOpenFaaSPassword, "OPENFAAS_PASSWORD")
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func runStart(cmd *cobra.Command, _ []string) error {
	cfg, err := fogconfig.Load(v)
	if err != nil {
		return fmt.Errorf("config: %w", err)
	}

	log := obs.NewLogger(os.Stderr, cfg.Situation.MyId.String(), isTerminal())

	adapter := resources.NewStaticClusterAdapter()
	adapter.SetCapacity(cfg.Situation.MyId, cfg.CapacityCPU, cfg.CapacityRAM)
	tracker := resources.NewTracker(adapter)

	backend := faas.NewNullBackend(cfg.FaaS)
	provisRepo := provisioned.New()
	auctionRepo := auction.NewRepository()

	var auctionSvc *auction.Service
	if !cfg.Situation.IsMarket {
		auctionSvc = auction.NewService(cfg.Situation.MyId, auctionRepo, tracker, provisRepo, backend, cfg.Pricing, log)
	}

	client := peerclient.New(cfg.BidDeadline + 500*time.Millisecond)
	probe := latency.NewStaticProbe(10 * time.Millisecond)

	nlife := nodelife.New(cfg.Situation, client, log)

	life := functionlife.NewService(
		cfg.Situation.MyId,
		fmt.Sprintf("http://%s:%d", cfg.Situation.PublicIP, cfg.Situation.PublicPort),
		cfg.Situation.IsMarket,
		nlife.Children,
		auctionSvc,
		client,
		probe,
		functionlife.Config{BidDeadline: cfg.BidDeadline, Policy: cfg.PlacementPolicy},
	)

	router := routing.NewRouter(
		cfg.Situation.MyId,
		func(id fogtypes.NodeId) (fogtypes.Node, bool) {
			s := nlife.Situation()
			n, ok := s.Nodes[id]
			return n, ok
		},
		func() (fogtypes.Node, bool) {
			s := nlife.Situation()
			if s.ToMarket == nil {
				return fogtypes.Node{}, false
			}
			return *s.ToMarket, true
		},
		backend,
		client,
	)

	var mkt *market.Service
	if cfg.Situation.IsMarket {
		mkt = market.NewService(cfg.Situation.MyId, nlife.Children, client, client, client, log)
	}

	srv := gateway.NewServer(cfg.Situation.MyId, life, auctionSvc, router, nlife, mkt, probe, log)

	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := nlife.RegisterWithParent(ctx); err != nil {
		return err
	}

	if auctionSvc != nil {
		go auctionSvc.RunJanitor(ctx, cfg.BidTTL)
	}

	httpSrv := &http.Server{Addr: fmt.Sprintf(":%d", cfg.ListenPort), Handler: srv.Router}
	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = httpSrv.Shutdown(shutdownCtx)
	}()

	log.Info().Uint16("port", cfg.ListenPort).Bool("is_market", cfg.Situation.IsMarket).Msg("fog node listening")
	if err := httpSrv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		return err
	}
	return nil
}

func isTerminal() bool {
	fi, err := os.Stderr.Stat()
	if err != nil {
		return false
	}
	return fi.Mode()&os.ModeCharDevice != 0
}
