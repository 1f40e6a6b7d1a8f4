// Copyright 2025 Edgeo SCADA
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

package main

import (
	"context"
	"fmt"
	"math/rand/v2"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	opcua "github.com/edgeo-scada/uasub"
	"github.com/edgeo-scada/uasub/nodestore"
	"github.com/edgeo-scada/uasub/scheduler"
)

var simulateCmd = &cobra.Command{
	Use:   "simulate",
	Short: "Run a simulated client against changing demo variables",
	Long: `Create a session and one subscription over the demo variables, change
their values in the background and print every published notification.

Demo variables:
  ns=2;i=1  Temperature
  ns=2;i=2  Pressure
  ns=2;i=3  Status

Examples:
  edgeo-uasub simulate
  edgeo-uasub simulate -n "ns=2;i=1" -i 250 --sample 50 --queue 5
  edgeo-uasub simulate -d 30s --event-log events.cbor`,
	RunE: runSimulate,
}

var (
	simNodes    []string
	simInterval float64
	simSample   float64
	simQueue    uint32
	simDuration time.Duration
)

func init() {
	simulateCmd.Flags().StringArrayVarP(&simNodes, "node", "n", []string{"ns=2;i=1", "ns=2;i=2", "ns=2;i=3"}, "Node ID(s) to monitor (can specify multiple)")
	simulateCmd.Flags().Float64VarP(&simInterval, "interval", "i", 1000, "Publishing interval in milliseconds")
	simulateCmd.Flags().Float64Var(&simSample, "sample", 250, "Sampling interval in milliseconds")
	simulateCmd.Flags().Uint32Var(&simQueue, "queue", 10, "Monitored item queue size")
	simulateCmd.Flags().DurationVarP(&simDuration, "duration", "d", 0, "Stop after this long (0 runs until interrupted)")
}

func runSimulate(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	logger := newLogger(os.Stderr, cfg)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	if simDuration > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, simDuration)
		defer cancel()
	}

	ticker := scheduler.NewTicker()
	defer ticker.Close()

	e, err := newEngine(cfg, ticker, logger)
	if err != nil {
		return err
	}
	defer e.close()

	sess, err := e.sessions.Create(cfg.Session.Timeout)
	if err != nil {
		return err
	}
	c := newClient(e.svc, sess)

	sub, err := call[*opcua.CreateSubscriptionResponse](c, &opcua.CreateSubscriptionRequest{
		RequestedPublishingInterval: simInterval,
		RequestedLifetimeCount:      60,
		RequestedMaxKeepAliveCount:  10,
		PublishingEnabled:           true,
	})
	if err != nil {
		return err
	}
	if sc := sub.ResponseHeader.ServiceResult; sc.IsBad() {
		return fmt.Errorf("failed to create subscription: %s", sc)
	}
	fmt.Printf("Subscription created (ID: %d, Interval: %.0fms, Lifetime: %d, KeepAlive: %d)\n",
		sub.SubscriptionID, sub.RevisedPublishingInterval, sub.RevisedLifetimeCount, sub.RevisedMaxKeepAliveCount)

	names := make(map[uint32]string, len(simNodes))
	reqs := make([]opcua.MonitoredItemCreateRequest, len(simNodes))
	for i, s := range simNodes {
		id, err := opcua.ParseNodeID(s)
		if err != nil {
			return fmt.Errorf("invalid node ID %q: %w", s, err)
		}
		handle := uint32(i + 1)
		names[handle] = s
		reqs[i] = opcua.MonitoredItemCreateRequest{
			ItemToMonitor:  opcua.ReadValueID{NodeID: id, AttributeID: opcua.AttributeValue},
			MonitoringMode: opcua.MonitoringModeReporting,
			RequestedParameters: opcua.MonitoringParameters{
				ClientHandle:     handle,
				SamplingInterval: simSample,
				QueueSize:        simQueue,
				DiscardOldest:    true,
			},
		}
	}

	items, err := call[*opcua.CreateMonitoredItemsResponse](c, &opcua.CreateMonitoredItemsRequest{
		SubscriptionID:     sub.SubscriptionID,
		TimestampsToReturn: opcua.TimestampsToReturnBoth,
		ItemsToCreate:      reqs,
	})
	if err != nil {
		return err
	}
	if sc := items.ResponseHeader.ServiceResult; sc.IsBad() {
		return fmt.Errorf("failed to create monitored items: %s", sc)
	}
	fmt.Printf("Monitoring %d nodes:\n", len(items.Results))
	for i, r := range items.Results {
		if r.StatusCode.IsBad() {
			fmt.Printf("  [%d] %s: %s\n", i+1, simNodes[i], r.StatusCode)
			continue
		}
		fmt.Printf("  [%d] %s (ID: %d, Interval: %.0fms, Queue: %d)\n",
			i+1, simNodes[i], r.MonitoredItemID, r.RevisedSamplingInterval, r.RevisedQueueSize)
	}
	fmt.Println("\nWaiting for notifications (Ctrl+C to stop)...")

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		return e.sessions.Run(gctx, cfg.Session.ReapInterval)
	})
	g.Go(func() error {
		return changeValues(gctx, e.store, scheduler.Milliseconds(simSample))
	})
	g.Go(func() error {
		return publishLoop(gctx, c, scheduler.Milliseconds(sub.RevisedPublishingInterval), names)
	})

	err = g.Wait()
	fmt.Println("\nStopping...")
	return err
}

// changeValues random-walks the demo variables every interval.
func changeValues(ctx context.Context, store *nodestore.Memory, interval time.Duration) error {
	if interval <= 0 {
		interval = time.Second
	}
	t := time.NewTicker(interval)
	defer t.Stop()

	temp, pressure := 25.5, 101.325
	for tick := 1; ; tick++ {
		select {
		case <-ctx.Done():
			return nil
		case <-t.C:
		}

		temp += (rand.Float64() - 0.5) * 0.4
		if err := store.SetValue(temperatureNode, temp); err != nil {
			return err
		}
		if tick%4 == 0 {
			pressure += (rand.Float64() - 0.5) * 0.2
			if err := store.SetValue(pressureNode, pressure); err != nil {
				return err
			}
		}
		if tick%40 == 0 {
			status := "Running"
			if tick%80 == 0 {
				status = "Idle"
			}
			if err := store.SetValue(statusNode, status); err != nil {
				return err
			}
		}
	}
}

// publishLoop issues one Publish per interval, draining queued messages and
// acknowledging each data message on the next request.
func publishLoop(ctx context.Context, c *client, interval time.Duration, names map[uint32]string) error {
	t := time.NewTicker(interval)
	defer t.Stop()

	var acks []opcua.SubscriptionAcknowledgement
	for {
		select {
		case <-ctx.Done():
			return nil
		case <-t.C:
		}

		for more := true; more; {
			resp, err := call[*opcua.PublishResponse](c, &opcua.PublishRequest{SubscriptionAcknowledgements: acks})
			if err != nil {
				return err
			}
			acks = nil
			printPublish(os.Stdout, resp, names)
			if resp.ResponseHeader.ServiceResult.IsBad() {
				return fmt.Errorf("publish failed: %s", resp.ResponseHeader.ServiceResult)
			}

			msg := resp.NotificationMessage
			if !msg.IsKeepAlive() {
				acks = append(acks, opcua.SubscriptionAcknowledgement{
					SubscriptionID: resp.SubscriptionID,
					SequenceNumber: msg.SequenceNumber,
				})
			}
			more = resp.MoreNotifications
		}
	}
}
