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
	"fmt"
	"strconv"
	"strings"

	"github.com/chzyer/readline"
	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"

	opcua "github.com/edgeo-scada/uasub"
	"github.com/edgeo-scada/uasub/scheduler"
	"github.com/edgeo-scada/uasub/session"
	"github.com/edgeo-scada/uasub/subscription"
)

var consoleCmd = &cobra.Command{
	Use:   "console",
	Short: "Drive the engine step by step from an interactive prompt",
	Long: `Open a session on a manually clocked engine. Publishing cycles only run
when fired from the prompt, so every counter can be observed.`,
	RunE: runConsole,
}

func runConsole(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}

	rl, err := readline.NewEx(&readline.Config{
		Prompt:          "uasub> ",
		InterruptPrompt: "^C",
		EOFPrompt:       "exit",
	})
	if err != nil {
		return fmt.Errorf("failed to create readline: %w", err)
	}
	defer rl.Close()

	sched := scheduler.NewManual()
	e, err := newEngine(cfg, sched, newLogger(rl.Stderr(), cfg))
	if err != nil {
		return err
	}
	defer e.close()

	sess, err := e.sessions.Create(cfg.Session.Timeout)
	if err != nil {
		return err
	}

	con := &console{
		rl:    rl,
		e:     e,
		sched: sched,
		sess:  sess,
		c:     newClient(e.svc, sess),
		names: make(map[uint32]string),
	}
	con.run()
	return nil
}

type console struct {
	rl    *readline.Instance
	e     *engine
	sched *scheduler.Manual
	sess  *session.Session
	c     *client

	nextHandle uint32
	names      map[uint32]string
}

func (c *console) printf(format string, args ...interface{}) {
	fmt.Fprintf(c.rl.Stdout(), format, args...)
}

func (c *console) run() {
	c.printHelp()

	for {
		line, err := c.rl.Readline()
		if err != nil {
			if err == readline.ErrInterrupt {
				continue
			}
			c.printf("Exiting...\n")
			return
		}

		parts := strings.Fields(strings.TrimSpace(line))
		if len(parts) == 0 {
			continue
		}
		cmd := strings.ToLower(parts[0])
		args := parts[1:]

		switch cmd {
		case "help", "?":
			c.printHelp()
		case "create", "c":
			c.cmdCreate(args)
		case "modify":
			c.cmdModify(args)
		case "mode":
			c.cmdMode(args)
		case "item", "i":
			c.cmdItem(args)
		case "rmitem":
			c.cmdRemoveItem(args)
		case "delete", "d":
			c.cmdDelete(args)
		case "set", "s":
			c.cmdSet(args)
		case "fire", "f":
			c.cmdFire(args)
		case "publish", "p":
			c.cmdPublish(args)
		case "list", "l":
			c.cmdList()
		case "metrics", "m":
			c.cmdMetrics()
		case "quit", "exit", "q":
			c.printf("Exiting...\n")
			return
		default:
			c.printf("Unknown command: %s (type 'help' for commands)\n", cmd)
		}
	}
}

func (c *console) printHelp() {
	c.printf(`
Subscriptions:
  create [interval] [lifetime] [keepalive]   - Create a subscription
  modify <sub> <interval> [lifetime] [keepalive]
  mode <on|off> <sub>...                     - Enable or disable publishing
  delete <sub>...                            - Delete subscriptions

Monitored items:
  item <sub> <node> [queue] [newest]         - Monitor a node ('newest' discards new samples)
  rmitem <sub> <item>...                     - Delete monitored items

Engine:
  set <node> <value>                         - Change a variable
  fire [sub]                                 - Run one publishing cycle (all when omitted)
  publish [sub:seq]...                       - Publish, acknowledging the given messages
  list                                       - Show subscriptions and queues
  metrics                                    - Show service metrics

  help, quit

Demo variables: ns=2;i=1 Temperature, ns=2;i=2 Pressure, ns=2;i=3 Status
`)
}

func argFloat(args []string, i int, def float64) (float64, error) {
	if i >= len(args) {
		return def, nil
	}
	return strconv.ParseFloat(args[i], 64)
}

func argUint(args []string, i int, def uint32) (uint32, error) {
	if i >= len(args) {
		return def, nil
	}
	v, err := strconv.ParseUint(args[i], 10, 32)
	return uint32(v), err
}

func argUints(args []string) ([]uint32, error) {
	out := make([]uint32, len(args))
	for i := range args {
		v, err := argUint(args, i, 0)
		if err != nil {
			return nil, fmt.Errorf("invalid id %q", args[i])
		}
		out[i] = v
	}
	return out, nil
}

func (c *console) cmdCreate(args []string) {
	interval, err1 := argFloat(args, 0, 1000)
	lifetime, err2 := argUint(args, 1, 30)
	keepAlive, err3 := argUint(args, 2, 3)
	if err1 != nil || err2 != nil || err3 != nil {
		c.printf("usage: create [interval] [lifetime] [keepalive]\n")
		return
	}

	resp, err := call[*opcua.CreateSubscriptionResponse](c.c, &opcua.CreateSubscriptionRequest{
		RequestedPublishingInterval: interval,
		RequestedLifetimeCount:      lifetime,
		RequestedMaxKeepAliveCount:  keepAlive,
		PublishingEnabled:           true,
	})
	if err != nil {
		c.printf("error: %v\n", err)
		return
	}
	if sc := resp.ResponseHeader.ServiceResult; sc.IsBad() {
		c.printf("create: %s\n", sc)
		return
	}
	c.printf("subscription %d: interval=%.0fms lifetime=%d keepalive=%d\n",
		resp.SubscriptionID, resp.RevisedPublishingInterval, resp.RevisedLifetimeCount, resp.RevisedMaxKeepAliveCount)
}

func (c *console) cmdModify(args []string) {
	if len(args) < 2 {
		c.printf("usage: modify <sub> <interval> [lifetime] [keepalive]\n")
		return
	}
	id, err1 := argUint(args, 0, 0)
	interval, err2 := argFloat(args, 1, 0)
	lifetime, err3 := argUint(args, 2, 0)
	keepAlive, err4 := argUint(args, 3, 0)
	if err1 != nil || err2 != nil || err3 != nil || err4 != nil {
		c.printf("usage: modify <sub> <interval> [lifetime] [keepalive]\n")
		return
	}

	resp, err := call[*opcua.ModifySubscriptionResponse](c.c, &opcua.ModifySubscriptionRequest{
		SubscriptionID:              id,
		RequestedPublishingInterval: interval,
		RequestedLifetimeCount:      lifetime,
		RequestedMaxKeepAliveCount:  keepAlive,
	})
	if err != nil {
		c.printf("error: %v\n", err)
		return
	}
	if sc := resp.ResponseHeader.ServiceResult; sc.IsBad() {
		c.printf("modify: %s\n", sc)
		return
	}
	c.printf("subscription %d: interval=%.0fms lifetime=%d keepalive=%d\n",
		id, resp.RevisedPublishingInterval, resp.RevisedLifetimeCount, resp.RevisedMaxKeepAliveCount)
}

func (c *console) cmdMode(args []string) {
	if len(args) < 2 || (args[0] != "on" && args[0] != "off") {
		c.printf("usage: mode <on|off> <sub>...\n")
		return
	}
	ids, err := argUints(args[1:])
	if err != nil {
		c.printf("error: %v\n", err)
		return
	}

	resp, err := call[*opcua.SetPublishingModeResponse](c.c, &opcua.SetPublishingModeRequest{
		PublishingEnabled: args[0] == "on",
		SubscriptionIDs:   ids,
	})
	if err != nil {
		c.printf("error: %v\n", err)
		return
	}
	c.printResults("mode", resp.ResponseHeader.ServiceResult, ids, resp.Results)
}

func (c *console) cmdItem(args []string) {
	if len(args) < 2 {
		c.printf("usage: item <sub> <node> [queue] [newest]\n")
		return
	}
	subID, err := argUint(args, 0, 0)
	if err != nil {
		c.printf("invalid subscription id %q\n", args[0])
		return
	}
	node, err := opcua.ParseNodeID(args[1])
	if err != nil {
		c.printf("invalid node ID %q: %v\n", args[1], err)
		return
	}
	queue, err := argUint(args, 2, 1)
	if err != nil {
		c.printf("invalid queue size %q\n", args[2])
		return
	}
	discardOldest := len(args) < 4 || args[3] != "newest"

	c.nextHandle++
	handle := c.nextHandle
	resp, err := call[*opcua.CreateMonitoredItemsResponse](c.c, &opcua.CreateMonitoredItemsRequest{
		SubscriptionID:     subID,
		TimestampsToReturn: opcua.TimestampsToReturnBoth,
		ItemsToCreate: []opcua.MonitoredItemCreateRequest{{
			ItemToMonitor:  opcua.ReadValueID{NodeID: node, AttributeID: opcua.AttributeValue},
			MonitoringMode: opcua.MonitoringModeReporting,
			RequestedParameters: opcua.MonitoringParameters{
				ClientHandle:  handle,
				QueueSize:     queue,
				DiscardOldest: discardOldest,
			},
		}},
	})
	if err != nil {
		c.printf("error: %v\n", err)
		return
	}
	if sc := resp.ResponseHeader.ServiceResult; sc.IsBad() {
		c.printf("item: %s\n", sc)
		return
	}
	r := resp.Results[0]
	if r.StatusCode.IsBad() {
		c.printf("item %s: %s\n", args[1], r.StatusCode)
		return
	}
	c.names[handle] = args[1]
	c.printf("item %d on %s: sampling=%.0fms queue=%d handle=%d\n",
		r.MonitoredItemID, args[1], r.RevisedSamplingInterval, r.RevisedQueueSize, handle)
}

func (c *console) cmdRemoveItem(args []string) {
	if len(args) < 2 {
		c.printf("usage: rmitem <sub> <item>...\n")
		return
	}
	ids, err := argUints(args)
	if err != nil {
		c.printf("error: %v\n", err)
		return
	}

	resp, err := call[*opcua.DeleteMonitoredItemsResponse](c.c, &opcua.DeleteMonitoredItemsRequest{
		SubscriptionID:   ids[0],
		MonitoredItemIDs: ids[1:],
	})
	if err != nil {
		c.printf("error: %v\n", err)
		return
	}
	c.printResults("rmitem", resp.ResponseHeader.ServiceResult, ids[1:], resp.Results)
}

func (c *console) cmdDelete(args []string) {
	ids, err := argUints(args)
	if err != nil {
		c.printf("error: %v\n", err)
		return
	}

	resp, err := call[*opcua.DeleteSubscriptionsResponse](c.c, &opcua.DeleteSubscriptionsRequest{
		SubscriptionIDs: ids,
	})
	if err != nil {
		c.printf("error: %v\n", err)
		return
	}
	c.printResults("delete", resp.ResponseHeader.ServiceResult, ids, resp.Results)
}

func (c *console) printResults(op string, sc opcua.StatusCode, ids []uint32, results []opcua.StatusCode) {
	if sc.IsBad() {
		c.printf("%s: %s\n", op, sc)
		return
	}
	for i, r := range results {
		c.printf("  %d: %s\n", ids[i], r)
	}
}

func (c *console) cmdSet(args []string) {
	if len(args) < 2 {
		c.printf("usage: set <node> <value>\n")
		return
	}
	node, err := opcua.ParseNodeID(args[0])
	if err != nil {
		c.printf("invalid node ID %q: %v\n", args[0], err)
		return
	}
	value := parseValue(strings.Join(args[1:], " "))
	if err := c.e.store.SetValue(node, value); err != nil {
		c.printf("error: %v\n", err)
		return
	}
	c.printf("%s = %v\n", args[0], value)
}

func (c *console) cmdFire(args []string) {
	if len(args) == 0 {
		c.printf("fired %d jobs\n", c.sched.FireAll())
		return
	}
	id, err := argUint(args, 0, 0)
	if err != nil {
		c.printf("invalid subscription id %q\n", args[0])
		return
	}
	sub := c.sess.Subscriptions().Lookup(id)
	if sub == nil {
		c.printf("fire: %s\n", opcua.StatusBadSubscriptionIdInvalid)
		return
	}
	if !c.sched.Fire(sub.JobID()) {
		c.printf("subscription %d has no timed job\n", id)
	}
}

func (c *console) cmdPublish(args []string) {
	acks := make([]opcua.SubscriptionAcknowledgement, 0, len(args))
	for _, a := range args {
		subStr, seqStr, ok := strings.Cut(a, ":")
		sub, err1 := strconv.ParseUint(subStr, 10, 32)
		seq, err2 := strconv.ParseUint(seqStr, 10, 32)
		if !ok || err1 != nil || err2 != nil {
			c.printf("invalid acknowledgement %q (want sub:seq)\n", a)
			return
		}
		acks = append(acks, opcua.SubscriptionAcknowledgement{
			SubscriptionID: uint32(sub),
			SequenceNumber: uint32(seq),
		})
	}

	resp, err := call[*opcua.PublishResponse](c.c, &opcua.PublishRequest{SubscriptionAcknowledgements: acks})
	if err != nil {
		c.printf("error: %v\n", err)
		return
	}
	printPublish(c.rl.Stdout(), resp, c.names)
	if resp.ResponseHeader.ServiceResult.IsGood() {
		c.printf("  available=%v more=%t\n", resp.AvailableSequenceNumbers, resp.MoreNotifications)
	}
}

func (c *console) cmdList() {
	subs := c.sess.Subscriptions().Subscriptions()
	if len(subs) == 0 {
		c.printf("no subscriptions\n")
		return
	}
	for _, sub := range subs {
		p := sub.Parameters()
		c.printf("subscription %d: interval=%.0fms lifetime=%d keepalive=%d enabled=%t seq=%d queued=%d available=%v\n",
			sub.ID(), p.PublishingInterval.Current, p.LifetimeCount.Current, p.KeepAliveCount.Current,
			p.PublishingEnabled, sub.SequenceNumber(), sub.Queued(), sub.AvailableSequenceNumbers())
		for _, itemID := range sub.MonitoredItemIDs() {
			sub.MonitoredItem(itemID, func(m *subscription.MonitoredItem) {
				c.printf("  item %d: %s queued=%d overflows=%d\n",
					itemID, c.names[m.ClientHandle], m.Len(), m.Overflows())
			})
		}
	}
}

func (c *console) cmdMetrics() {
	out, err := yaml.Marshal(c.e.svc.Metrics().Collect())
	if err != nil {
		c.printf("error: %v\n", err)
		return
	}
	c.printf("%s", out)
}
