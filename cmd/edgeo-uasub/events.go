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
	"errors"
	"fmt"
	"io"
	"strings"

	"github.com/spf13/cobra"

	"github.com/edgeo-scada/uasub/eventlog"
)

var eventsCmd = &cobra.Command{
	Use:   "events <file>",
	Short: "Print a recorded service event log",
	Long: `Decode a CBOR event log written with --event-log and print one line per
handled request.

Examples:
  edgeo-uasub events events.cbor
  edgeo-uasub events events.cbor --service Publish --subscription 3
  edgeo-uasub events events.cbor --bad-only`,
	Args: cobra.ExactArgs(1),
	RunE: runEvents,
}

var (
	eventsSession      string
	eventsService      string
	eventsSubscription uint32
	eventsBadOnly      bool
)

func init() {
	eventsCmd.Flags().StringVar(&eventsSession, "session", "", "Only events of this session ID")
	eventsCmd.Flags().StringVar(&eventsService, "service", "", "Only events of this service (e.g. Publish)")
	eventsCmd.Flags().Uint32Var(&eventsSubscription, "subscription", 0, "Only events of this subscription ID")
	eventsCmd.Flags().BoolVar(&eventsBadOnly, "bad-only", false, "Only events with a bad result")
}

func runEvents(cmd *cobra.Command, args []string) error {
	svc, err := parseService(eventsService)
	if err != nil {
		return err
	}

	r, err := eventlog.NewReader(args[0], eventlog.Filter{
		SessionID:      eventsSession,
		Service:        svc,
		SubscriptionID: eventsSubscription,
		BadOnly:        eventsBadOnly,
	})
	if err != nil {
		return err
	}
	defer r.Close()

	w := cmd.OutOrStdout()
	n := 0
	for {
		e, err := r.Next()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return err
		}
		printEvent(w, e)
		n++
	}
	fmt.Fprintf(w, "%d events\n", n)
	return nil
}

func printEvent(w io.Writer, e eventlog.Event) {
	var b strings.Builder
	fmt.Fprintf(&b, "%s %-20s %s", e.Timestamp.Local().Format("2006-01-02 15:04:05.000"), e.Service, e.StatusCode)
	if e.SubscriptionID != 0 {
		fmt.Fprintf(&b, " sub=%d", e.SubscriptionID)
	}
	if e.SequenceNumber != 0 {
		fmt.Fprintf(&b, " seq=%d", e.SequenceNumber)
	}
	if e.KeepAlive {
		b.WriteString(" keepalive")
	}
	if e.Items > 0 {
		fmt.Fprintf(&b, " items=%d", e.Items)
	}
	if failed := e.Failed(); failed > 0 {
		fmt.Fprintf(&b, " failed=%d", failed)
	}
	fmt.Fprintf(&b, " session=%s took=%s", e.SessionID, formatDuration(e.Duration))
	fmt.Fprintln(w, b.String())
}
