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
	"io"
	"log/slog"
	"strconv"
	"strings"
	"time"

	opcua "github.com/edgeo-scada/uasub"
	"github.com/edgeo-scada/uasub/config"
	"github.com/edgeo-scada/uasub/eventlog"
	"github.com/edgeo-scada/uasub/nodestore"
	"github.com/edgeo-scada/uasub/scheduler"
	"github.com/edgeo-scada/uasub/service"
	"github.com/edgeo-scada/uasub/session"
	"github.com/edgeo-scada/uasub/subscription"
)

// Demo variables served by every command.
var (
	temperatureNode = opcua.NewNumericNodeID(2, 1)
	pressureNode    = opcua.NewNumericNodeID(2, 2)
	statusNode      = opcua.NewNumericNodeID(2, 3)
)

// engine bundles the node store, sessions and service layer.
type engine struct {
	store    *nodestore.Memory
	sessions *session.Registry
	svc      *service.Service
	file     *eventlog.FileLogger
}

func newEngine(cfg *config.Config, sched scheduler.Scheduler, logger *slog.Logger) (*engine, error) {
	e := &engine{store: nodestore.NewMemory()}
	if err := e.addDemoNodes(); err != nil {
		return nil, err
	}

	var events eventlog.Logger = eventlog.NewSlogAdapter(logger)
	if cfg.EventLog != "" {
		f, err := eventlog.NewFileLogger(cfg.EventLog)
		if err != nil {
			return nil, err
		}
		e.file = f
		events = eventlog.MultiLogger{f, events}
	}

	opts := append(cfg.SessionOptions(),
		session.WithLogger(logger),
		session.WithSubscriptionOptions(subscription.WithExpireHandler(func(id uint32) {
			e.svc.SubscriptionExpired(id)
		})),
	)
	e.sessions = session.NewRegistry(e.store, sched, opts...)
	e.svc = service.New(e.sessions,
		service.WithLogger(logger),
		service.WithEventLogger(events),
	)
	return e, nil
}

func (e *engine) addDemoNodes() error {
	vars := []struct {
		id    opcua.NodeID
		name  string
		value interface{}
	}{
		{temperatureNode, "Temperature", 25.5},
		{pressureNode, "Pressure", 101.325},
		{statusNode, "Status", "Running"},
	}
	for _, v := range vars {
		if err := e.store.AddVariable(v.id, v.name, v.value); err != nil {
			return err
		}
	}
	return nil
}

func (e *engine) close() error {
	e.sessions.CloseAll()
	if e.file != nil {
		return e.file.Close()
	}
	return nil
}

// client issues requests on behalf of one session.
type client struct {
	svc    *service.Service
	token  opcua.NodeID
	handle uint32
}

func newClient(svc *service.Service, sess *session.Session) *client {
	return &client{svc: svc, token: sess.AuthenticationToken}
}

func (c *client) nextHeader() opcua.RequestHeader {
	c.handle++
	return opcua.RequestHeader{
		AuthenticationToken: c.token,
		Timestamp:           opcua.Now(),
		RequestHandle:       c.handle,
	}
}

// call dispatches req and asserts the response type. A service fault is
// returned as an error.
func call[T any](c *client, req opcua.Request) (T, error) {
	var zero T
	*req.Header() = c.nextHeader()

	resp, err := c.svc.Dispatch(req)
	if err != nil {
		return zero, err
	}
	if fault, ok := resp.(*opcua.ServiceFault); ok {
		return zero, opcua.NewOPCUAError(req.ServiceID(), fault.ResponseHeader.ServiceResult, "")
	}
	out, ok := resp.(T)
	if !ok {
		return zero, fmt.Errorf("unexpected %s response %T", req.ServiceID(), resp)
	}
	return out, nil
}

// printPublish writes one line per notification in resp. names maps client
// handles to display names.
func printPublish(w io.Writer, resp *opcua.PublishResponse, names map[uint32]string) {
	if sc := resp.ResponseHeader.ServiceResult; sc.IsBad() {
		fmt.Fprintf(w, "publish: %s\n", sc)
		return
	}
	for i, sc := range resp.Results {
		if sc.IsBad() {
			fmt.Fprintf(w, "  ack[%d]: %s\n", i, sc)
		}
	}

	msg := resp.NotificationMessage
	ts := msg.PublishTime.Time().Local().Format("15:04:05.000")
	if msg.IsKeepAlive() {
		fmt.Fprintf(w, "[%s] sub=%d seq=%d keepalive\n", ts, resp.SubscriptionID, msg.SequenceNumber)
		return
	}
	for _, n := range msg.DataChanges() {
		name := names[n.ClientHandle]
		if name == "" {
			name = fmt.Sprintf("handle=%d", n.ClientHandle)
		}
		var value interface{}
		if n.Value.Value != nil {
			value = n.Value.Value.Value
		}
		fmt.Fprintf(w, "[%s] sub=%d seq=%d %s = %v (%s)\n",
			ts, resp.SubscriptionID, msg.SequenceNumber, name, value, n.Value.StatusCode)
	}
}

var knownServices = []opcua.ServiceID{
	opcua.ServiceCreateSubscription,
	opcua.ServiceModifySubscription,
	opcua.ServiceSetPublishingMode,
	opcua.ServiceCreateMonitoredItems,
	opcua.ServiceDeleteMonitoredItems,
	opcua.ServiceDeleteSubscriptions,
	opcua.ServicePublish,
}

// parseService resolves a service name. The empty name selects none.
func parseService(name string) (opcua.ServiceID, error) {
	if name == "" {
		return 0, nil
	}
	for _, svc := range knownServices {
		if strings.EqualFold(svc.String(), name) {
			return svc, nil
		}
	}
	return 0, fmt.Errorf("unknown service: %s", name)
}

// parseValue reads a console literal as an integer, float, boolean or string.
func parseValue(s string) interface{} {
	if i, err := strconv.ParseInt(s, 10, 32); err == nil {
		return int32(i)
	}
	if f, err := strconv.ParseFloat(s, 64); err == nil {
		return f
	}
	if b, err := strconv.ParseBool(s); err == nil {
		return b
	}
	return s
}

func formatDuration(d time.Duration) string {
	if d < time.Millisecond {
		return d.String()
	}
	return d.Round(10 * time.Microsecond).String()
}
