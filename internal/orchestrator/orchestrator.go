// Copyright (c) Fan Club Authors.
// All rights reserved.
// Use of this source code is governed by a MIT-style
// license that can be found in the LICENSE file.

// Package orchestrator assembles every master subsystem into one running
// process (spec §4.8): the Archive, slave.Manager, UDP broadcaster and
// listener, per-slave command links, the local acquisition/filter
// pipeline, the PI controller, the CSV data logger, and the optional
// telemetry bridge. It owns the shutdown ordering spec §4.8 requires:
// controller, then data logger, then network (broadcaster/listener/
// links), then acquisition/filter, then the archive.
package orchestrator

import (
	"context"
	"fmt"
	"net"
	"strconv"
	"sync"
	"time"

	"github.com/fanclub/master/internal/acquisition"
	"github.com/fanclub/master/internal/checkpoint"
	"github.com/fanclub/master/internal/config"
	"github.com/fanclub/master/internal/control"
	"github.com/fanclub/master/internal/datalog"
	"github.com/fanclub/master/internal/filter"
	"github.com/fanclub/master/internal/history"
	"github.com/fanclub/master/internal/netio"
	"github.com/fanclub/master/internal/scripting"
	"github.com/fanclub/master/internal/slave"
	"github.com/fanclub/master/internal/telemetry"
	"github.com/fanclub/master/pkg/log"
	"github.com/fanclub/master/pkg/schema"
)

// Orchestrator owns every running subsystem of one master process.
type Orchestrator struct {
	archive *config.Archive
	slaves  *slave.Manager

	broadcaster *netio.Broadcaster
	listener    *netio.Listener

	linksMu sync.Mutex
	links   map[string]*netio.SlaveLink // by MAC
	addrMAC map[string]string           // "ip:port" -> MAC, learned from Announce

	acquirer   *acquisition.Acquirer
	processor  *filter.Processor
	controller *control.Controller
	logger     *datalog.Logger
	checkpoint *checkpoint.Store
	scripts    *scripting.Cache
	history    *history.Store

	metrics *telemetry.Metrics
	bridge  *telemetry.Bridge

	subMu       sync.Mutex
	subscribers []func(*schema.FeedbackVector)

	passcode     string
	listenerPort int
	maxFans      int
	decimals     int
	maxTimeouts  int
	retryPeriod  time.Duration

	scriptMu  sync.Mutex
	dutyFn    *scripting.ScriptFunction
	startedAt time.Time
	stepCount int

	lastOverflows int64

	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// New builds every subsystem from the Archive's current configuration
// but starts nothing; call Run to start.
func New(archive *config.Archive, metrics *telemetry.Metrics, bridge *telemetry.Bridge, historyStore *history.Store) (*Orchestrator, error) {
	passcode := archive.Get("passcode").(string)
	listenerPort := toInt(archive.Get("listenerPort"))
	broadcastIP := archive.Get("broadcastIP").(string)
	broadcastPort := toInt(archive.Get("broadcastPort"))
	maxFans := toInt(archive.Get("maxFans"))
	decimals := toInt(archive.Get("decimals"))
	maxTimeouts := toInt(archive.Get("maxTimeouts"))
	samplingRateHz := toInt(archive.Get("samplingRateHz"))
	channels := toInt(archive.Get("channels"))
	resolutionBits := toInt(archive.Get("resolutionBits"))
	checkpointDepth := toInt(archive.Get("checkpointDepth"))
	checkpointPath := archive.Get("checkpointPath").(string)

	broadcaster, err := netio.NewBroadcaster(broadcastIP, broadcastPort, listenerPort, passcode)
	if err != nil {
		return nil, fmt.Errorf("orchestrator: broadcaster: %w", err)
	}
	listener, err := netio.NewListener(listenerPort)
	if err != nil {
		return nil, fmt.Errorf("orchestrator: listener: %w", err)
	}

	acqCfg := acquisition.Config{
		SamplingRateHz: samplingRateHz,
		ResolutionBits: resolutionBits,
		Channels:       channels,
		PreferReal:     false,
	}
	acquirer, err := acquisition.New(acqCfg, acquisition.NewSimulated(), acquisition.NewSimulated(), 4096)
	if err != nil {
		return nil, fmt.Errorf("orchestrator: acquirer: %w", err)
	}
	chains := make(map[int]*filter.Chain, channels)
	for ch := 0; ch < channels; ch++ {
		iir, err := filter.NewIIR(filter.Lowpass, 2, 0.3, 0)
		if err != nil {
			return nil, fmt.Errorf("orchestrator: default filter chain for channel %d: %w", ch, err)
		}
		chains[ch] = filter.NewChain(iir)
	}
	processor := filter.NewProcessor(acquirer, chains, 64, 256)

	cp, err := checkpoint.Open(checkpointPath, checkpointDepth)
	if err != nil {
		return nil, fmt.Errorf("orchestrator: checkpoint: %w", err)
	}

	o := &Orchestrator{
		archive:      archive,
		slaves:       slave.New(maxFans, decimals, maxTimeouts),
		broadcaster:  broadcaster,
		listener:     listener,
		links:        make(map[string]*netio.SlaveLink),
		addrMAC:      make(map[string]string),
		acquirer:     acquirer,
		processor:    processor,
		controller:   control.New(decimals),
		checkpoint:   cp,
		scripts:      scripting.NewCache(16),
		history:      historyStore,
		metrics:      metrics,
		bridge:       bridge,
		passcode:     passcode,
		listenerPort: listenerPort,
		maxFans:      maxFans,
		decimals:     decimals,
		maxTimeouts:  maxTimeouts,
		retryPeriod:  200 * time.Millisecond,
	}

	o.slaves.SetControlSink(o.sendControlToSlave)
	processor.OnBatch(func(batch filter.Batch) error {
		for _, fs := range batch {
			cp.Record(fs)
		}
		return nil
	})

	if dutyScript, _ := archive.Get("dutyScript").(string); dutyScript != "" {
		if err := o.SetDutyScript(dutyScript); err != nil {
			log.Warnf("orchestrator: configured duty script rejected, open-loop mode will sit idle: %v", err)
		}
	}

	return o, nil
}

// SetDutyScript compiles and installs the script driving open-loop duty
// cycles (spec §4.10). An empty source clears the active script.
func (o *Orchestrator) SetDutyScript(source string) error {
	o.scriptMu.Lock()
	defer o.scriptMu.Unlock()
	if source == "" {
		o.dutyFn = nil
		return nil
	}
	fn, err := o.scripts.Get(source)
	if err != nil {
		return err
	}
	o.dutyFn = fn
	o.startedAt = time.Now()
	return nil
}

// runOpenLoopScript evaluates the active duty script for every fan of
// every known, connected slave and pushes the result directly to the
// wire (spec §4.10); it only runs while the Controller is in OpenLoop
// mode, since ClosedLoop duty comes from the PI loop instead.
func (o *Orchestrator) runOpenLoopScript(fv *schema.FeedbackVector, now time.Time) {
	o.scriptMu.Lock()
	fn := o.dutyFn
	started := o.startedAt
	o.stepCount++
	step := o.stepCount
	o.scriptMu.Unlock()
	if fn == nil {
		return
	}

	sv := o.slaves.SlavesVector()
	for _, s := range sv {
		if s.Status != schema.Connected {
			continue
		}
		for fan := 0; fan < fv.MaxFans; fan++ {
			dutyScaled, ok, err := o.evalDutyForFan(fn, fv, s.Index, fan, now, started, step)
			if err != nil {
				log.Warnf("orchestrator: duty script evaluation failed for slave %d fan %d: %v", s.Index, fan, err)
				continue
			}
			if !ok {
				continue
			}
			if err := o.sendControlToSlave(s.MAC, fan, dutyScaled); err != nil {
				log.Warnf("orchestrator: open-loop duty send failed for %s fan %d: %v", s.MAC, fan, err)
			}
		}
	}
}

// evalDutyForFan resolves one fan's slot in fv and, if it carries a real
// (non-sentinel) reading, evaluates the duty script against it. ok is
// false for a RIP/PAD slot or any other unresolved reading: spec.md §8
// requires that scripted duty functions never see a raw RIP/PAD sentinel.
func (o *Orchestrator) evalDutyForFan(fn *scripting.ScriptFunction, fv *schema.FeedbackVector, slaveIdx, fan int, now, started time.Time, step int) (dutyScaled int, ok bool, err error) {
	rpm, err := fv.RPMAt(slaveIdx, fan)
	if err != nil || rpm == schema.RIP || rpm == schema.PAD {
		return 0, false, nil
	}
	dc, err := fv.DCAt(slaveIdx, fan)
	if err != nil || dc == schema.RIP || dc == schema.PAD {
		return 0, false, nil
	}
	vars := scripting.Vars{
		Slave: slaveIdx, Fan: fan,
		DC: scaledDecimalFraction(dc, o.decimals), RPM: float64(rpm),
		T: now.Sub(started).Seconds(), Step: step,
	}
	result, err := fn.Eval(vars)
	if err != nil {
		return 0, false, err
	}
	return int(result * pow10(o.decimals+2)), true, nil
}

func scaledDecimalFraction(v, decimals int) float64 {
	return float64(v) / pow10(decimals+2)
}

func pow10(n int) float64 {
	r := 1.0
	for i := 0; i < n; i++ {
		r *= 10
	}
	return r
}

func toInt(v any) int {
	switch n := v.(type) {
	case int:
		return n
	case int64:
		return int(n)
	case float64:
		return int(n)
	default:
		return 0
	}
}

// Checkpoint exposes the rolling sample store so the maintenance
// scheduler can flush it on its own cadence (spec §4.11).
func (o *Orchestrator) Checkpoint() *checkpoint.Store { return o.checkpoint }

// Subscribe registers a callback invoked with every freshly published
// feedback vector (spec §5 publish/subscribe fan-out). Callbacks run
// synchronously on the tick goroutine and must not block.
func (o *Orchestrator) Subscribe(cb func(*schema.FeedbackVector)) {
	o.subMu.Lock()
	defer o.subMu.Unlock()
	o.subscribers = append(o.subscribers, cb)
}

func (o *Orchestrator) notify(fv *schema.FeedbackVector) {
	o.subMu.Lock()
	subs := append([]func(*schema.FeedbackVector){}, o.subscribers...)
	o.subMu.Unlock()
	// Each subscriber gets its own copy (spec §5 shared-resource policy):
	// fv is also handed to the datalog writer and the telemetry bridge
	// this same tick, so a subscriber mutating its vector must not be
	// able to corrupt what those other consumers see.
	for _, cb := range subs {
		cb(fv.Clone())
	}
}

// StartLogging opens the CSV data logger for this run (spec §4.7).
func (o *Orchestrator) StartLogging(path string, dutyScript string) error {
	modules := make([]datalog.ModuleEntry, 0, o.slaves.Count())
	for _, sl := range o.slaves.SlavesVector() {
		modules = append(modules, datalog.ModuleEntry{Index: sl.Index, Name: sl.Name, MAC: sl.MAC})
	}
	l, err := datalog.Start(path, datalog.HeaderInfo{
		Version:    fmt.Sprintf("%d", config.Version),
		Modules:    modules,
		MaxFans:    o.maxFans,
		NumSlaves:  len(modules),
		DutyScript: dutyScript,
	}, 256)
	if err != nil {
		return err
	}
	o.logger = l
	return nil
}

// Run starts every subsystem and blocks the tick loop until ctx is
// cancelled (spec §4.8). controlPeriod governs both the controller and
// the slave-timeout-scan tick.
func (o *Orchestrator) Run(ctx context.Context, controlPeriod, broadcastPeriod time.Duration) {
	runCtx, cancel := context.WithCancel(ctx)
	o.cancel = cancel

	o.wg.Add(1)
	go func() { defer o.wg.Done(); o.listener.Run(runCtx) }()
	o.wg.Add(1)
	go func() { defer o.wg.Done(); o.broadcaster.Run(runCtx, broadcastPeriod) }()
	o.wg.Add(1)
	go func() { defer o.wg.Done(); o.acquirer.Run(runCtx) }()
	o.wg.Add(1)
	go func() { defer o.wg.Done(); o.processor.Run(runCtx, controlPeriod) }()
	o.wg.Add(1)
	go func() { defer o.wg.Done(); o.consumeInbound(runCtx) }()
	o.wg.Add(1)
	go func() { defer o.wg.Done(); o.consumeDisconnections(runCtx) }()
	o.wg.Add(1)
	go func() {
		defer o.wg.Done()
		o.controller.Run(runCtx, controlPeriod, o.slaves.FeedbackVector, o.applyControllerOutput)
	}()
	if o.archive.Get("autoTuneEnabled") == true {
		o.wg.Add(1)
		go func() { defer o.wg.Done(); o.controller.RunAutoTune(runCtx) }()
	}

	o.tickLoop(runCtx, controlPeriod)
}

func (o *Orchestrator) tickLoop(ctx context.Context, period time.Duration) {
	ticker := time.NewTicker(period)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case now := <-ticker.C:
			o.slaves.Tick(now, period)
			fv := o.slaves.FeedbackVector()
			if o.controller.Mode() == control.OpenLoop {
				o.runOpenLoopScript(fv, now)
			}
			o.notify(fv)
			if o.logger != nil {
				o.logger.Log(fv)
			}
			if o.bridge != nil {
				if data, err := telemetry.EncodeFeedback(fv, now); err == nil {
					o.bridge.Publish(data)
				}
			}
			if o.metrics != nil {
				o.metrics.ConnectedSlaves.Set(float64(connectedCount(o.slaves.SlavesVector())))
				o.metrics.QueueOverflows.Add(float64(o.acquirer.Stats().QueueOverflows - o.lastOverflows))
				o.lastOverflows = o.acquirer.Stats().QueueOverflows
			}
		}
	}
}

func connectedCount(sv schema.SlavesVector) int {
	n := 0
	for _, s := range sv {
		if s.Status == schema.Connected {
			n++
		}
	}
	return n
}

func (o *Orchestrator) consumeInbound(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		case in, ok := <-o.listener.Inbound():
			if !ok {
				return
			}
			o.handleFrame(in)
		}
	}
}

func (o *Orchestrator) handleFrame(in netio.Inbound) {
	f := in.Frame
	switch f.Kind {
	case netio.FrameAnnounce:
		if f.Passcode != o.passcode {
			log.Warnf("orchestrator: dropping announce with wrong passcode from %s", in.From)
			return
		}
		o.linksMu.Lock()
		o.addrMAC[in.From.String()] = f.MAC
		o.linksMu.Unlock()
		// The wire protocol has one frame for both the first-contact
		// discovery reply and later re-announces, so the event fired
		// depends on the slave's current status: Available slaves only
		// ever reach Known here; a subsequent announce from a Known
		// slave is what promotes it to Connected (spec.md §8 Scenario
		// Test #1; internal/slave/manager.go's EventDiscover/
		// EventConnectReply split).
		event := slave.EventConnectReply
		if cur, ok := o.slaves.Slave(f.MAC); !ok || cur.Status == schema.Available {
			event = slave.EventDiscover
		}
		o.slaves.Observe(slave.WireMessage{
			MAC: f.MAC, Event: event,
			Endpoint: &schema.Endpoint{IP: in.From.IP.String(), ListenPort: f.ListenPort, FeedPort: in.From.Port},
			FanCount: f.FanCount, Version: f.Version,
		})
		o.ensureLink(f.MAC, in.From.IP.String(), f.ListenPort)
		if o.history != nil {
			_ = o.history.Record(history.Event{MAC: f.MAC, Kind: history.EventConnected, At: time.Now(), IP: in.From.IP.String(), FanCount: f.FanCount, Version: f.Version})
		}
	case netio.FrameFeedback:
		o.linksMu.Lock()
		mac := o.addrMAC[in.From.String()]
		link := o.links[mac]
		o.linksMu.Unlock()
		if mac == "" {
			return
		}
		if link != nil {
			link.Ack(f.Seq)
		}
		o.slaves.Observe(slave.WireMessage{MAC: mac, Event: slave.EventFeedback, RPM: f.RPM, DC: f.DC})
	}
}

func (o *Orchestrator) ensureLink(mac, ip string, port int) {
	o.linksMu.Lock()
	defer o.linksMu.Unlock()
	if _, ok := o.links[mac]; ok {
		return
	}
	addr := &net.UDPAddr{IP: net.ParseIP(ip), Port: port}
	o.links[mac] = netio.NewSlaveLink(o.listener.Conn(), mac, o.passcode, addr, o.maxTimeouts, o.retryPeriod, func(mac string) {
		o.slaves.Observe(slave.WireMessage{MAC: mac, Event: slave.EventHeartbeat})
	})
}

func (o *Orchestrator) consumeDisconnections(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		case ev, ok := <-o.slaves.Disconnections():
			if !ok {
				return
			}
			o.linksMu.Lock()
			delete(o.links, ev.MAC)
			o.linksMu.Unlock()
			if o.history != nil {
				_ = o.history.Record(history.Event{MAC: ev.MAC, SlaveIndex: ev.Index, Kind: history.EventDisconnected, At: ev.At})
			}
		}
	}
}

func (o *Orchestrator) sendControlToSlave(mac string, fan int, dutyScaled int) error {
	o.linksMu.Lock()
	link := o.links[mac]
	o.linksMu.Unlock()
	if link == nil {
		return fmt.Errorf("orchestrator: no link for slave %s", mac)
	}
	_, err := link.Send(netio.CmdDCSingle, strconv.Itoa(fan), strconv.Itoa(dutyScaled))
	if err != nil && o.metrics != nil {
		o.metrics.ControllerErrors.Inc()
	}
	return err
}

func (o *Orchestrator) applyControllerOutput(slaveIndex, fan int, dutyScaled int) {
	sv := o.slaves.SlavesVector()
	if slaveIndex < 0 || slaveIndex >= len(sv) {
		return
	}
	mac := sv[slaveIndex].MAC
	if err := o.sendControlToSlave(mac, fan, dutyScaled); err != nil {
		log.Warnf("orchestrator: control apply failed for %s fan %d: %v", mac, fan, err)
	}
}

// NetworkVector implements api.VectorSource.
func (o *Orchestrator) NetworkVector() schema.NetworkVector {
	broadcastIP := o.archive.Get("broadcastIP").(string)
	broadcastPort := toInt(o.archive.Get("broadcastPort"))
	return o.slaves.NetworkVector(true, "", broadcastIP, broadcastPort, o.listenerPort)
}

// SlavesVector implements api.VectorSource.
func (o *Orchestrator) SlavesVector() schema.SlavesVector { return o.slaves.SlavesVector() }

// FeedbackVector implements api.VectorSource.
func (o *Orchestrator) FeedbackVector() *schema.FeedbackVector { return o.slaves.FeedbackVector() }

// SubmitControl implements api.VectorSource.
func (o *Orchestrator) SubmitControl(cv schema.ControlVector) error {
	if o.metrics != nil {
		o.metrics.ControlReceived.Inc()
	}
	return o.slaves.Control(cv)
}

// Shutdown stops every subsystem in the order spec §4.8 requires:
// controller, data logger, network (broadcaster/listener/links),
// acquisition/filter, then the caller closes the Archive itself.
func (o *Orchestrator) Shutdown() {
	if o.cancel != nil {
		o.cancel()
	}
	o.controller.Stop(o.applyControllerOutput)
	if o.logger != nil {
		o.logger.Stop(2 * time.Second)
	}
	_ = o.broadcaster.Close()
	_ = o.listener.Close()
	o.wg.Wait()
}
