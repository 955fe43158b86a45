// Connectivity monitor: the platform connectivity signal for the daemon.
package main

import (
	"context"
	gosync "sync"
	"time"

	"github.com/notabene-app/notabene-core/internal/gateway"
	syncpkg "github.com/notabene-app/notabene-core/internal/sync"
)

// ConnectivityMonitor probes the backend health endpoint on an interval
// and feeds the result to the sync manager. The manager handles the
// online-transition sync trigger itself.
type ConnectivityMonitor struct {
	client   *gateway.Client
	manager  *syncpkg.Manager
	interval time.Duration

	stopCh chan struct{}
	wg     gosync.WaitGroup
}

// NewConnectivityMonitor creates a monitor over the backend client.
func NewConnectivityMonitor(client *gateway.Client, manager *syncpkg.Manager, interval time.Duration) *ConnectivityMonitor {
	return &ConnectivityMonitor{
		client:   client,
		manager:  manager,
		interval: interval,
		stopCh:   make(chan struct{}),
	}
}

// Start probes immediately, then on every interval tick.
func (m *ConnectivityMonitor) Start() {
	m.wg.Add(1)
	go func() {
		defer m.wg.Done()

		m.probe()
		ticker := time.NewTicker(m.interval)
		defer ticker.Stop()

		for {
			select {
			case <-m.stopCh:
				return
			case <-ticker.C:
				m.probe()
			}
		}
	}()
}

// Stop halts probing. The last observed state remains in effect.
func (m *ConnectivityMonitor) Stop() {
	close(m.stopCh)
	m.wg.Wait()
}

func (m *ConnectivityMonitor) probe() {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	m.manager.SetOnline(m.client.Health(ctx) == nil)
}
