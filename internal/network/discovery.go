package network

import (
	"context"
	"encoding/json"
	"fmt"
	"net"
	"net/http"
	"strconv"
	"strings"
	"sync"
	"time"
)

const probeTimeout = 500 * time.Millisecond

// DiscoveredExecutor is an executor that answered a health probe.
type DiscoveredExecutor struct {
	Addr      string `json:"addr"`
	Clients   int    `json:"clients"`
	Steps     int    `json:"steps"`
	Running   bool   `json:"running"`
	Recording bool   `json:"recording"`
}

// URL is the websocket endpoint of the executor.
func (d DiscoveredExecutor) URL() string {
	return "ws://" + d.Addr + "/ws"
}

// GetLocalIP returns the primary local IPv4 address.
func GetLocalIP() (string, error) {
	conn, err := net.Dial("udp", "8.8.8.8:80")
	if err != nil {
		return "", err
	}
	defer conn.Close()

	localAddr := conn.LocalAddr().(*net.UDPAddr)
	return localAddr.IP.String(), nil
}

// ScanLAN probes every host of the local /24 for an executor on port.
func ScanLAN(ctx context.Context, port int) ([]DiscoveredExecutor, error) {
	localIP, err := GetLocalIP()
	if err != nil {
		return nil, fmt.Errorf("failed to get local IP: %w", err)
	}

	parts := strings.Split(localIP, ".")
	if len(parts) != 4 {
		return nil, fmt.Errorf("invalid IP address format: %s", localIP)
	}
	subnet := strings.Join(parts[:3], ".")

	addrs := make([]string, 0, 254)
	for i := 1; i <= 254; i++ {
		addrs = append(addrs, net.JoinHostPort(subnet+"."+strconv.Itoa(i), strconv.Itoa(port)))
	}
	return Probe(ctx, addrs), nil
}

// Probe checks each host:port concurrently and returns those that answer,
// in the order given.
func Probe(ctx context.Context, addrs []string) []DiscoveredExecutor {
	client := &http.Client{Timeout: probeTimeout}
	found := make([]*DiscoveredExecutor, len(addrs))

	var wg sync.WaitGroup
	for i, addr := range addrs {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if d, ok := probeHost(ctx, client, addr); ok {
				found[i] = &d
			}
		}()
	}
	wg.Wait()

	var out []DiscoveredExecutor
	for _, d := range found {
		if d != nil {
			out = append(out, *d)
		}
	}
	return out
}

func probeHost(ctx context.Context, client *http.Client, addr string) (DiscoveredExecutor, bool) {
	ctx, cancel := context.WithTimeout(ctx, probeTimeout)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, "http://"+addr+"/health", nil)
	if err != nil {
		return DiscoveredExecutor{}, false
	}
	resp, err := client.Do(req)
	if err != nil {
		return DiscoveredExecutor{}, false
	}
	defer resp.Body.Close()

	// An executor behind a token still counts as found.
	switch resp.StatusCode {
	case http.StatusOK:
	case http.StatusUnauthorized:
		return DiscoveredExecutor{Addr: addr}, true
	default:
		return DiscoveredExecutor{}, false
	}

	d := DiscoveredExecutor{Addr: addr}
	var status struct {
		Status    string `json:"status"`
		Clients   int    `json:"clients"`
		Steps     int    `json:"steps"`
		Running   bool   `json:"running"`
		Recording bool   `json:"recording"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&status); err != nil || status.Status != "ok" {
		return DiscoveredExecutor{}, false
	}
	d.Clients = status.Clients
	d.Steps = status.Steps
	d.Running = status.Running
	d.Recording = status.Recording
	return d, true
}
