package services

import (
	"context"
	"net"
	"strconv"
	"time"

	"nodewatch/utils"
)

// TCPProber checks peer liveness by opening a TCP connection to the peer port.
type TCPProber struct {
	dialer  *net.Dialer
	timeout time.Duration
	margin  float64
}

func NewTCPProber(timeout time.Duration, margin float64) *TCPProber {
	return &TCPProber{
		dialer:  &net.Dialer{Timeout: timeout},
		timeout: timeout,
		margin:  margin,
	}
}

func (p *TCPProber) Probe(ctx context.Context, host string, port int) bool {
	addr := net.JoinHostPort(host, strconv.Itoa(port))
	_, err := utils.CallWithTimeout(ctx, utils.RaceTimeout(p.timeout, p.margin), func(ctx context.Context) (struct{}, error) {
		conn, err := p.dialer.DialContext(ctx, "tcp", addr)
		if err != nil {
			return struct{}{}, err
		}
		return struct{}{}, conn.Close()
	})
	return err == nil
}
