package ingest

import (
	"bufio"
	"context"
	"errors"
	"net"
	"time"
)

const SourceTCPStream = "tcp_stream"

const acceptBackoff = 100 * time.Millisecond

// StartTCPStream listens for newline-delimited readings and returns the
// bound address, or nil when the source is disabled or cannot listen.
func StartTCPStream(ctx context.Context, p *Pipeline) net.Addr {
	current := p.cfg.Get().Ingest.TCPStream
	if !current.Enabled {
		p.logger.Info("tcp stream ingest disabled")
		return nil
	}
	ln, err := net.Listen("tcp", current.Addr)
	if err != nil {
		p.logger.Error("tcp stream listen error", "err", err)
		return nil
	}
	p.logger.Info("tcp stream ingest enabled", "addr", ln.Addr().String())
	go func() {
		<-ctx.Done()
		_ = ln.Close()
	}()
	go acceptTCPStream(ctx, p, ln)
	return ln.Addr()
}

func acceptTCPStream(ctx context.Context, p *Pipeline, ln net.Listener) {
	for {
		conn, err := ln.Accept()
		if err != nil {
			if errors.Is(err, net.ErrClosed) {
				return
			}
			p.logger.Warn("tcp stream accept error", "err", err)
			if !BackoffSleep(ctx, acceptBackoff) {
				return
			}
			continue
		}
		go handleTCPStreamConn(ctx, p, conn)
	}
}

func handleTCPStreamConn(ctx context.Context, p *Pipeline, conn net.Conn) {
	defer conn.Close()
	stop := context.AfterFunc(ctx, func() { _ = conn.Close() })
	defer stop()
	// Each connection may send its own CSV header.
	parser := NewParser()
	scanner := bufio.NewScanner(conn)
	scanner.Buffer(make([]byte, 0, 8192), 1024*1024)
	for scanner.Scan() {
		p.Handle(ctx, parser, scanner.Text(), SourceTCPStream)
		if ctx.Err() != nil {
			return
		}
	}
	if err := scanner.Err(); err != nil && ctx.Err() == nil && !errors.Is(err, net.ErrClosed) {
		p.logger.Warn("tcp stream scanner error", "err", err)
	}
}
