// Package tcp implements the TCP listener loop: bind, accept
// connections, hand each one to a Handler, and shut down cleanly on a
// signal or when told to close.
package tcp

import (
	"context"
	"net"
	"os"
	"os/signal"
	"sync"
	"syscall"

	"github.com/altilium/altilium/logging"
)

// Handler processes one accepted connection until it closes, and can
// be told to stop accepting new work.
type Handler interface {
	Handle(ctx context.Context, conn net.Conn)
	Close() error
}

// Config configures the listener.
type Config struct {
	Address string
}

// ListenAndServeWithSignal binds Address and serves connections until
// a termination signal arrives.
func ListenAndServeWithSignal(cfg *Config, handler Handler, log logging.Logger) error {
	closeChan := make(chan struct{})
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGHUP, syscall.SIGQUIT, syscall.SIGTERM, syscall.SIGINT)
	go func() {
		sig := <-sigCh
		log.Info("received signal, shutting down", "signal", sig.String())
		close(closeChan)
	}()

	listener, err := net.Listen("tcp", cfg.Address)
	if err != nil {
		return err
	}
	log.Info("listening", "addr", cfg.Address)

	ListenAndServe(listener, handler, closeChan, log)
	return nil
}

// ListenAndServe accepts connections on listener until closeChan
// fires, dispatching each to handler.Handle in its own goroutine, and
// waits for every in-flight connection to finish before returning.
func ListenAndServe(listener net.Listener, handler Handler, closeChan <-chan struct{}, log logging.Logger) {
	go func() {
		<-closeChan
		_ = listener.Close()
		_ = handler.Close()
	}()

	defer func() {
		_ = listener.Close()
		_ = handler.Close()
	}()

	ctx := context.Background()
	var wg sync.WaitGroup
	for {
		conn, err := listener.Accept()
		if err != nil {
			break
		}
		log.Debug("accepted connection", "remote", conn.RemoteAddr().String())
		wg.Add(1)
		go func() {
			defer wg.Done()
			handler.Handle(ctx, conn)
		}()
	}
	wg.Wait()
}
