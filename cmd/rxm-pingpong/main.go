// Command rxm-pingpong drives a pair of rxm endpoints over an in-process
// loopback transport, sending tagged messages of increasing size from the
// ping endpoint to the pong endpoint to exercise the eager inline, eager
// buffered and rendezvous send paths in one run.
package main

import (
	"flag"
	"fmt"
	"os"
	"time"

	"github.com/go-rxm/rxm"
	"github.com/go-rxm/rxm/internal/cmap"
	"github.com/go-rxm/rxm/internal/iface"
	"github.com/go-rxm/rxm/internal/logging"
	"github.com/go-rxm/rxm/internal/looptransport"
)

func main() {
	rounds := flag.Int("rounds", 10, "number of ping/pong rounds")
	size := flag.Int("size", 64, "payload size in bytes for the first round; doubles each round")
	flag.Parse()

	logger := logging.NewLogger(&logging.Config{Level: logging.LevelWarn, Output: os.Stderr})

	pingTr, pongTr := looptransport.NewPair()

	pingHandle := looptransport.HandleFor(pongTr)
	pongHandle := looptransport.HandleFor(pingTr)

	pingCmap := cmap.New(constResolver{pingHandle})
	pongCmap := cmap.New(constResolver{pongHandle})

	params := rxm.DefaultEndpointParams()
	params.Logger = logger

	ping, err := rxm.Open(pingTr, pingCmap, params)
	if err != nil {
		fmt.Fprintln(os.Stderr, "open ping endpoint:", err)
		os.Exit(1)
	}
	pong, err := rxm.Open(pongTr, pongCmap, params)
	if err != nil {
		fmt.Fprintln(os.Stderr, "open pong endpoint:", err)
		os.Exit(1)
	}

	for _, ep := range []*rxm.Endpoint{ping, pong} {
		if err := ep.Bind(); err != nil {
			fmt.Fprintln(os.Stderr, "bind:", err)
			os.Exit(1)
		}
		if err := ep.Enable(); err != nil {
			fmt.Fprintln(os.Stderr, "enable:", err)
			os.Exit(1)
		}
	}
	defer ping.Close()
	defer pong.Close()

	payloadSize := *size
	for round := 0; round < *rounds; round++ {
		runRound(ping, pong, round, payloadSize)
		payloadSize *= 2
	}
}

func runRound(ping, pong *rxm.Endpoint, round, size int) {
	const tag = 0x50 // "ping" class tag

	out := make([]byte, size)
	for i := range out {
		out[i] = byte(round)
	}
	in := make([]byte, size)

	if err := pong.TRecv(rxm.AnyAddr, in, tag, 0, "pong-recv", 0); err != nil {
		fmt.Fprintln(os.Stderr, "pong recv:", err)
		os.Exit(1)
	}
	if err := ping.TSend(rxm.AnyAddr, out, tag, "ping-send", 0); err != nil {
		fmt.Fprintln(os.Stderr, "ping send:", err)
		os.Exit(1)
	}

	deadline := time.Now().Add(time.Second)
	sendDone, recvDone := false, false
	for {
		_ = ping.ProgressMulti()
		_ = pong.ProgressMulti()

		sendDone = drain(ping, "ping-send") || sendDone
		recvDone = drain(pong, "pong-recv") || recvDone
		if sendDone && recvDone {
			break
		}
		if time.Now().After(deadline) {
			fmt.Fprintln(os.Stderr, "round", round, "timed out waiting for completion")
			os.Exit(1)
		}
	}

	fmt.Printf("round %d: sent and received %d bytes (tag=%#x)\n", round, size, tag)
}

func drain(ep *rxm.Endpoint, want string) bool {
	for _, c := range ep.ReadCQ(0) {
		if c.Context == want {
			if c.Err != nil {
				fmt.Fprintln(os.Stderr, want, "completed with error:", c.Err)
				os.Exit(1)
			}
			return true
		}
	}
	return false
}

type constResolver struct {
	handle iface.ConnHandle
}

func (r constResolver) Resolve(addr uint64) (iface.ConnHandle, error) {
	return r.handle, nil
}
