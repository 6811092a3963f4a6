// Command h2tclient dials a server, opens a handful of concurrent streams,
// and prints each one's headers, messages, and terminal status. It exists
// as a runnable smoke test for the transport, grounded on the teacher's own
// examples/client demo.
package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"sync"
	"time"

	transport "github.com/cqmrzeng/h2transport"
)

type printListener struct {
	id int
}

func (l *printListener) OnHeaders(md transport.Metadata) {
	fmt.Printf("[%d] headers: %v\n", l.id, md)
}

func (l *printListener) OnMessage(msg []byte) {
	fmt.Printf("[%d] message: %d bytes\n", l.id, len(msg))
}

func (l *printListener) OnClose(status *transport.Status, trailers transport.Metadata) {
	fmt.Printf("[%d] closed: %s trailers=%v\n", l.id, status, trailers)
}

func main() {
	addr := flag.String("addr", "localhost:8443", "server address")
	calls := flag.Int("calls", 5, "number of concurrent streams to open")
	method := flag.String("method", "Echo", "RPC method name")
	flag.Parse()

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	tr, err := transport.New(ctx, &transport.Dialer{Addr: *addr})
	if err != nil {
		log.Fatalf("dial %s: %v", *addr, err)
	}
	defer tr.Stop()

	var wg sync.WaitGroup
	for i := 0; i < *calls; i++ {
		wg.Add(1)
		go func(id int) {
			defer wg.Done()
			l := &printListener{id: id}
			if _, err := tr.NewStream(transport.RequestHeaders{Method: *method}, l); err != nil {
				log.Printf("[%d] new stream: %v", id, err)
			}
		}(i)
	}

	wg.Wait()
}
