// Package classifier adapts the pop3 package's pure, stateless parser
// into a stream-oriented traffic classifier: something that can sit in
// front of a net.Conn and decide whether the bytes flowing over it are
// POP3, without terminating the connection or interpreting it as a
// POP3 server or client itself.
//
// The read loop is shaped after the Client accept/handle loop in the
// teacher daemon this module grew out of, but it never dispatches
// commands or writes a reply: it only accumulates octets and asks
// pop3.Probe for a verdict.
package classifier

import (
	"bufio"
	"context"
	"crypto/tls"
	"io"
	"net"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/sirupsen/logrus"

	pop3 "github.com/kiwiz/pop3parse"
)

// Logger is satisfied by *logrus.Logger. It mirrors the logging
// interface the daemon this package is adapted from expects of its
// caller, so a host application can plug in whatever logger it already
// uses elsewhere.
type Logger interface {
	Printf(format string, v ...interface{})
	Println(v ...interface{})
}

var (
	verdictsTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "pop3_classifier_verdicts_total",
		Help: "Count of Probe verdicts reached by the classifier, by verdict.",
	}, []string{"verdict"})

	flagsTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "pop3_classifier_conformance_flags_total",
		Help: "Count of conformance flags seen on messages that parsed but were marked Unrecognized.",
	}, []string{"flag"})
)

func init() {
	prometheus.MustRegister(verdictsTotal, flagsTotal)
}

// DefaultMaxBufferedOctets bounds how much of a connection's leading
// bytes the classifier will accumulate before giving up and declaring
// the stream Unrecognized. It comfortably exceeds both RFC 2449 line
// limits the pop3 package enforces, so a genuine POP3 greeting or
// command is never starved of room to complete.
const DefaultMaxBufferedOctets = 4096

// ReadChunkSize is the size of each net.Conn.Read the classifier
// issues while accumulating a probe buffer.
const ReadChunkSize = 512

// Config controls a Sniffer's behavior. The zero value is usable:
// Direction defaults to pop3.DirectionUnknown, MaxBufferedOctets to
// DefaultMaxBufferedOctets, and Logger to a logrus logger that
// discards output.
type Config struct {
	// Direction tells the underlying Parse call which grammar to
	// attempt. Most callers classifying an unknown inbound
	// connection want the default, DirectionUnknown.
	Direction pop3.Direction

	// MaxBufferedOctets caps how many leading bytes of the
	// connection the classifier will buffer before concluding the
	// stream is Unrecognized. Zero means DefaultMaxBufferedOctets.
	MaxBufferedOctets int

	// Logger receives one diagnostic line per verdict. Nil means a
	// logrus.Logger with output discarded.
	Logger Logger

	// TLSConfig, if non-nil, is used by DialAndClassify to establish
	// the connection as TLS before classification begins — the shape
	// of the teacher's own TLS listener variant, repurposed here as
	// a dialer option instead of a server option.
	TLSConfig *tls.Config
}

func (c Config) maxBufferedOctets() int {
	if c.MaxBufferedOctets <= 0 {
		return DefaultMaxBufferedOctets
	}
	return c.MaxBufferedOctets
}

func (c Config) logger() Logger {
	if c.Logger != nil {
		return c.Logger
	}
	l := logrus.New()
	l.SetOutput(io.Discard)
	return l
}

// Sniffer classifies a net.Conn's leading bytes as POP3 or not,
// without consuming the connection for any other purpose: the bytes
// it reads are gone (this package does no peeking), so a Sniffer is
// meant to run on a throwaway or soon-to-be-proxied copy of a
// connection, not on a connection a caller intends to keep handling
// directly afterward.
type Sniffer struct {
	cfg Config
}

// NewSniffer builds a Sniffer from cfg.
func NewSniffer(cfg Config) *Sniffer {
	return &Sniffer{cfg: cfg}
}

// Classify reads from conn, accumulating octets, until pop3.Probe
// reaches a verdict other than Incomplete, the configured octet
// ceiling is hit, or ctx is cancelled. It returns the final
// ProbeStatus and the octets read, so a caller that wants to forward
// the connection onward can replay them ahead of any further reads.
func (s *Sniffer) Classify(ctx context.Context, conn net.Conn) (pop3.ProbeStatus, []byte, error) {
	log := s.cfg.logger()
	reader := bufio.NewReader(conn)
	buf := make([]byte, 0, ReadChunkSize)
	chunk := make([]byte, ReadChunkSize)

	for {
		if deadline, ok := ctx.Deadline(); ok {
			_ = conn.SetReadDeadline(deadline)
		}

		status := pop3.Probe(buf, s.cfg.Direction)
		if status != pop3.Incomplete {
			s.record(status, buf)
			log.Printf("classifier: verdict=%s buffered=%d", status, len(buf))
			return status, buf, nil
		}

		if len(buf) >= s.cfg.maxBufferedOctets() {
			s.record(pop3.Unrecognized, buf)
			log.Println("classifier: octet ceiling reached without a verdict, declaring Unrecognized")
			return pop3.Unrecognized, buf, nil
		}

		n, err := readWithContext(ctx, conn, reader, chunk)
		if n > 0 {
			buf = append(buf, chunk[:n]...)
		}
		if err != nil {
			if n == 0 {
				return pop3.Incomplete, buf, err
			}
			// Fall through: re-probe the bytes we did get before
			// reporting the read error on the next empty read.
		}
	}
}

// readWithContext runs one r.Read in a goroutine and returns as soon as
// either the read completes or ctx is done. A plain net.Conn has no
// context-aware Read, and SetReadDeadline alone can't help a context
// that carries a cancel func but no deadline, so cancellation is
// enforced by closing conn to unblock the pending read — the same way
// a blocked read is interrupted elsewhere in net-based servers.
func readWithContext(ctx context.Context, conn net.Conn, r io.Reader, buf []byte) (int, error) {
	type result struct {
		n   int
		err error
	}
	done := make(chan result, 1)
	go func() {
		n, err := r.Read(buf)
		done <- result{n, err}
	}()

	select {
	case res := <-done:
		return res.n, res.err
	case <-ctx.Done():
		_ = conn.Close()
		<-done // wait for the goroutine so it never leaks
		return 0, ctx.Err()
	}
}

// record tallies a verdict, and — when the verdict is Unrecognized
// because of a conformance violation rather than a hard grammar
// failure — the specific flags that tripped it.
func (s *Sniffer) record(status pop3.ProbeStatus, buf []byte) {
	verdictsTotal.WithLabelValues(status.String()).Inc()
	if status != pop3.Unrecognized {
		return
	}
	_, msg, err := pop3.Parse(buf, s.cfg.Direction)
	if err != nil {
		return
	}
	for _, f := range []pop3.ErrorFlag{
		pop3.FlagCommandTooLong,
		pop3.FlagIncorrectArgumentNum,
		pop3.FlagUnknownKeyword,
		pop3.FlagResponseTooLong,
	} {
		if msg.Flags.Has(f) {
			flagsTotal.WithLabelValues(f.String()).Inc()
		}
	}
}

// DialAndClassify dials network/address — through s.cfg.TLSConfig if
// set — and classifies the resulting connection, closing it before
// returning.
func (s *Sniffer) DialAndClassify(ctx context.Context, network, address string) (pop3.ProbeStatus, error) {
	var conn net.Conn
	var err error
	if s.cfg.TLSConfig != nil {
		var d tls.Dialer
		d.Config = s.cfg.TLSConfig
		conn, err = d.DialContext(ctx, network, address)
	} else {
		var d net.Dialer
		conn, err = d.DialContext(ctx, network, address)
	}
	if err != nil {
		return pop3.Unrecognized, err
	}
	defer conn.Close()

	status, _, err := s.Classify(ctx, conn)
	return status, err
}
